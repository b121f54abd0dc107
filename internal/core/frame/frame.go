// Package frame implements the wire framing used between clients and the
// server. Every frame starts with an 8 byte header holding the message kind
// and the payload length (both little endian uint32s) followed by exactly
// that many payload bytes.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of every frame header in bytes.
const HeaderSize = 8

// DefaultMaxPayloadSize is used by readers that weren't given an explicit limit.
const DefaultMaxPayloadSize = 1 << 20

var (
	ErrMalformedHeader  = errors.New("malformed frame header")
	ErrConnectionClosed = errors.New("connection closed mid-frame")
	ErrPayloadTooLarge  = errors.New("frame payload exceeds maximum size")
)

// Kind identifies the type of message carried by a frame.
type Kind uint32

// Frame kinds sent by clients.
const (
	KindHandshake    Kind = 0x01
	KindLoginRequest Kind = 0x02
	KindFetchModule  Kind = 0x03
)

// Frame kinds sent by the server in reply to client frames.
const (
	KindHandshakeReply Kind = 0x81
	KindLoginReply     Kind = 0x82
	KindModuleReply    Kind = 0x83
	KindErrorReply     Kind = 0xFF
)

var kindNames = map[Kind]string{
	KindHandshake:      "Handshake",
	KindLoginRequest:   "LoginRequest",
	KindFetchModule:    "FetchModule",
	KindHandshakeReply: "HandshakeReply",
	KindLoginReply:     "LoginReply",
	KindModuleReply:    "ModuleReply",
	KindErrorReply:     "ErrorReply",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%X)", uint32(k))
}

// Header is the fixed-size prefix of every frame.
type Header struct {
	Kind   Kind
	Length uint32
}

// Frame is one decoded header+payload unit.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Bytes encodes the frame for transmission.
func (f *Frame) Bytes() []byte {
	return Encode(f.Kind, f.Payload)
}

// DecodeHeader extracts the kind and payload length from the first
// HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformedHeader, len(b), HeaderSize)
	}
	return Header{
		Kind:   Kind(binary.LittleEndian.Uint32(b[0:4])),
		Length: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// EncodeHeader writes h into the first HeaderSize bytes of b.
func EncodeHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Kind))
	binary.LittleEndian.PutUint32(b[4:8], h.Length)
}

// Encode returns the header and payload for a frame as one contiguous slice.
func Encode(kind Kind, payload []byte) []byte {
	b := make([]byte, HeaderSize+len(payload))
	EncodeHeader(b, Header{Kind: kind, Length: uint32(len(payload))})
	copy(b[HeaderSize:], payload)
	return b
}

// ReadPayload accumulates exactly length bytes from r. Short reads are retried
// until the payload is complete or the stream closes.
func ReadPayload(r io.Reader, length uint32) ([]byte, error) {
	payload := make([]byte, length)
	if n, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: read %d of %d payload bytes", ErrConnectionClosed, n, length)
		}
		return nil, err
	}
	return payload, nil
}

// Reader decodes frames from a stream, enforcing a maximum payload size so
// that a hostile length field can't force an arbitrarily large allocation.
type Reader struct {
	r              io.Reader
	maxPayloadSize uint32

	// First byte of a header consumed by Next but not yet by ReadHeader.
	first   [1]byte
	pending bool
}

// NewReader returns a Reader over r. A maxPayloadSize of 0 selects
// DefaultMaxPayloadSize.
func NewReader(r io.Reader, maxPayloadSize uint32) *Reader {
	if maxPayloadSize == 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}
	return &Reader{r: r, maxPayloadSize: maxPayloadSize}
}

// Next blocks until the first byte of the next frame has arrived. It returns
// io.EOF if the stream ends cleanly between frames. Calling Next again before
// ReadHeader is a no-op.
func (fr *Reader) Next() error {
	if fr.pending {
		return nil
	}
	if _, err := io.ReadFull(fr.r, fr.first[:]); err != nil {
		return err
	}
	fr.pending = true
	return nil
}

// ReadHeader reads the next header and validates its length.
func (fr *Reader) ReadHeader() (Header, error) {
	if err := fr.Next(); err != nil {
		return Header{}, err
	}
	fr.pending = false

	var buf [HeaderSize]byte
	buf[0] = fr.first[0]
	if _, err := io.ReadFull(fr.r, buf[1:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, fmt.Errorf("%w: partial header", ErrConnectionClosed)
		}
		return Header{}, err
	}

	h, err := DecodeHeader(buf[:])
	if err != nil {
		return h, err
	}
	if h.Length > fr.maxPayloadSize {
		return h, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Length, fr.maxPayloadSize)
	}
	return h, nil
}

// ReadPayload reads the payload belonging to h.
func (fr *Reader) ReadPayload(h Header) (*Frame, error) {
	payload, err := ReadPayload(fr.r, h.Length)
	if err != nil {
		return nil, err
	}
	return &Frame{Kind: h.Kind, Payload: payload}, nil
}

// ReadFrame reads one complete frame.
func (fr *Reader) ReadFrame() (*Frame, error) {
	h, err := fr.ReadHeader()
	if err != nil {
		return nil, err
	}
	return fr.ReadPayload(h)
}
