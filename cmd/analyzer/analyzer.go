package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/dcrodman/gatehouse/internal/core/debug"
	"github.com/dcrodman/gatehouse/internal/core/frame"
)

// stream accumulates the bytes sent in one direction of a TCP connection
// until they form complete frames.
type stream struct {
	client bool
	peer   string
	buf    []byte
	// Set once a header can't be trusted; the rest of the stream is skipped.
	dropped bool
}

type analyzer struct {
	w          io.Writer
	serverPort layers.TCPPort
	truncate   int
	maxPayload uint32

	streams map[string]*stream
	frames  int
}

// newAnalyzer returns an analyzer for a server on serverPort. A maxPayload of
// 0 selects frame.DefaultMaxPayloadSize.
func newAnalyzer(w io.Writer, serverPort uint16, truncate int, maxPayload uint32) *analyzer {
	if maxPayload == 0 {
		maxPayload = frame.DefaultMaxPayloadSize
	}
	return &analyzer{
		w:          w,
		serverPort: layers.TCPPort(serverPort),
		truncate:   truncate,
		maxPayload: maxPayload,
		streams:    make(map[string]*stream),
	}
}

// handlePacket feeds the TCP payload of packet into its stream. Packets that
// aren't to or from the server port are ignored. Segments are assumed to
// arrive in order; retransmissions are not detected.
func (a *analyzer) handlePacket(packet gopacket.Packet) {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	network := packet.NetworkLayer()
	if tcpLayer == nil || network == nil {
		return
	}
	tcp := tcpLayer.(*layers.TCP)

	var client bool
	switch a.serverPort {
	case tcp.DstPort:
		client = true
	case tcp.SrcPort:
		client = false
	default:
		return
	}

	netFlow := network.NetworkFlow()
	key := netFlow.String() + "/" + tcp.TransportFlow().String()
	s, ok := a.streams[key]
	if !ok {
		peer := netFlow.Dst().String()
		if client {
			peer = netFlow.Src().String()
		}
		s = &stream{client: client, peer: peer}
		a.streams[key] = s
	}

	if len(tcp.Payload) > 0 && !s.dropped {
		s.buf = append(s.buf, tcp.Payload...)
		a.drain(s)
	}
	if tcp.FIN || tcp.RST {
		a.closeStream(key, s)
	}
}

// drain prints every complete frame buffered in s.
func (a *analyzer) drain(s *stream) {
	for len(s.buf) >= frame.HeaderSize {
		header, err := frame.DecodeHeader(s.buf)
		if err != nil {
			return
		}
		if header.Length > a.maxPayload {
			// Most likely the capture started mid-stream.
			fmt.Fprintf(a.w, "[%s] frame length %d exceeds %d, skipping rest of stream\n\n",
				s.peer, header.Length, a.maxPayload)
			s.dropped = true
			s.buf = nil
			return
		}

		end := frame.HeaderSize + int(header.Length)
		if len(s.buf) < end {
			return
		}

		debug.PrintFrame(debug.PrintFrameParams{
			Writer:            a.w,
			Client:            s.peer,
			ClientFrame:       s.client,
			Frame:             &frame.Frame{Kind: header.Kind, Payload: s.buf[frame.HeaderSize:end]},
			TruncateThreshold: a.truncate,
		})
		a.frames++
		s.buf = s.buf[end:]
	}
}

func (a *analyzer) closeStream(key string, s *stream) {
	if len(s.buf) > 0 {
		fmt.Fprintf(a.w, "[%s] stream closed with %d undecoded bytes\n\n", s.peer, len(s.buf))
	}
	delete(a.streams, key)
}

// finish reports streams that never closed and still hold partial frames.
func (a *analyzer) finish() {
	keys := make([]string, 0, len(a.streams))
	for k := range a.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a.closeStream(k, a.streams[k])
	}
	fmt.Fprintf(a.w, "decoded %d frames\n", a.frames)
}
