package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every negotiated session key.
const KeySize = 32

const (
	publicKeySize = 65 // uncompressed P-256 point
	nonceSize     = 36 // textual UUID
	keyInfo       = "gatehouse|session|A256GCM"
)

var ErrHandshakeMalformed = errors.New("malformed handshake")

// KeyExchange negotiates a session key from the payload of a client's
// handshake. It returns the payload of the reply to send back and the key
// both sides will derive. Implementations must not return a key unless the
// exchange succeeded.
type KeyExchange interface {
	Negotiate(clientPayload []byte) (reply []byte, key [KeySize]byte, err error)
}

// ECDHExchange performs an ephemeral ECDH exchange over P-256 and derives the
// session key with HKDF-SHA256, salted with a per-handshake nonce.
//
// The client sends its 65 byte uncompressed public key. The reply is
// the server's public key followed by the nonce and, when Keyring is set, an
// RSA signature over both so that the client can authenticate the server.
type ECDHExchange struct {
	Keyring *Keyring
}

func (e *ECDHExchange) Negotiate(clientPayload []byte) ([]byte, [KeySize]byte, error) {
	var key [KeySize]byte

	peer, err := ecdh.P256().NewPublicKey(clientPayload)
	if err != nil {
		return nil, key, fmt.Errorf("%w: invalid client public key: %v", ErrHandshakeMalformed, err)
	}

	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, key, fmt.Errorf("ECDH key generation failed: %w", err)
	}
	shared, err := private.ECDH(peer)
	if err != nil {
		return nil, key, fmt.Errorf("ECDH failed: %w", err)
	}

	nonce := []byte(uuid.New().String())
	if key, err = deriveKey(shared, nonce); err != nil {
		return nil, key, err
	}

	reply := append(private.PublicKey().Bytes(), nonce...)
	if e.Keyring != nil {
		signature, err := e.Keyring.Sign(reply)
		if err != nil {
			return nil, [KeySize]byte{}, fmt.Errorf("error signing handshake: %w", err)
		}
		reply = append(reply, signature...)
	}

	return reply, key, nil
}

func deriveKey(shared, salt []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	r := hkdf.New(sha256.New, shared, salt, []byte(keyInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("HKDF expand failed: %w", err)
	}
	for i := range shared {
		shared[i] = 0
	}
	return key, nil
}

// ClientHandshake is the client half of ECDHExchange.
type ClientHandshake struct {
	private *ecdh.PrivateKey
}

// NewClientHandshake generates the client's ephemeral key.
func NewClientHandshake() (*ClientHandshake, error) {
	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ECDH key generation failed: %w", err)
	}
	return &ClientHandshake{private: private}, nil
}

// Payload is the body of the Handshake frame.
func (c *ClientHandshake) Payload() []byte {
	return c.private.PublicKey().Bytes()
}

// Complete derives the session key from the server's reply body. If
// serverKey is non-nil the reply must carry a valid signature from it.
func (c *ClientHandshake) Complete(reply []byte, serverKey *rsa.PublicKey) ([KeySize]byte, error) {
	var key [KeySize]byte
	if len(reply) < publicKeySize+nonceSize {
		return key, fmt.Errorf("%w: reply is %d bytes", ErrHandshakeMalformed, len(reply))
	}

	signed := reply[:publicKeySize+nonceSize]
	if serverKey != nil {
		if err := VerifySignature(serverKey, signed, reply[publicKeySize+nonceSize:]); err != nil {
			return key, err
		}
	}

	peer, err := ecdh.P256().NewPublicKey(reply[:publicKeySize])
	if err != nil {
		return key, fmt.Errorf("%w: invalid server public key: %v", ErrHandshakeMalformed, err)
	}
	shared, err := c.private.ECDH(peer)
	if err != nil {
		return key, fmt.Errorf("ECDH failed: %w", err)
	}
	return deriveKey(shared, reply[publicKeySize:publicKeySize+nonceSize])
}
