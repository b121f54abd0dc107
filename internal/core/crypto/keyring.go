// Package crypto holds the server's long-lived RSA keypair along with the
// session key exchange and the symmetric sealing used once a key is agreed.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	ErrNoPrivateKey     = errors.New("keyring has no private key")
	ErrUnsupportedKey   = errors.New("unsupported key type")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Keyring is an RSA keypair loaded once at startup and treated as read-only
// for the lifetime of the process.
type Keyring struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// NewKeyring wraps an existing private key.
func NewKeyring(key *rsa.PrivateKey) *Keyring {
	return &Keyring{private: key, public: &key.PublicKey}
}

// GenerateKeyring creates a new keypair with the given modulus size.
func GenerateKeyring(bits int) (*Keyring, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("error generating RSA key: %w", err)
	}
	return NewKeyring(key), nil
}

// LoadKeyring reads a PEM encoded private key and, optionally, the matching
// public key. When publicKeyFile is empty the public half is derived from
// the private key.
func LoadKeyring(privateKeyFile, publicKeyFile string) (*Keyring, error) {
	privatePEM, err := os.ReadFile(privateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("error reading private key: %w", err)
	}
	private, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	k := NewKeyring(private)

	if publicKeyFile != "" {
		publicPEM, err := os.ReadFile(publicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("error reading public key: %w", err)
		}
		if k.public, err = ParsePublicKey(publicPEM); err != nil {
			return nil, err
		}
		if !k.public.Equal(&private.PublicKey) {
			return nil, fmt.Errorf("public key %s does not match private key %s", publicKeyFile, privateKeyFile)
		}
	}
	return k, nil
}

// ParsePrivateKey decodes a PKCS#1 ("RSA PRIVATE KEY") or PKCS#8
// ("PRIVATE KEY") PEM block.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("%w: PEM block %q", ErrUnsupportedKey, block.Type)
	}
}

// ParsePublicKey decodes a PKIX ("PUBLIC KEY") or PKCS#1 ("RSA PUBLIC KEY")
// PEM block.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in public key")
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("%w: PEM block %q", ErrUnsupportedKey, block.Type)
	}
}

// PublicKey returns the public half of the keypair.
func (k *Keyring) PublicKey() *rsa.PublicKey { return k.public }

// EncodePrivateKey returns the private key as a PKCS#1 PEM block.
func (k *Keyring) EncodePrivateKey() ([]byte, error) {
	if k.private == nil {
		return nil, ErrNoPrivateKey
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k.private),
	}), nil
}

// EncodePublicKey returns the public key as a PKIX PEM block.
func (k *Keyring) EncodePublicKey() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.public)
	if err != nil {
		return nil, fmt.Errorf("error marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Encrypt encrypts plaintext to the keyring's public key using RSA-OAEP
// with SHA-256.
func (k *Keyring) Encrypt(plaintext []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, k.public, plaintext, nil)
}

// Decrypt reverses Encrypt.
func (k *Keyring) Decrypt(ciphertext []byte) ([]byte, error) {
	if k.private == nil {
		return nil, ErrNoPrivateKey
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, k.private, ciphertext, nil)
}

// Sign returns a PKCS#1 v1.5 signature over the SHA-256 digest of message.
func (k *Keyring) Sign(message []byte) ([]byte, error) {
	if k.private == nil {
		return nil, ErrNoPrivateKey
	}
	digest := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA256, digest[:])
}

// Verify checks a signature produced by Sign.
func (k *Keyring) Verify(message, signature []byte) error {
	return VerifySignature(k.public, message, signature)
}

// VerifySignature checks a Sign signature against an arbitrary public key.
func VerifySignature(key *rsa.PublicKey, message, signature []byte) error {
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
