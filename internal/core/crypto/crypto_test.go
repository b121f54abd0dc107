package crypto

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	testKeyringOnce sync.Once
	testKeyring     *Keyring
)

// sharedKeyring returns one keypair for the whole package since RSA key
// generation is slow.
func sharedKeyring(t *testing.T) *Keyring {
	t.Helper()
	testKeyringOnce.Do(func() {
		k, err := GenerateKeyring(2048)
		if err != nil {
			t.Fatalf("GenerateKeyring() returned an unexpected error: %v", err)
		}
		testKeyring = k
	})
	if testKeyring == nil {
		t.Fatal("test keyring was not initialized")
	}
	return testKeyring
}

func writeKeys(t *testing.T, k *Keyring) (string, string) {
	t.Helper()
	dir := t.TempDir()

	privatePEM, err := k.EncodePrivateKey()
	if err != nil {
		t.Fatalf("EncodePrivateKey() returned an unexpected error: %v", err)
	}
	publicPEM, err := k.EncodePublicKey()
	if err != nil {
		t.Fatalf("EncodePublicKey() returned an unexpected error: %v", err)
	}

	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")
	if err := os.WriteFile(privatePath, privatePEM, 0600); err != nil {
		t.Fatalf("error writing private key: %v", err)
	}
	if err := os.WriteFile(publicPath, publicPEM, 0644); err != nil {
		t.Fatalf("error writing public key: %v", err)
	}
	return privatePath, publicPath
}

func TestLoadKeyring(t *testing.T) {
	k := sharedKeyring(t)
	privatePath, publicPath := writeKeys(t, k)

	for name, pub := range map[string]string{"with_public_key": publicPath, "derived_public_key": ""} {
		t.Run(name, func(t *testing.T) {
			loaded, err := LoadKeyring(privatePath, pub)
			if err != nil {
				t.Fatalf("LoadKeyring() returned an unexpected error: %v", err)
			}
			if !loaded.PublicKey().Equal(k.PublicKey()) {
				t.Error("loaded public key does not match the generated key")
			}
		})
	}

	if _, err := LoadKeyring(filepath.Join(t.TempDir(), "missing.pem"), ""); err == nil {
		t.Error("expected LoadKeyring() to fail for a missing private key")
	}
}

func TestLoadKeyring_MismatchedPublicKey(t *testing.T) {
	privatePath, _ := writeKeys(t, sharedKeyring(t))

	other, err := GenerateKeyring(2048)
	if err != nil {
		t.Fatalf("GenerateKeyring() returned an unexpected error: %v", err)
	}
	_, otherPublic := writeKeys(t, other)

	if _, err := LoadKeyring(privatePath, otherPublic); err == nil {
		t.Error("expected LoadKeyring() to reject a public key from a different pair")
	}
}

func TestParseKeys_Errors(t *testing.T) {
	if _, err := ParsePrivateKey([]byte("not a pem")); err == nil {
		t.Error("expected ParsePrivateKey() to fail without a PEM block")
	}
	if _, err := ParsePublicKey([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")); !errors.Is(err, ErrUnsupportedKey) {
		t.Errorf("expected ErrUnsupportedKey, got %v", err)
	}
}

func TestKeyring_EncryptDecrypt(t *testing.T) {
	k := sharedKeyring(t)
	plaintext := []byte("Username:Password")

	ciphertext, err := k.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() returned an unexpected error: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	got, err := k.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff(plaintext, got); diff != "" {
		t.Errorf("Decrypt() mismatch; diff:\n%s", diff)
	}
}

func TestKeyring_SignVerify(t *testing.T) {
	k := sharedKeyring(t)
	message := []byte("module_id")

	signature, err := k.Sign(message)
	if err != nil {
		t.Fatalf("Sign() returned an unexpected error: %v", err)
	}
	if err := k.Verify(message, signature); err != nil {
		t.Errorf("Verify() returned an unexpected error: %v", err)
	}
	if err := k.Verify([]byte("module_idx"), signature); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for a tampered message, got %v", err)
	}

	public := &Keyring{public: k.PublicKey()}
	if _, err := public.Sign(message); !errors.Is(err, ErrNoPrivateKey) {
		t.Errorf("expected ErrNoPrivateKey from a public-only keyring, got %v", err)
	}
}

func TestECDHExchange(t *testing.T) {
	k := sharedKeyring(t)

	tests := map[string]struct {
		keyring   *Keyring
		serverKey *rsa.PublicKey
	}{
		"unsigned": {},
		"signed":   {keyring: k, serverKey: k.PublicKey()},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			client, err := NewClientHandshake()
			if err != nil {
				t.Fatalf("NewClientHandshake() returned an unexpected error: %v", err)
			}

			server := &ECDHExchange{Keyring: tt.keyring}
			reply, serverKey, err := server.Negotiate(client.Payload())
			if err != nil {
				t.Fatalf("Negotiate() returned an unexpected error: %v", err)
			}
			if serverKey == ([KeySize]byte{}) {
				t.Fatal("Negotiate() returned a zero key")
			}

			clientKey, err := client.Complete(reply, tt.serverKey)
			if err != nil {
				t.Fatalf("Complete() returned an unexpected error: %v", err)
			}
			if clientKey != serverKey {
				t.Error("client and server derived different keys")
			}
		})
	}
}

func TestECDHExchange_TamperedReply(t *testing.T) {
	k := sharedKeyring(t)
	client, err := NewClientHandshake()
	if err != nil {
		t.Fatalf("NewClientHandshake() returned an unexpected error: %v", err)
	}

	reply, _, err := (&ECDHExchange{Keyring: k}).Negotiate(client.Payload())
	if err != nil {
		t.Fatalf("Negotiate() returned an unexpected error: %v", err)
	}
	// Flip a byte of the nonce.
	reply[publicKeySize] ^= 0xFF

	if _, err := client.Complete(reply, k.PublicKey()); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestECDHExchange_MalformedPayload(t *testing.T) {
	for name, payload := range map[string][]byte{
		"empty":           nil,
		"opaque_bytes":    []byte("handshake_data"),
		"not_on_curve":    append([]byte{0x04}, bytes.Repeat([]byte{0x01}, 64)...),
		"truncated_point": bytes.Repeat([]byte{0x04}, 33),
	} {
		t.Run(name, func(t *testing.T) {
			_, key, err := (&ECDHExchange{}).Negotiate(payload)
			if !errors.Is(err, ErrHandshakeMalformed) {
				t.Errorf("expected ErrHandshakeMalformed, got %v", err)
			}
			if key != ([KeySize]byte{}) {
				t.Error("expected no key from a failed exchange")
			}
		})
	}
}

func TestSealOpen(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], bytes.Repeat([]byte{0x42}, KeySize))
	plaintext := []byte("module content")
	aad := []byte("core")

	sealed, err := Seal(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal() returned an unexpected error: %v", err)
	}
	if len(sealed) != gcmNonceSize+len(plaintext)+16 {
		t.Errorf("expected sealed length %d, got %d", gcmNonceSize+len(plaintext)+16, len(sealed))
	}

	got, err := Open(key, sealed, aad)
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff(plaintext, got); diff != "" {
		t.Errorf("Open() mismatch; diff:\n%s", diff)
	}

	if _, err := Open(key, sealed, []byte("other")); err == nil {
		t.Error("expected Open() to fail with different associated data")
	}
	if _, err := Open(key, sealed[:10], aad); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("expected ErrCiphertextTooShort, got %v", err)
	}
}
