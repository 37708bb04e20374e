package security_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/agromart/agromart-backend/pkg/security"
)

func newCipher(t *testing.T) *security.TokenCipher {
	t.Helper()
	c, err := security.NewTokenCipherFromHex(strings.Repeat("1f", 32))
	if err != nil {
		t.Fatalf("NewTokenCipherFromHex returned error: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newCipher(t)
	plaintext := []byte("C9B3A2F1-TOKEN")
	aad := []byte("buyer-1")

	sealed, err := c.Encrypt(plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("ciphertext must not contain the plaintext token")
	}

	opened, err := c.Decrypt(sealed, aad)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("expected %q got %q", plaintext, opened)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := newCipher(t)
	a, _ := c.Encrypt([]byte("token"), nil)
	b, _ := c.Encrypt([]byte("token"), nil)
	if bytes.Equal(a, b) {
		t.Fatal("expected different ciphertexts for repeated encryption")
	}
}

func TestDecryptRejectsWrongOwner(t *testing.T) {
	c := newCipher(t)
	sealed, err := c.Encrypt([]byte("token"), []byte("buyer-1"))
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if _, err := c.Decrypt(sealed, []byte("buyer-2")); err == nil {
		t.Fatal("expected decrypt with foreign aad to fail")
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	c := newCipher(t)
	if _, err := c.Decrypt([]byte("short"), nil); err != security.ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestNewTokenCipherValidatesKey(t *testing.T) {
	if _, err := security.NewTokenCipher([]byte("too-short")); err == nil {
		t.Fatal("expected short key to fail")
	}
	if _, err := security.NewTokenCipherFromHex("zz"); err == nil {
		t.Fatal("expected invalid hex to fail")
	}
}

func TestFingerprintIsStable(t *testing.T) {
	c := newCipher(t)
	a, err := c.Fingerprint([]byte("token"))
	if err != nil {
		t.Fatalf("Fingerprint returned error: %v", err)
	}
	b, _ := c.Fingerprint([]byte("token"))
	other, _ := c.Fingerprint([]byte("token-2"))
	if a != b {
		t.Fatal("fingerprint should be deterministic")
	}
	if a == other {
		t.Fatal("different tokens must not share a fingerprint")
	}
}
