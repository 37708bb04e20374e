package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertextTooShort signals a stored value that cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// TokenCipher seals gateway card tokens at rest with XChaCha20-Poly1305.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher builds a cipher from a 32 byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d bytes", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenCipher{key: k}, nil
}

// NewTokenCipherFromHex decodes a hex encoded key such as AGROMART_CARD_VAULT_KEY.
func NewTokenCipherFromHex(encoded string) (*TokenCipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode token key: %w", err)
	}
	return NewTokenCipher(key)
}

// Encrypt returns nonce||ciphertext. aad binds the value to its owner so a
// row copied to another buyer fails to open.
func (c *TokenCipher) Encrypt(plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt reverses Encrypt.
func (c *TokenCipher) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt token: %w", err)
	}
	return plaintext, nil
}

// Fingerprint is a keyed BLAKE2b digest used to detect a token that is
// already stored without decrypting every row.
func (c *TokenCipher) Fingerprint(plaintext []byte) (string, error) {
	h, err := blake2b.New256(c.key)
	if err != nil {
		return "", fmt.Errorf("create fingerprint hash: %w", err)
	}
	h.Write(plaintext)
	return hex.EncodeToString(h.Sum(nil)), nil
}
