// Package envelope wraps snapshot bytes in authenticated ciphertext.
//
// Tokens use the Fernet format (AES-128-CBC with an HMAC-SHA256 signature),
// so a table encrypted with a 32-byte key can be read by any Fernet
// implementation holding the same key.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"
)

// DefaultKeySize is the number of random bytes in a generated key
const DefaultKeySize = 32

// the smallest amount of key material we accept, in bytes
const MinKeySize = 16

// fernetKeySize is the length of a raw Fernet key (signing half + encryption half)
const fernetKeySize = 32

// info string bound into keys stretched with HKDF
const hkdfInfo = "burpdb snapshot key"

var (
	// ErrInvalidKey means the key is empty, not URL-safe base64, or too short
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrDecryption means the token was not produced with this key or was altered
	ErrDecryption = errors.New("decryption failed: wrong key or corrupted ciphertext")
)

// GenerateKey returns size random bytes encoded as padded URL-safe base64
func GenerateKey(size int) (string, error) {
	if size <= 0 {
		size = DefaultKeySize
	}
	if size < MinKeySize {
		return "", fmt.Errorf("%w: key size must be at least %d bytes (got %d)",
			ErrInvalidKey, MinKeySize, size)
	}

	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to read random key bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

// Cipher seals and opens snapshot payloads with one key
type Cipher struct {
	key *fernet.Key
}

// NewCipher builds a cipher from an encoded key.
// Keys of exactly 32 bytes are used as-is; other lengths are stretched with HKDF-SHA256.
func NewCipher(key string) (*Cipher, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}

	var fk fernet.Key
	if len(raw) == fernetKeySize {
		copy(fk[:], raw)
	} else {
		r := hkdf.New(sha256.New, raw, nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(r, fk[:]); err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
	}

	return &Cipher{key: &fk}, nil
}

func decodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}

	raw, err := base64.URLEncoding.DecodeString(key)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: not URL-safe base64", ErrInvalidKey)
	}
	if len(raw) < MinKeySize {
		return nil, fmt.Errorf("%w: key must decode to at least %d bytes (got %d)",
			ErrInvalidKey, MinKeySize, len(raw))
	}
	return raw, nil
}

// Seal encrypts and signs plaintext, returning an ASCII token
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	token, err := fernet.EncryptAndSign(plaintext, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}
	return token, nil
}

// Open verifies and decrypts a token produced by Seal.
// Tokens never expire.
func (c *Cipher) Open(token []byte) ([]byte, error) {
	token = []byte(strings.TrimSpace(string(token)))
	if len(token) == 0 {
		return nil, ErrDecryption
	}

	plaintext := fernet.VerifyAndDecrypt(token, -1*time.Second, []*fernet.Key{c.key})
	if plaintext == nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
