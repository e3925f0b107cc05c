package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrDecryptionFailed is returned when a stored secret cannot be decrypted
// with the provided key. Callers branch on it with errors.Is instead of
// comparing sentinel strings.
var ErrDecryptionFailed = errors.New("secret decryption failed")

// KeyProvider supplies the symmetric key used to seal and reveal secrets.
type KeyProvider interface {
	Key() ([]byte, error)
}

// StaticKey is a KeyProvider backed by a fixed 32-byte key.
type StaticKey []byte

func (k StaticKey) Key() ([]byte, error) {
	if len(k) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(k))
	}
	return []byte(k), nil
}

// Secret holds an encrypted credential value. The zero value is an empty
// secret; empty plaintexts round-trip as empty secrets.
type Secret struct {
	ciphertext string
}

// FromCiphertext rebuilds a Secret from its stored representation.
func FromCiphertext(ciphertext string) Secret {
	return Secret{ciphertext: ciphertext}
}

// Ciphertext returns the stored representation for persistence.
func (s Secret) Ciphertext() string {
	return s.ciphertext
}

// IsZero reports whether the secret has no stored value.
func (s Secret) IsZero() bool {
	return s.ciphertext == ""
}

// Encrypt seals a plaintext with AES-256-GCM under the provider's key.
func Encrypt(provider KeyProvider, plaintext string) (Secret, error) {
	if plaintext == "" {
		return Secret{}, nil
	}

	gcm, err := newGCM(provider)
	if err != nil {
		return Secret{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Secret{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return Secret{ciphertext: base64.RawURLEncoding.EncodeToString(sealed)}, nil
}

// Reveal decrypts the secret. A tampered ciphertext or wrong key yields
// ErrDecryptionFailed.
func (s Secret) Reveal(provider KeyProvider) (string, error) {
	if s.ciphertext == "" {
		return "", nil
	}

	gcm, err := newGCM(provider)
	if err != nil {
		return "", err
	}

	raw, err := base64.RawURLEncoding.DecodeString(s.ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func newGCM(provider KeyProvider) (cipher.AEAD, error) {
	key, err := provider.Key()
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init gcm: %w", err)
	}
	return gcm, nil
}
