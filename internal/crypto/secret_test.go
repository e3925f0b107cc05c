package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testKey(b byte) StaticKey {
	return StaticKey(bytes.Repeat([]byte{b}, 32))
}

func TestSecretRoundTrip(t *testing.T) {
	key := testKey('a')

	secret, err := Encrypt(key, "super-secret-app-key")
	if err != nil {
		t.Fatalf("encrypt returned error: %v", err)
	}
	if secret.IsZero() {
		t.Fatalf("expected non-empty ciphertext")
	}
	if secret.Ciphertext() == "super-secret-app-key" {
		t.Fatalf("ciphertext must not equal plaintext")
	}

	revealed, err := secret.Reveal(key)
	if err != nil {
		t.Fatalf("reveal returned error: %v", err)
	}
	if revealed != "super-secret-app-key" {
		t.Fatalf("unexpected plaintext: %q", revealed)
	}
}

func TestSecretEmptyRoundTrip(t *testing.T) {
	key := testKey('a')

	secret, err := Encrypt(key, "")
	if err != nil {
		t.Fatalf("encrypt returned error: %v", err)
	}
	if !secret.IsZero() {
		t.Fatalf("empty plaintext should produce zero secret")
	}

	revealed, err := secret.Reveal(key)
	if err != nil || revealed != "" {
		t.Fatalf("expected empty reveal, got %q, err %v", revealed, err)
	}
}

func TestSecretWrongKey(t *testing.T) {
	secret, err := Encrypt(testKey('a'), "value")
	if err != nil {
		t.Fatalf("encrypt returned error: %v", err)
	}

	if _, err := secret.Reveal(testKey('b')); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestSecretTamperedCiphertext(t *testing.T) {
	key := testKey('a')
	secret, err := Encrypt(key, "value")
	if err != nil {
		t.Fatalf("encrypt returned error: %v", err)
	}

	raw := []byte(secret.Ciphertext())
	raw[len(raw)-1] ^= 'x'
	tampered := FromCiphertext(string(raw))

	if _, err := tampered.Reveal(key); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestSecretBadKeyLength(t *testing.T) {
	if _, err := Encrypt(StaticKey("short"), "value"); err == nil {
		t.Fatalf("expected error for short key")
	}
}
