package sync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func signRequest(method, uri string, body []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte(uri))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignatureAccepts(t *testing.T) {
	now := time.Now()
	timestamp := fmt.Sprintf("%d", now.UnixMilli())
	body := []byte(`{"objectId":9001}`)
	uri := "https://sync.example.com/webhooks/hubspot?portalId=123"
	secret := "app-secret"

	signature := signRequest("POST", uri, body, timestamp, secret)
	if err := ValidateSignature("POST", uri, body, signature, timestamp, secret, now); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestValidateSignatureRejectsBodyMutation(t *testing.T) {
	now := time.Now()
	timestamp := fmt.Sprintf("%d", now.UnixMilli())
	body := []byte(`{"objectId":9001}`)
	uri := "https://sync.example.com/webhooks/hubspot"
	secret := "app-secret"
	signature := signRequest("POST", uri, body, timestamp, secret)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		err := ValidateSignature("POST", uri, mutated, signature, timestamp, secret, now)
		if !errors.Is(err, ErrBadSignature) {
			t.Fatalf("byte %d: expected ErrBadSignature, got %v", i, err)
		}
	}
}

func TestValidateSignatureRejectsExpiredTimestamp(t *testing.T) {
	now := time.Now()
	sent := now.Add(-6 * time.Minute)
	timestamp := fmt.Sprintf("%d", sent.UnixMilli())
	body := []byte(`{}`)
	uri := "https://sync.example.com/webhooks/hubspot"
	secret := "app-secret"

	signature := signRequest("POST", uri, body, timestamp, secret)
	err := ValidateSignature("POST", uri, body, signature, timestamp, secret, now)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidateSignatureRejectsMissingHeaders(t *testing.T) {
	now := time.Now()
	if err := ValidateSignature("POST", "https://x", nil, "", "123", "s", now); !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("expected ErrMissingHeader without signature, got %v", err)
	}
	if err := ValidateSignature("POST", "https://x", nil, "sig", "", "s", now); !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("expected ErrMissingHeader without timestamp, got %v", err)
	}
}

func TestValidateSignatureRejectsMalformedTimestamp(t *testing.T) {
	err := ValidateSignature("POST", "https://x", nil, "sig", "not-a-number", "s", time.Now())
	if !errors.Is(err, ErrBadTimestamp) {
		t.Fatalf("expected ErrBadTimestamp, got %v", err)
	}
}
