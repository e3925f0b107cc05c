package sync

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jcopacetic/definit/internal/crypto"
	"github.com/jcopacetic/definit/internal/domain"
)

const (
	// SignatureHeader carries the base64 HMAC of the request.
	SignatureHeader = "X-HubSpot-Signature-v3"
	// TimestampHeader carries the sender's clock in unix milliseconds.
	TimestampHeader = "X-HubSpot-Request-Timestamp"

	// maxTimestampAge is how far in the past a signed timestamp may be
	// before the request is rejected as a possible replay.
	maxTimestampAge = 300_000 * time.Millisecond
)

var (
	ErrMissingHeader = errors.New("missing signature header")
	ErrBadTimestamp  = errors.New("malformed request timestamp")
	ErrExpired       = errors.New("request timestamp expired")
	ErrBadSignature  = errors.New("signature mismatch")
)

// ValidateSignature checks a webhook request's v3 signature. The signed
// message is the uppercased method, the full request URI, the raw body
// bytes, and the millisecond timestamp, concatenated in that order and
// keyed with the customer's app secret. Comparison is constant-time.
func ValidateSignature(method, uri string, body []byte, signature, timestamp, secret string, now time.Time) error {
	if signature == "" || timestamp == "" {
		return ErrMissingHeader
	}

	millis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadTimestamp, timestamp)
	}
	sent := time.UnixMilli(millis)
	if now.Sub(sent) > maxTimestampAge {
		return ErrExpired
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte(uri))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// requestURI reconstructs the absolute URI the sender signed.
func requestURI(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
			scheme = forwarded
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

type contextKey int

const customerContextKey contextKey = iota

// CustomerFromContext returns the authenticated tenant placed there by the
// signature middleware.
func CustomerFromContext(ctx context.Context) (domain.Customer, bool) {
	customer, ok := ctx.Value(customerContextKey).(domain.Customer)
	return customer, ok
}

// SignatureMiddleware authenticates webhook deliveries. It resolves the
// tenant from the portal id (query parameter first, then the event body),
// verifies the v3 signature with that tenant's app secret, and passes the
// authenticated customer to the next handler via the request context. The
// body is read once here and restored for downstream handlers.
//
// The portal id only selects which secret to verify against; nothing from
// the body is trusted until the signature check passes.
func SignatureMiddleware(customers CustomerSource, keys crypto.KeyProvider, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		portalID := r.URL.Query().Get("portalId")
		if portalID == "" {
			events, err := domain.ParseEvents(body)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
				return
			}
			portalID = strconv.FormatInt(events[0].PortalID, 10)
		}

		customer, err := customers.CustomerByPortalID(r.Context(), portalID)
		if err != nil {
			log.Printf("[SYNC] unknown portal %s: %v", portalID, err)
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown portal"})
			return
		}

		secret, err := customer.HubSpotAppSecret.Reveal(keys)
		if err != nil {
			log.Printf("[SYNC] app secret unreadable for customer %s: %v", customer.ID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}

		err = ValidateSignature(
			r.Method,
			requestURI(r),
			body,
			r.Header.Get(SignatureHeader),
			r.Header.Get(TimestampHeader),
			secret,
			time.Now(),
		)
		if err != nil {
			log.Printf("[SYNC] signature rejected for portal %s: %v", portalID, err)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
			return
		}

		ctx := context.WithValue(r.Context(), customerContextKey, customer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
