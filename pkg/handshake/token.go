// Package handshake issues and verifies the signed bearer credential a
// client presents when opening a socket connection. A token carries its own
// issuance and expiry window, so verification needs no server-side session
// state.
package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is used when the caller does not supply a positive TTL.
const DefaultTTL = 300 * time.Second

// Reason identifies why a token failed verification. The values double as
// log fields, so they stay short and snake_cased.
type Reason string

const (
	ReasonMissingSecret    Reason = "missing_secret"
	ReasonMissingToken     Reason = "missing_token"
	ReasonMissingUserID    Reason = "missing_user_id"
	ReasonInvalidFormat    Reason = "invalid_format"
	ReasonInvalidTimestamp Reason = "invalid_timestamp"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonExpired          Reason = "expired"
)

// Token is an issued credential together with its validity window.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CreateOptions control token issuance. IssuedAt defaults to the current
// time and TTL to DefaultTTL when not positive.
type CreateOptions struct {
	UserID   string
	Secret   string
	IssuedAt time.Time
	TTL      time.Duration
}

// Result is the outcome of a verification. IssuedAt/ExpiresAt are only set
// when Valid is true.
type Result struct {
	Valid     bool
	Reason    Reason
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Create issues a token of the form "<issuedAt>.<expiresAt>.<hexSignature>"
// with millisecond epoch timestamps.
func Create(opts CreateOptions) (Token, error) {
	if opts.Secret == "" {
		return Token{}, errors.New("handshake: secret must not be empty")
	}
	if opts.UserID == "" {
		return Token{}, errors.New("handshake: user id must not be empty")
	}

	issuedAt := opts.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	issuedMs := issuedAt.UnixMilli()
	expiresMs := issuedAt.Add(ttl).UnixMilli()
	sig := sign(opts.Secret, opts.UserID, issuedMs, expiresMs)

	return Token{
		Value:     fmt.Sprintf("%d.%d.%s", issuedMs, expiresMs, sig),
		IssuedAt:  time.UnixMilli(issuedMs),
		ExpiresAt: time.UnixMilli(expiresMs),
	}, nil
}

// Verify checks a token against the claimed user id. Checks run in a fixed
// order and the first failure wins. A zero now means time.Now().
func Verify(token, userID, secret string, now time.Time) Result {
	if secret == "" {
		return Result{Reason: ReasonMissingSecret}
	}
	if token == "" {
		return Result{Reason: ReasonMissingToken}
	}
	if userID == "" {
		return Result{Reason: ReasonMissingUserID}
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Result{Reason: ReasonInvalidFormat}
	}

	issuedMs, err1 := strconv.ParseInt(parts[0], 10, 64)
	expiresMs, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || expiresMs < issuedMs {
		return Result{Reason: ReasonInvalidTimestamp}
	}

	expected := sign(secret, userID, issuedMs, expiresMs)
	if !constantTimeEqualHex(parts[2], expected) {
		return Result{Reason: ReasonInvalidSignature}
	}

	if now.IsZero() {
		now = time.Now()
	}
	if expiresMs < now.UnixMilli() {
		return Result{Reason: ReasonExpired}
	}

	return Result{
		Valid:     true,
		IssuedAt:  time.UnixMilli(issuedMs),
		ExpiresAt: time.UnixMilli(expiresMs),
	}
}

func sign(secret, userID string, issuedMs, expiresMs int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%d:%d", userID, issuedMs, expiresMs)
	return hex.EncodeToString(mac.Sum(nil))
}

// constantTimeEqualHex compares two hex signatures without leaking timing
// information. Anything that cannot be decoded, or whose length differs,
// counts as a mismatch before the comparator runs.
func constantTimeEqualHex(got, want string) bool {
	gotBytes, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		return false
	}
	if len(gotBytes) != len(wantBytes) {
		return false
	}
	return hmac.Equal(gotBytes, wantBytes)
}
