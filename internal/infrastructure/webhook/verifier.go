package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"proupgrade-backend/internal/domain"
)

const (
	SignatureHeader = "X-Signature"
	bodyHashClaim   = "body_sha256"
)

// Verifier decides whether an inbound webhook may be processed. body is the
// raw request body; implementations must not read r.Body.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// Noop accepts every request.
type Noop struct{}

func (Noop) Verify(*http.Request, []byte) error { return nil }

// APIKey expects SePay's "Authorization: Apikey <key>" header.
type APIKey struct {
	Key string
}

func (v APIKey) Verify(r *http.Request, _ []byte) error {
	got, ok := cutScheme(r.Header.Get("Authorization"), "Apikey")
	if !ok {
		return fmt.Errorf("%w: missing api key", domain.ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(v.Key)) != 1 {
		return fmt.Errorf("%w: api key mismatch", domain.ErrUnauthorized)
	}
	return nil
}

// HMAC expects the hex HMAC-SHA256 of the raw body in X-Signature.
type HMAC struct {
	Secret string
}

func (v HMAC) Verify(r *http.Request, body []byte) error {
	sig := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if sig == "" {
		return fmt.Errorf("%w: signature header required", domain.ErrUnauthorized)
	}
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", domain.ErrUnauthorized)
	}
	if !hmac.Equal(got, Sign([]byte(v.Secret), body)) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrUnauthorized)
	}
	return nil
}

// Sign returns HMAC-SHA256(secret, body).
func Sign(secret, body []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return m.Sum(nil)
}

// JWT expects "Authorization: Bearer <token>" signed with HS256. When the
// token carries a body_sha256 claim it must match the body.
type JWT struct {
	Secret string
}

func (v JWT) Verify(r *http.Request, body []byte) error {
	raw, ok := cutScheme(r.Header.Get("Authorization"), "Bearer")
	if !ok {
		return fmt.Errorf("%w: bearer token required", domain.ErrUnauthorized)
	}
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(v.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return fmt.Errorf("%w: invalid token: %v", domain.ErrUnauthorized, err)
	}
	if want, ok := claims[bodyHashClaim].(string); ok {
		sum := sha256.Sum256(body)
		if !strings.EqualFold(want, hex.EncodeToString(sum[:])) {
			return fmt.Errorf("%w: body hash mismatch", domain.ErrUnauthorized)
		}
	}
	return nil
}

// AnyOf accepts a request when any of its verifiers does. An empty AnyOf
// rejects everything; use New to get Noop for an unconfigured setup.
type AnyOf []Verifier

func (vs AnyOf) Verify(r *http.Request, body []byte) error {
	errs := make([]error, 0, len(vs))
	for _, v := range vs {
		err := v.Verify(r, body)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: no verifier configured", domain.ErrUnauthorized)
	}
	return errors.Join(errs...)
}

// New builds a verifier from whichever secrets are set. With none set every
// webhook is accepted.
func New(apiKey, hmacSecret, jwtSecret string) Verifier {
	var vs AnyOf
	if apiKey != "" {
		vs = append(vs, APIKey{Key: apiKey})
	}
	if hmacSecret != "" {
		vs = append(vs, HMAC{Secret: hmacSecret})
	}
	if jwtSecret != "" {
		vs = append(vs, JWT{Secret: jwtSecret})
	}
	if len(vs) == 0 {
		return Noop{}
	}
	return vs
}

func cutScheme(header, scheme string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) || header[len(scheme)] != ' ' {
		return "", false
	}
	v := strings.TrimSpace(header[len(scheme)+1:])
	return v, v != ""
}
