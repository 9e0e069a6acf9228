// Package slackauth authenticates inbound Slack Events API requests.
package slackauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names set by Slack on every signed request.
const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"
)

const (
	signatureVersion = "v0"

	// DefaultTolerance is the maximum clock difference accepted between
	// the request timestamp and local time, in either direction.
	DefaultTolerance = 60 * time.Second
)

// ErrUnauthenticated is the root of every authentication failure.
var ErrUnauthenticated = errors.New("slack request not authenticated")

// Authentication errors.
var (
	ErrMissingHeaders = fmt.Errorf("%w: missing signature or timestamp header", ErrUnauthenticated)
	ErrStaleRequest   = fmt.Errorf("%w: request timestamp outside tolerance", ErrUnauthenticated)
	ErrBadSignature   = fmt.Errorf("%w: signature mismatch", ErrUnauthenticated)
)

// ErrMalformedBody is returned when an authentic request carries a body that
// is not valid JSON. It is a parse failure, not an authentication failure.
var ErrMalformedBody = errors.New("malformed request body")

// Verifier checks Slack request signatures with a shared signing secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		v.tolerance = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier for the given signing secret.
func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify authenticates body against the signature headers and, on success,
// decodes the JSON body into dst. dst may be nil to skip decoding.
func (v *Verifier) Verify(header http.Header, body []byte, dst any) error {
	signature := strings.TrimSpace(header.Get(HeaderSignature))
	timestamp := strings.TrimSpace(header.Get(HeaderTimestamp))
	if signature == "" || timestamp == "" {
		return ErrMissingHeaders
	}

	if err := v.checkTimestamp(timestamp); err != nil {
		return err
	}

	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrBadSignature
	}

	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}

func (v *Verifier) checkTimestamp(timestamp string) error {
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleRequest
	}

	skew := v.now().Sub(time.Unix(secs, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return ErrStaleRequest
	}
	return nil
}

// Sign returns the "v0=<hex>" signature Slack would send for body at timestamp.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
