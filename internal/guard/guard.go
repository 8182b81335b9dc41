// Package guard holds the request-abuse controls: single-use CSRF tokens and
// a rolling-window rate limiter. State lives in Redis in production and in
// process memory in dev mode; both sit behind the same two interfaces.
package guard

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrCSRFMissing = errors.New("csrf token missing")
	ErrCSRFInvalid = errors.New("csrf token invalid")
	ErrCSRFExpired = errors.New("csrf token expired or not issued")
)

type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limited"
}

type Limiter interface {
	// Allow counts one request against the key's window and reports whether
	// it fits under max. retryAfter is only meaningful when allowed is false.
	Allow(ctx context.Context, key string, max int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

type ConsumeResult int

const (
	ConsumeOK ConsumeResult = iota
	ConsumeMismatch
	ConsumeMissing
)

type TokenStore interface {
	SetToken(ctx context.Context, key, hash string, ttl time.Duration) error
	ConsumeToken(ctx context.Context, key, hash string) (ConsumeResult, error)
}

type Policy struct {
	MaxRequests int
	Window      time.Duration
	// FailOpen admits the request when the limiter backend errors.
	// Availability is preferred over strict enforcement here.
	FailOpen     bool
	RequireCSRF  bool
	CSRFTokenTTL time.Duration
}

type Guard struct {
	Limiter Limiter
	Tokens  TokenStore
	Policy  Policy
	Log     zerolog.Logger
}

func New(limiter Limiter, tokens TokenStore, policy Policy, log zerolog.Logger) *Guard {
	if policy.CSRFTokenTTL <= 0 {
		policy.CSRFTokenTTL = 10 * time.Minute
	}
	return &Guard{
		Limiter: limiter,
		Tokens:  tokens,
		Policy:  policy,
		Log:     log.With().Str("component", "guard").Logger(),
	}
}

// AllowRequest applies the rate limit for the identifier (user id or client
// IP). A limiter infrastructure error is logged and, under FailOpen,
// forgiven.
func (g *Guard) AllowRequest(ctx context.Context, key string) error {
	if g == nil || g.Limiter == nil || g.Policy.MaxRequests <= 0 {
		return nil
	}
	allowed, retryAfter, err := g.Limiter.Allow(ctx, key, g.Policy.MaxRequests, g.Policy.Window)
	if err != nil {
		if g.Policy.FailOpen {
			g.Log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, failing open")
			return nil
		}
		return err
	}
	if !allowed {
		return &RateLimitError{RetryAfter: retryAfter}
	}
	return nil
}

// IssueCSRFToken mints a fresh single-use token for the user. Only the
// SHA-256 hash is stored; the raw token goes back to the client once.
func (g *Guard) IssueCSRFToken(ctx context.Context, userID string) (string, time.Duration, error) {
	if g == nil || g.Tokens == nil {
		return "", 0, errors.New("token store not configured")
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", 0, err
	}
	token := hex.EncodeToString(raw)
	if err := g.Tokens.SetToken(ctx, csrfKey(userID), hashToken(token), g.Policy.CSRFTokenTTL); err != nil {
		return "", 0, err
	}
	return token, g.Policy.CSRFTokenTTL, nil
}

// CheckCSRFToken validates and consumes the client-supplied token. When CSRF
// is not enforced an absent token passes, but a supplied token is still
// checked.
func (g *Guard) CheckCSRFToken(ctx context.Context, userID, token string) error {
	if g == nil || g.Tokens == nil {
		return nil
	}
	if token == "" {
		if g.Policy.RequireCSRF {
			return ErrCSRFMissing
		}
		return nil
	}
	result, err := g.Tokens.ConsumeToken(ctx, csrfKey(userID), hashToken(token))
	if err != nil {
		return err
	}
	switch result {
	case ConsumeOK:
		return nil
	case ConsumeMissing:
		return ErrCSRFExpired
	default:
		return ErrCSRFInvalid
	}
}

func csrfKey(userID string) string {
	return "csrf:" + userID
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
