package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testGuard(policy Policy) (*Guard, *MemoryStore) {
	backend := NewMemoryStore()
	g := New(backend, backend, policy, zerolog.Nop())
	return g, backend
}

func TestRateLimitRollingWindow(t *testing.T) {
	g, backend := testGuard(Policy{MaxRequests: 2, Window: time.Minute})
	now := time.Unix(1_700_000_000, 0).UTC()
	backend.Now = func() time.Time { return now }

	ctx := context.Background()
	if err := g.AllowRequest(ctx, "user-1"); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	if err := g.AllowRequest(ctx, "user-1"); err != nil {
		t.Fatalf("second call should pass: %v", err)
	}

	err := g.AllowRequest(ctx, "user-1")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("third call should be rate limited, got %v", err)
	}
	if rle.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", rle.RetryAfter)
	}

	// Other identifiers are unaffected.
	if err := g.AllowRequest(ctx, "user-2"); err != nil {
		t.Fatalf("unrelated key should pass: %v", err)
	}

	// The window rolls over and the key recovers.
	now = now.Add(61 * time.Second)
	if err := g.AllowRequest(ctx, "user-1"); err != nil {
		t.Fatalf("call after window should pass: %v", err)
	}
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, time.Duration, error) {
	return false, 0, errors.New("backend down")
}

func TestRateLimitFailOpen(t *testing.T) {
	g := New(erroringLimiter{}, nil, Policy{MaxRequests: 2, Window: time.Minute, FailOpen: true}, zerolog.Nop())
	if err := g.AllowRequest(context.Background(), "user-1"); err != nil {
		t.Fatalf("expected fail-open to admit the request, got %v", err)
	}

	g = New(erroringLimiter{}, nil, Policy{MaxRequests: 2, Window: time.Minute, FailOpen: false}, zerolog.Nop())
	if err := g.AllowRequest(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected fail-closed to surface the backend error")
	}
}

func TestCSRFTokenSingleUse(t *testing.T) {
	g, _ := testGuard(Policy{RequireCSRF: true, CSRFTokenTTL: time.Minute})
	ctx := context.Background()

	token, ttl, err := g.IssueCSRFToken(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if token == "" || ttl != time.Minute {
		t.Fatalf("unexpected token issue result %q %v", token, ttl)
	}

	if err := g.CheckCSRFToken(ctx, "user-1", token); err != nil {
		t.Fatalf("first validation should pass: %v", err)
	}
	if err := g.CheckCSRFToken(ctx, "user-1", token); !errors.Is(err, ErrCSRFExpired) {
		t.Fatalf("second validation should fail consumed, got %v", err)
	}
}

func TestCSRFTokenMismatchKeepsStoredToken(t *testing.T) {
	g, _ := testGuard(Policy{RequireCSRF: true, CSRFTokenTTL: time.Minute})
	ctx := context.Background()

	token, _, err := g.IssueCSRFToken(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if err := g.CheckCSRFToken(ctx, "user-1", "not-the-token"); !errors.Is(err, ErrCSRFInvalid) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	// A wrong guess must not consume the real token.
	if err := g.CheckCSRFToken(ctx, "user-1", token); err != nil {
		t.Fatalf("real token should still validate: %v", err)
	}
}

func TestCSRFTokenExpiry(t *testing.T) {
	g, backend := testGuard(Policy{RequireCSRF: true, CSRFTokenTTL: time.Minute})
	now := time.Unix(1_700_000_000, 0).UTC()
	backend.Now = func() time.Time { return now }
	ctx := context.Background()

	token, _, err := g.IssueCSRFToken(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := g.CheckCSRFToken(ctx, "user-1", token); !errors.Is(err, ErrCSRFExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestCSRFEnforcementModes(t *testing.T) {
	ctx := context.Background()

	g, _ := testGuard(Policy{RequireCSRF: true})
	if err := g.CheckCSRFToken(ctx, "user-1", ""); !errors.Is(err, ErrCSRFMissing) {
		t.Fatalf("expected missing-token error when enforced, got %v", err)
	}

	g, _ = testGuard(Policy{RequireCSRF: false})
	if err := g.CheckCSRFToken(ctx, "user-1", ""); err != nil {
		t.Fatalf("expected absent token to pass when not enforced: %v", err)
	}
}
