package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reverie/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Auth.TokenSigningKey = "test-signing-key"
	cfg.Auth.Issuer = "https://auth.reverie.ink"
	cfg.Auth.Audience = "reverie-api"
	return cfg
}

func signToken(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyBearerAcceptsValidToken(t *testing.T) {
	cfg := testConfig()
	svc := NewService(cfg)
	now := time.Unix(1_700_000_000, 0).UTC()
	svc.Now = func() time.Time { return now }

	raw := signToken(t, cfg.Auth.TokenSigningKey, jwt.MapClaims{
		"sub":   "user-123",
		"email": "dreamer@example.com",
		"iss":   cfg.Auth.Issuer,
		"aud":   cfg.Auth.Audience,
		"exp":   now.Add(time.Hour).Unix(),
	})

	principal, err := svc.VerifyBearer("Bearer " + raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.UserID != "user-123" {
		t.Fatalf("expected user id, got %q", principal.UserID)
	}
	if principal.Email != "dreamer@example.com" {
		t.Fatalf("expected email claim, got %q", principal.Email)
	}
}

func TestVerifyBearerRejectsBadSignature(t *testing.T) {
	cfg := testConfig()
	svc := NewService(cfg)
	now := time.Unix(1_700_000_000, 0).UTC()
	svc.Now = func() time.Time { return now }

	raw := signToken(t, "some-other-key", jwt.MapClaims{
		"sub": "user-123",
		"iss": cfg.Auth.Issuer,
		"aud": cfg.Auth.Audience,
		"exp": now.Add(time.Hour).Unix(),
	})

	if _, err := svc.VerifyBearer("Bearer " + raw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestVerifyBearerRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	svc := NewService(cfg)
	now := time.Unix(1_700_000_000, 0).UTC()
	svc.Now = func() time.Time { return now }

	raw := signToken(t, cfg.Auth.TokenSigningKey, jwt.MapClaims{
		"sub": "user-123",
		"iss": cfg.Auth.Issuer,
		"aud": cfg.Auth.Audience,
		"exp": now.Add(-time.Minute).Unix(),
	})

	if _, err := svc.VerifyBearer("Bearer " + raw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for expired token, got %v", err)
	}
}

func TestVerifyBearerRejectsMissingSubject(t *testing.T) {
	cfg := testConfig()
	svc := NewService(cfg)
	now := time.Unix(1_700_000_000, 0).UTC()
	svc.Now = func() time.Time { return now }

	raw := signToken(t, cfg.Auth.TokenSigningKey, jwt.MapClaims{
		"iss": cfg.Auth.Issuer,
		"aud": cfg.Auth.Audience,
		"exp": now.Add(time.Hour).Unix(),
	})

	if _, err := svc.VerifyBearer("Bearer " + raw); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for missing sub, got %v", err)
	}
}
