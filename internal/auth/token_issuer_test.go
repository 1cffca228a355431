package auth

import (
	"context"
	"testing"
	"time"
)

func TestIssueAndValidateAccessToken(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		TokenTTL:      time.Minute,
	})

	token, expiresIn, err := issuer.IssueAccessToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a signed token")
	}
	if expiresIn != 60 {
		t.Fatalf("expected 60 seconds expiry, got %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if subject != "user-123" {
		t.Fatalf("expected subject user-123, got %s", subject)
	}
}

func TestIssueAccessTokenRequiresSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("test-signing-secret")})

	if _, _, err := issuer.IssueAccessToken(context.Background(), ""); err == nil {
		t.Fatal("expected an error for the empty subject")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issuedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	current := issuedAt
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return current },
	})

	token, _, err := issuer.IssueAccessToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current = issuedAt.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatal("expected an expiry error")
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret-a")})
	other := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret-b")})

	token, _, err := issuer.IssueAccessToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatal("expected a signature error")
	}
}
