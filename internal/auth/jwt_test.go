package auth

import (
	"errors"
	"testing"
	"time"
)

func TestValidateToken(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("secret-for-tests"), Issuer: "groupchat", Audience: "clients", TTL: time.Hour}

	token, err := GenerateToken(cfg, 7, "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != 7 || claims.Name != "Alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	tests := map[string]*JWTConfig{
		"wrong secret":   {Secret: []byte("other-secret"), Issuer: cfg.Issuer, Audience: cfg.Audience},
		"wrong issuer":   {Secret: cfg.Secret, Issuer: "someone-else", Audience: cfg.Audience},
		"wrong audience": {Secret: cfg.Secret, Issuer: cfg.Issuer, Audience: "admins"},
	}
	for name, other := range tests {
		if _, err := ValidateToken(other, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestValidateToken_Expired(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("secret-for-tests"), TTL: -time.Minute}

	token, err := GenerateToken(cfg, 1, "Bob")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}
