package auth

import (
	"testing"
	"time"
)

func TestGenerateAndParseJWT(t *testing.T) {
	token, err := GenerateJWT("secret", "tenant-a", "agent-1", "agent", time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.TenantID != "tenant-a" || claims.Subject != "agent-1" || claims.Role != "agent" {
		t.Errorf("claims did not round-trip: %+v", claims)
	}
}

func TestParseJWT_WrongSecret(t *testing.T) {
	token, err := GenerateJWT("secret", "tenant-a", "s", "r", time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := ParseJWT("other-secret", token); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestParseJWT_Expired(t *testing.T) {
	token, err := GenerateJWT("secret", "tenant-a", "s", "r", -time.Minute)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := ParseJWT("secret", token); err == nil {
		t.Fatalf("expected expiry failure")
	}
}

func TestParseJWT_MissingTenant(t *testing.T) {
	token, err := GenerateJWT("secret", "", "s", "r", time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := ParseJWT("secret", token); err == nil {
		t.Fatalf("token without tenant id must be rejected")
	}
}

func TestParseJWT_Garbage(t *testing.T) {
	if _, err := ParseJWT("secret", "not.a.token"); err == nil {
		t.Fatalf("expected parse failure")
	}
}
