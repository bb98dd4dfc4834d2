package api_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"license-activation-server/internal/infra/api"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := api.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.Contains(hash, "$") {
		t.Fatalf("hash %q missing salt separator", hash)
	}

	if !api.VerifyPassword(hash, "hunter2") {
		t.Error("correct password rejected")
	}
	if api.VerifyPassword(hash, "hunter3") {
		t.Error("wrong password accepted")
	}
	if api.VerifyPassword("not-a-hash", "hunter2") {
		t.Error("malformed stored hash accepted")
	}
	if api.VerifyPassword("zz$zz", "hunter2") {
		t.Error("non-hex stored hash accepted")
	}
}

func TestAuthManager_Tokens(t *testing.T) {
	auth := api.NewAuthManager("test-secret", time.Minute)

	token, err := auth.Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	claims, err := auth.ParseFromRequest(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Role != "admin" {
		t.Errorf("role = %q, want admin", claims.Role)
	}

	t.Run("rejects a missing header", func(t *testing.T) {
		bare, _ := http.NewRequest(http.MethodGet, "/", nil)
		if _, err := auth.ParseFromRequest(bare); err == nil {
			t.Error("expected an error without an Authorization header")
		}
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		other := api.NewAuthManager("other-secret", time.Minute)
		forged, err := other.Mint()
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		if _, err := auth.ParseFromRequest(req); err == nil {
			t.Error("expected a signature error for a forged token")
		}
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		shortLived := api.NewAuthManager("test-secret", time.Millisecond)
		stale, err := shortLived.Mint()
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		// JWT timestamps have one-second precision; sleep past the boundary.
		time.Sleep(1100 * time.Millisecond)
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+stale)
		if _, err := auth.ParseFromRequest(req); err == nil {
			t.Error("expected an error for an expired token")
		}
	})
}
