// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "salesman-7",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestTokenStoreSetAndGet(t *testing.T) {
	s := NewTokenStore()

	if s.Token() != "" {
		t.Error("expected empty store initially")
	}

	s.Set("opaque-token")
	if s.Token() != "opaque-token" {
		t.Errorf("expected stored token, got %q", s.Token())
	}
	if !s.ExpiresAt().IsZero() {
		t.Error("opaque token must have unknown expiry")
	}
}

func TestTokenStoreJWTExpiry(t *testing.T) {
	s := NewTokenStore()
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	s.Set(signedToken(t, exp))

	if got := s.ExpiresAt(); !got.Equal(exp) {
		t.Errorf("expected expiry %v, got %v", exp, got)
	}
	if !s.ExpiresWithin(time.Hour) {
		t.Error("expected token to expire within an hour")
	}
	if s.ExpiresWithin(time.Minute) {
		t.Error("did not expect token to expire within a minute")
	}
}

func TestTokenStoreExpiresWithinUnknown(t *testing.T) {
	s := NewTokenStore()
	s.Set("not-a-jwt")

	if s.ExpiresWithin(time.Hour) {
		t.Error("unknown expiry must report false")
	}
}

func TestTokenStoreClear(t *testing.T) {
	s := NewTokenStore()
	s.Set(signedToken(t, time.Now().Add(time.Hour)))

	s.Clear()

	if s.Token() != "" {
		t.Error("expected empty token after Clear")
	}
	if !s.ExpiresAt().IsZero() {
		t.Error("expected zero expiry after Clear")
	}
}
