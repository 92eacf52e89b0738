// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package auth holds the bearer credential injected into outgoing requests.
//
// The store never refreshes tokens itself. A 401 is surfaced to the caller,
// which owns the re-authentication flow; the store only answers "what token
// do we have" and "when does it expire".
package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStore is a concurrency-safe holder for the current bearer token.
type TokenStore struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Set replaces the stored token. If the token is a JWT its exp claim is
// parsed without verification (signature checks are the server's job) so
// ExpiresAt can answer without a network round trip. Non-JWT tokens are
// stored with a zero expiry.
func (s *TokenStore) Set(token string) {
	expiresAt := parseExpiry(token)

	s.mu.Lock()
	s.token = token
	s.expiresAt = expiresAt
	s.mu.Unlock()
}

// Token returns the current bearer token, or "" if none is set.
func (s *TokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ExpiresAt returns the token's expiry, or the zero time if unknown.
func (s *TokenStore) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// ExpiresWithin reports whether the token expires within d. Unknown expiry
// reports false; the client should attempt the request and let the server
// decide.
func (s *TokenStore) ExpiresWithin(d time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiresAt.IsZero() {
		return false
	}
	return time.Until(s.expiresAt) < d
}

// Clear drops the stored token. Called on logout together with the cache
// clear so no authenticated state survives a user switch.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// parseExpiry extracts the exp claim from a JWT without verifying the
// signature. Returns the zero time for opaque tokens or tokens without exp.
func parseExpiry(token string) time.Time {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
