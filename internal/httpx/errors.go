// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package httpx

import (
	"errors"
	"fmt"
)

// ErrSuperseded is the cancellation cause attached to an in-flight request
// when an identical newer request replaces it. Callers receive it from Do
// and should discard it silently; supersession is not a failure.
var ErrSuperseded = errors.New("httpx: request superseded by identical newer request")

// TransientError wraps a network-level failure (connection refused, reset,
// timeout) that survived the retry budget. It marks the request as a
// candidate for the offline queue when the request was a mutation.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// APIError is a non-2xx application response. It is never retried and is
// propagated verbatim for the caller to present. Status 401 means the
// bearer credential was rejected; re-authentication is the caller's job.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Detail)
}

// IsAPIError returns the APIError if err is one.
func IsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is a 401 application error.
func IsUnauthorized(err error) bool {
	ae, ok := IsAPIError(err)
	return ok && ae.Status == 401
}

// errorBody is the backend's error envelope: {"detail": "<message>"}.
type errorBody struct {
	Detail string `json:"detail"`
}
