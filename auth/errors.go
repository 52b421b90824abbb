//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthExpired reports that the server rejected the session's
	// credentials and renewal is impossible. The session has been
	// cleared; the user must log in again.
	ErrAuthExpired = errors.New("auth: session expired, log in again")

	// ErrNotAuthenticated reports a call that requires a session when
	// none is set.
	ErrNotAuthenticated = errors.New("auth: not authenticated")

	// ErrInvalidCredentials is returned by Login when the server
	// rejects the email/password pair. Its text is shown to the user
	// verbatim.
	ErrInvalidCredentials = errors.New("Incorrect email or password")
)

// APIError is a non-2xx response from an auth endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("auth: server returned %d: %s", e.StatusCode, e.Message)
}

// rejected reports whether err is a server-side credential rejection,
// as opposed to a transient failure worth retrying.
func rejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized ||
		apiErr.StatusCode == http.StatusForbidden
}
