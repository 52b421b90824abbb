//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

// Package auth manages the credential lifecycle of a chat session:
// token decoding, proactive single-flight renewal, the authorized-call
// wrapper, and durable credential storage.
package auth

import "time"

// User is the profile returned by the auth endpoints.
type User struct {
	ID              string   `json:"id"`
	Email           string   `json:"email"`
	Role            string   `json:"role,omitempty"`
	AvailableModels []string `json:"available_models,omitempty"`
}

// Session is an authenticated session. AccessToken and RefreshToken
// are always set or cleared together; the manager swaps whole Session
// values and never mutates one in place.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         User
	ExpiresAt    time.Time
}

// NewSession builds a session from a token pair, deriving ExpiresAt
// from the access token's embedded expiry.
func NewSession(accessToken, refreshToken string, user User) (*Session, error) {
	claims, err := DecodeClaims(accessToken)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
		ExpiresAt:    claims.Expiry(),
	}, nil
}
