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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload the backend embeds in its tokens.
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Expiry returns the token's expiry time, or the zero time when the
// claim is absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ExpiredAt reports whether the token is expired at the given instant.
// A token without an expiry claim is treated as expired: the client
// never trusts a credential it cannot bound.
func (c *Claims) ExpiredAt(now time.Time) bool {
	exp := c.Expiry()
	return exp.IsZero() || !exp.After(now)
}

// DecodeClaims parses the payload segment of a token without verifying
// its signature. Verification is the server's job; the client only
// needs the embedded expiry and profile fields. Malformed input yields
// an error, never a panic.
func DecodeClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("auth: decode token: %w", err)
	}
	return claims, nil
}
