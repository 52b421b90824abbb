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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	loginPath    = "/api/auth/login"
	registerPath = "/api/auth/register"
	refreshPath  = "/api/auth/refresh"
)

const defaultRequestTimeout = 30 * time.Second

// Client calls the authentication endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an auth client for the given service base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenPair is the shared response shape of the auth endpoints.
// The refresh endpoint may omit refresh_token and user.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Login exchanges an email/password pair for a session. A rejected
// pair yields ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	resp, err := c.post(ctx, loginPath, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		if rejected(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return NewSession(resp.AccessToken, resp.RefreshToken, resp.User)
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, email, password string) (*Session, error) {
	resp, err := c.post(ctx, registerPath, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return NewSession(resp.AccessToken, resp.RefreshToken, resp.User)
}

// Refresh exchanges a refresh token for a fresh access token. The
// returned pair keeps the old refresh token when the server does not
// rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	resp, err := c.post(ctx, refreshPath, map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*TokenPair, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("auth: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: %s: %w", path, err)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			Message:    errorMessage(data),
		}
	}
	resp := &TokenPair{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("auth: decode response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("auth: response missing access token")
	}
	return resp, nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
