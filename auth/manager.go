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
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trpc.group/trpc-go/seqchat-go/log"
)

// DefaultRefreshThreshold is how long before expiry a renewal is
// scheduled.
const DefaultRefreshThreshold = 5 * time.Minute

// Manager owns the session credentials. It schedules proactive
// renewal, deduplicates concurrent renewals, and wraps outgoing
// requests with the bearer credential.
type Manager struct {
	client     *Client
	store      Store
	httpClient *http.Client
	threshold  time.Duration
	policy     RetryPolicy
	now        func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	session *Session
	timer   *time.Timer
	closed  bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithStore sets the credential store. Defaults to an in-memory store.
func WithStore(store Store) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithRefreshThreshold sets how long before expiry renewal fires.
func WithRefreshThreshold(d time.Duration) ManagerOption {
	return func(m *Manager) { m.threshold = d }
}

// WithRetryPolicy sets the renewal retry policy.
func WithRetryPolicy(policy RetryPolicy) ManagerOption {
	return func(m *Manager) { m.policy = policy }
}

// WithTransport sets the HTTP client used for authorized calls.
func WithTransport(hc *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = hc }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager that renews through the given client.
func NewManager(client *Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:     client,
		store:      NewInMemoryStore(),
		httpClient: &http.Client{},
		threshold:  DefaultRefreshThreshold,
		policy:     DefaultRetryPolicy(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns a copy of the current session, if any.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Authenticated reports whether a session is set.
func (m *Manager) Authenticated() bool {
	_, ok := m.Session()
	return ok
}

// SetSession replaces the session, persists it, and reschedules
// renewal. The previous renewal timer is always released first so a
// session replacement can never leave two timers armed.
func (m *Manager) SetSession(s *Session) {
	m.mu.Lock()
	m.session = s
	m.scheduleLocked()
	m.mu.Unlock()
	if err := m.store.Save(State{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         s.User,
	}); err != nil {
		log.Warnf("auth: persist credentials: %v", err)
	}
}

// ClearSession drops the session, releases the renewal timer, and
// clears stored credentials.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	m.session = nil
	m.stopTimerLocked()
	m.mu.Unlock()
	if err := m.store.Clear(); err != nil {
		log.Warnf("auth: clear credentials: %v", err)
	}
}

// Restore loads persisted credentials and validates them against the
// token's embedded expiry before trusting them. An expired access
// token triggers an immediate renewal through the refresh token.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	state, ok, err := m.store.Load()
	if err != nil || !ok {
		return false, err
	}
	claims, err := DecodeClaims(state.AccessToken)
	if err != nil {
		log.Warnf("auth: discarding undecodable stored token: %v", err)
		m.ClearSession()
		return false, nil
	}
	m.SetSession(&Session{
		AccessToken:  state.AccessToken,
		RefreshToken: state.RefreshToken,
		User:         state.User,
		ExpiresAt:    claims.Expiry(),
	})
	if claims.ExpiredAt(m.now()) {
		if _, err := m.Renew(ctx); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ScheduleRenewal arms the renewal timer for the current session at
// max(now, expiresAt - threshold).
func (m *Manager) ScheduleRenewal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleLocked()
}

func (m *Manager) scheduleLocked() {
	m.stopTimerLocked()
	if m.session == nil || m.closed {
		return
	}
	d := m.session.ExpiresAt.Add(-m.threshold).Sub(m.now())
	if d < 0 {
		d = 0
	}
	m.timer = time.AfterFunc(d, func() {
		if _, err := m.Renew(context.Background()); err != nil {
			log.Warnf("auth: scheduled renewal failed: %v", err)
		}
	})
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Renew refreshes the access token. Concurrent callers share one
// in-flight renewal and receive its outcome. A credential rejection
// clears the session and returns ErrAuthExpired; transient failures
// retry under the bounded backoff policy.
func (m *Manager) Renew(ctx context.Context) (Session, error) {
	v, err, _ := m.group.Do("renew", func() (any, error) {
		return m.renew(ctx)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (m *Manager) renew(ctx context.Context) (Session, error) {
	current, ok := m.Session()
	if !ok {
		return Session{}, ErrNotAuthenticated
	}
	var lastErr error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		pair, err := m.client.Refresh(ctx, current.RefreshToken)
		if err == nil {
			next, err := NewSession(pair.AccessToken, pair.RefreshToken, current.User)
			if err != nil {
				return Session{}, err
			}
			if pair.User.ID != "" {
				next.User = pair.User
			}
			m.SetSession(next)
			return *next, nil
		}
		if rejected(err) {
			m.ClearSession()
			return Session{}, ErrAuthExpired
		}
		lastErr = err
		if attempt == m.policy.MaxAttempts {
			break
		}
		delay := m.policy.NextDelay(attempt)
		log.Warnf("auth: renewal attempt %d failed, retrying in %s: %v", attempt, delay, err)
		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return Session{}, fmt.Errorf("auth: renewal failed after %d attempts: %w",
		m.policy.MaxAttempts, lastErr)
}

// Do sends an authorized request. On a 401 it forces exactly one
// renewal and retries once with the fresh token; a second 401 clears
// the session and fails with ErrAuthExpired.
func (m *Manager) Do(req *http.Request) (*http.Response, error) {
	sess, ok := m.Session()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	resp, err := m.send(req, sess.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()
	renewed, err := m.Renew(req.Context())
	if err != nil {
		if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNotAuthenticated) {
			return nil, ErrAuthExpired
		}
		return nil, err
	}
	retry, err := rewind(req)
	if err != nil {
		return nil, err
	}
	resp, err = m.send(retry, renewed.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		m.ClearSession()
		return nil, ErrAuthExpired
	}
	return resp, nil
}

func (m *Manager) send(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return m.httpClient.Do(req)
}

// rewind clones a request for a retry, reopening its body.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("auth: cannot retry request without a rewindable body")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("auth: rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// Close releases the renewal timer. The manager must not be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopTimerLocked()
	return nil
}
