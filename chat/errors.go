//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrTurnActive reports a send while a turn is already in flight.
	// One turn per conversation; the caller must wait.
	ErrTurnActive = errors.New("chat: a turn is already in progress")

	// ErrResendLimit reports the third consecutive send of identical
	// text. The client never auto-retries; after three manual attempts
	// the user is asked to change something instead.
	ErrResendLimit = errors.New("chat: message failed repeatedly, please try different text or retry later")

	// ErrConnectionDropped reports a stream that ended or errored
	// mid-turn. Partial content is preserved and the message may be
	// resent.
	ErrConnectionDropped = errors.New("chat: connection dropped mid-turn")
)

// ServerError is an error frame surfaced by the service during a turn.
type ServerError struct {
	Message string
}

// Error implements error.
func (e *ServerError) Error() string {
	return fmt.Sprintf("chat: server error: %s", e.Message)
}

// APIError is a non-2xx response from a conversation endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("chat: server returned %d: %s", e.StatusCode, e.Message)
}
