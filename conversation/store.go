//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

// Package conversation holds the ordered message list of one chat.
// It is mutated only through the chat session's dispatch path and read
// by renderers; it guarantees that at most one message is streaming at
// any time.
package conversation

import (
	"errors"
	"sync"
	"time"
)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Store errors.
var (
	// ErrStreamingActive reports an attempt to open a second streaming
	// message while one is already open.
	ErrStreamingActive = errors.New("conversation: a streaming message is already active")
	// ErrNoStreamingMessage reports a mutation that requires an open
	// streaming message when none exists.
	ErrNoStreamingMessage = errors.New("conversation: no streaming message")
)

// Chat identifies a conversation known to the server.
type Chat struct {
	ID        string
	Title     string
	Model     string
	CreatedAt time.Time
}

// Message is one entry of the conversation. Content grows while
// Streaming is set and is immutable afterwards.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Model     string
	Timestamp time.Time
	Streaming bool
}

// Store is the mutable conversation state.
type Store struct {
	mu        sync.RWMutex
	chat      Chat
	messages  []Message
	streaming int // index into messages, -1 when none
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{streaming: -1}
}

// SetChat records the conversation identity, typically from a start
// frame or a history response.
func (s *Store) SetChat(c Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = c
}

// Chat returns the conversation identity.
func (s *Store) Chat() Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chat
}

// AppendPair appends a finalized user message together with its
// streaming assistant counterpart. It fails when a streaming message is
// already open.
func (s *Store) AppendPair(user, assistant Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming >= 0 {
		return ErrStreamingActive
	}
	user.Streaming = false
	assistant.Streaming = true
	s.messages = append(s.messages, user, assistant)
	s.streaming = len(s.messages) - 1
	return nil
}

// AppendContent appends a token's content to the open streaming
// message.
func (s *Store) AppendContent(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming < 0 {
		return ErrNoStreamingMessage
	}
	s.messages[s.streaming].Content += content
	return nil
}

// FinalizeStreaming clears the streaming flag and returns the finished
// message.
func (s *Store) FinalizeStreaming() (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming < 0 {
		return Message{}, ErrNoStreamingMessage
	}
	s.messages[s.streaming].Streaming = false
	msg := s.messages[s.streaming]
	s.streaming = -1
	return msg, nil
}

// DiscardStreaming drops an unfinished assistant message and its user
// counterpart is kept; used when a turn fails before any content
// arrived.
func (s *Store) DiscardStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming < 0 {
		return
	}
	if s.messages[s.streaming].Content == "" {
		s.messages = s.messages[:s.streaming]
	} else {
		// Partial content is preserved so the user can see what
		// arrived before the drop.
		s.messages[s.streaming].Streaming = false
	}
	s.streaming = -1
}

// AbsorbTrailing appends content to the most recent assistant message
// even though it is already finalized. The chat session uses it for
// tokens that trail an end frame inside the grace window.
func (s *Store) AbsorbTrailing(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAssistant {
			s.messages[i].Content += content
			return true
		}
	}
	return false
}

// SetHistory replaces the message list wholesale with a finalized list
// fetched from the server.
func (s *Store) SetHistory(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]Message, len(msgs))
	copy(s.messages, msgs)
	for i := range s.messages {
		s.messages[i].Streaming = false
	}
	s.streaming = -1
}

// Messages returns a copy of the message list.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// StreamingMessage returns the open streaming message, if any.
func (s *Store) StreamingMessage() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.streaming < 0 {
		return Message{}, false
	}
	return s.messages[s.streaming], true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
