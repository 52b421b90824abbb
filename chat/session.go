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
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/seqchat-go/artifact"
	"trpc.group/trpc-go/seqchat-go/conversation"
	"trpc.group/trpc-go/seqchat-go/datalink"
	"trpc.group/trpc-go/seqchat-go/event"
	"trpc.group/trpc-go/seqchat-go/log"
	"trpc.group/trpc-go/seqchat-go/progress"
	"trpc.group/trpc-go/seqchat-go/telemetry"
)

// TurnState is the lifecycle of one turn.
type TurnState string

// Turn states.
const (
	StateIdle      TurnState = "idle"
	StateSending   TurnState = "sending"
	StateStreaming TurnState = "streaming"
	StateCompleted TurnState = "completed"
	StateFailed    TurnState = "failed"
)

// Default session tuning.
const (
	// DefaultIdleTimeout cancels a stream that delivers no frame for
	// this long. The service documents a 60s server-side bound; the
	// client enforces its own rather than trusting it.
	DefaultIdleTimeout = 60 * time.Second
	// DefaultGraceWindow keeps the turn's content buffer absorbing
	// trailing frames after an end frame.
	DefaultGraceWindow = 250 * time.Millisecond
	// DefaultResendLimit is how many consecutive sends of identical
	// text are attempted before the session asks the user to stop.
	DefaultResendLimit = 3
)

// Session drives turns for one conversation. Events dispatched from
// the stream are the only writers of the conversation store and
// artifact table; everything else reads.
type Session struct {
	client      *Client
	store       *conversation.Store
	artifacts   *artifact.Table
	idleTimeout time.Duration
	graceWindow time.Duration
	resendLimit int
	model       string

	mu          sync.Mutex
	state       TurnState
	active      bool
	tree        progress.Tree
	err         error
	pendingSend string
	graceUntil  time.Time
	cancel      context.CancelFunc
	lastSend    string
	sendCount   int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithIdleTimeout sets the stream inactivity bound. Zero disables it.
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.idleTimeout = d }
}

// WithGraceWindow sets how long the turn buffer absorbs frames that
// trail an end frame.
func WithGraceWindow(d time.Duration) SessionOption {
	return func(s *Session) { s.graceWindow = d }
}

// WithModel sets the model requested for new turns.
func WithModel(model string) SessionOption {
	return func(s *Session) { s.model = model }
}

// WithResendLimit overrides the identical-text resend cap.
func WithResendLimit(n int) SessionOption {
	return func(s *Session) { s.resendLimit = n }
}

// NewSession creates a session with an empty conversation store and
// artifact table. Attach an existing conversation via ApplyHistory or
// by sending into a known chat ID set through Store().SetChat.
func NewSession(client *Client, opts ...SessionOption) *Session {
	s := &Session{
		client:      client,
		store:       conversation.NewStore(),
		artifacts:   artifact.NewTable(),
		idleTimeout: DefaultIdleTimeout,
		graceWindow: DefaultGraceWindow,
		resendLimit: DefaultResendLimit,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the conversation store.
func (s *Session) Store() *conversation.Store { return s.store }

// Artifacts returns the artifact table.
func (s *Session) Artifacts() *artifact.Table { return s.artifacts }

// State returns the current turn state.
func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure of the last turn, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Tree returns the current turn's progress tree.
func (s *Session) Tree() progress.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// Active reports whether a turn is live for this conversation.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Resolve renders finalized message text against the current artifact
// table.
func (s *Session) Resolve(text string) []datalink.Segment {
	return datalink.Resolve(text, s.artifacts)
}

// Send opens one turn. The returned channel yields each frame after it
// has been applied to the session state and closes when the turn ends;
// inspect Err and State afterwards. A second send while a turn is
// active fails with ErrTurnActive and opens no stream.
func (s *Session) Send(ctx context.Context, content string) (<-chan event.Frame, error) {
	s.mu.Lock()
	if s.state == StateSending || s.state == StateStreaming {
		s.mu.Unlock()
		return nil, ErrTurnActive
	}
	if content == s.lastSend {
		s.sendCount++
	} else {
		s.lastSend = content
		s.sendCount = 1
	}
	if s.sendCount > s.resendLimit {
		s.sendCount = s.resendLimit
		s.mu.Unlock()
		return nil, ErrResendLimit
	}
	s.state = StateSending
	s.err = nil
	s.pendingSend = content
	s.tree = progress.Tree{}
	ctx, s.cancel = context.WithCancel(ctx)
	chatID := s.store.Chat().ID
	s.mu.Unlock()

	ch := make(chan event.Frame, 16)
	go s.run(ctx, ch, chatID, content)
	return ch, nil
}

// run owns one turn: it opens the stream, pumps frames through
// dispatch, and releases the body and watchdog on every exit path.
func (s *Session) run(ctx context.Context, ch chan<- event.Frame, chatID, content string) {
	defer close(ch)
	ctx, span := telemetry.Tracer.Start(ctx, "chat.turn",
		trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()
	frames, _ := telemetry.Meter.Int64Counter("chat.frames")
	body, err := s.client.openStream(ctx, chatID, content, s.model)
	if err != nil {
		s.failSend(err)
		return
	}
	defer body.Close()

	var watchdog *time.Timer
	if s.idleTimeout > 0 {
		cancel := s.currentCancel()
		watchdog = time.AfterFunc(s.idleTimeout, cancel)
		defer watchdog.Stop()
	}

	reader := event.NewReader(body)
	for {
		f, err := reader.Next()
		if err != nil {
			s.finish(err)
			return
		}
		if watchdog != nil {
			watchdog.Reset(s.idleTimeout)
		}
		if frames != nil {
			frames.Add(ctx, 1, metric.WithAttributes(
				attribute.String("frame.type", string(f.FrameType()))))
		}
		s.dispatch(f)
		select {
		case ch <- f:
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		}
	}
}

func (s *Session) currentCancel() context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return func() {}
	}
	return s.cancel
}

// dispatch applies one frame to the session state. Invariant
// violations are logged and the frame dropped; the stream continues.
func (s *Session) dispatch(f event.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	switch f := f.(type) {
	case *event.Start:
		s.store.SetChat(conversation.Chat{
			ID:    f.Chat.ID,
			Title: f.Chat.Title,
			Model: f.Chat.Model,
		})
		user := conversation.Message{
			ID:        uuid.NewString(),
			Role:      conversation.RoleUser,
			Content:   s.pendingSend,
			Timestamp: now,
		}
		assistant := conversation.Message{
			ID:        uuid.NewString(),
			Role:      conversation.RoleAssistant,
			Model:     f.Chat.Model,
			Timestamp: now,
		}
		if err := s.store.AppendPair(user, assistant); err != nil {
			log.Warnf("chat: dropping start frame: %v", err)
			return
		}
		s.state = StateStreaming
		s.active = true
	case *event.Token:
		if err := s.store.AppendContent(f.Content); err != nil {
			if now.Before(s.graceUntil) && s.store.AbsorbTrailing(f.Content) {
				return
			}
			log.Warnf("chat: dropping token frame: %v", err)
		}
	case *event.SequenceData:
		if !s.artifacts.Merge(f.Data) {
			log.Warnf("chat: dropping sequence_data frame without gene_symbol")
		}
	case *event.End:
		if _, err := s.store.FinalizeStreaming(); err != nil {
			log.Warnf("chat: end frame without streaming message: %v", err)
		}
		s.state = StateCompleted
		s.graceUntil = now.Add(s.graceWindow)
		s.lastSend = ""
		s.sendCount = 0
	case *event.Error:
		// The in-progress message is left untouched; the user may
		// retry once the turn settles.
		s.err = &ServerError{Message: f.Message}
		s.state = StateFailed
	case *event.ExecutePlan, *event.ToolProgress, *event.StartResponse:
		s.tree = progress.Reduce(s.tree, f)
	}
}

// failSend settles a turn whose stream never opened. The original
// error is kept so callers can distinguish auth failures from
// transient ones.
func (s *Session) failSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
	s.active = false
	s.err = err
	s.state = StateFailed
}

// finish settles the turn once the stream ends or errors.
func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
	s.active = false
	switch {
	case errors.Is(err, io.EOF):
		switch s.state {
		case StateCompleted:
			// Clean turn.
		case StateFailed:
			s.store.DiscardStreaming()
		default:
			// The stream ended before an end frame arrived.
			s.store.DiscardStreaming()
			s.err = ErrConnectionDropped
			s.state = StateFailed
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if s.state != StateCompleted {
			s.store.DiscardStreaming()
			s.err = ErrConnectionDropped
			s.state = StateFailed
		}
	default:
		s.store.DiscardStreaming()
		s.err = fmt.Errorf("%w: %v", ErrConnectionDropped, err)
		s.state = StateFailed
	}
}

// ApplyHistory installs a fetched history page. History that arrives
// while a turn is live is discarded rather than clobbering streaming
// state; the caller may refetch after the turn.
func (s *Session) ApplyHistory(page *HistoryPage) bool {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		log.Debugf("chat: discarding history fetched during a live turn")
		return false
	}
	s.mu.Unlock()
	s.store.SetChat(page.Chat)
	s.store.SetHistory(page.Messages)
	for _, seq := range page.Sequences {
		if !s.artifacts.Merge(seq) {
			log.Debugf("chat: history sequence without gene_symbol skipped")
		}
	}
	return true
}

// Close cancels any live turn. The session may be reused afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
