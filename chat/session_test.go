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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/seqchat-go/auth"
	"trpc.group/trpc-go/seqchat-go/conversation"
	"trpc.group/trpc-go/seqchat-go/event"
	"trpc.group/trpc-go/seqchat-go/progress"
)

// testManager builds an auth manager holding a locally minted session
// so stream tests can use plain handlers instead of a full backend.
func testManager(t *testing.T, baseURL string) *auth.Manager {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1",
		"type":    "access",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	sess, err := auth.NewSession(token, "refresh-token", auth.User{ID: "u1"})
	require.NoError(t, err)
	m := auth.NewManager(auth.NewClient(baseURL))
	t.Cleanup(func() { m.Close() })
	m.SetSession(sess)
	return m
}

func newTestSession(t *testing.T, handler http.HandlerFunc, opts ...SessionOption) *Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, testManager(t, srv.URL))
	s := NewSession(client, opts...)
	t.Cleanup(s.Close)
	return s
}

func writeSSE(w http.ResponseWriter, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func streamHandler(payloads ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			writeSSE(w, p)
		}
	}
}

func drain(ch <-chan event.Frame) []event.Frame {
	var out []event.Frame
	for f := range ch {
		out = append(out, f)
	}
	return out
}

const startFrame = `{"type":"start","chat":{"id":"c1","title":"tRNA basics","model":"gpt-4o"}}`

func TestSendCleanTurn(t *testing.T) {
	s := newTestSession(t, streamHandler(
		startFrame,
		`{"type":"token","content":"A"}`,
		`{"type":"token","content":"B"}`,
		`{"type":"end"}`,
	))

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	frames := drain(ch)

	require.Len(t, frames, 4)
	assert.Equal(t, StateCompleted, s.State())
	assert.NoError(t, s.Err())
	assert.False(t, s.Active())

	assert.Equal(t, "c1", s.Store().Chat().ID)
	msgs := s.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "AB", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)
}

func TestSendWhileTurnActive(t *testing.T) {
	release := make(chan struct{})
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, startFrame)
		<-release
		writeSSE(w, `{"type":"end"}`)
	})

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	// Wait until the start frame has been applied.
	first := <-ch
	assert.Equal(t, event.TypeStart, first.FrameType())

	_, err = s.Send(context.Background(), "again")
	assert.ErrorIs(t, err, ErrTurnActive)
	// The rejected send must not disturb the live turn.
	assert.Equal(t, 2, s.Store().Len())

	close(release)
	drain(ch)
	assert.Equal(t, StateCompleted, s.State())
}

func TestConnectionDroppedPreservesPartialContent(t *testing.T) {
	s := newTestSession(t, streamHandler(
		startFrame,
		`{"type":"token","content":"part"}`,
		// No end frame; the body just closes.
	))

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	drain(ch)

	assert.ErrorIs(t, s.Err(), ErrConnectionDropped)
	assert.Equal(t, StateFailed, s.State())
	msgs := s.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "part", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)
}

func TestConnectionDroppedBeforeContentDropsAssistantMessage(t *testing.T) {
	s := newTestSession(t, streamHandler(startFrame))

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	drain(ch)

	assert.ErrorIs(t, s.Err(), ErrConnectionDropped)
	msgs := s.Store().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
}

func TestErrorFrameFailsTurn(t *testing.T) {
	s := newTestSession(t, streamHandler(
		startFrame,
		`{"type":"token","content":"so far"}`,
		`{"type":"error","message":"model unavailable"}`,
	))

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	drain(ch)

	assert.Equal(t, StateFailed, s.State())
	var serverErr *ServerError
	require.ErrorAs(t, s.Err(), &serverErr)
	assert.Equal(t, "model unavailable", serverErr.Message)
	// Partial content survives the failure.
	msgs := s.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "so far", msgs[1].Content)
}

func TestGraceWindowAbsorbsTrailingToken(t *testing.T) {
	s := newTestSession(t, streamHandler(
		startFrame,
		`{"type":"token","content":"A"}`,
		`{"type":"end"}`,
		`{"type":"token","content":"!"}`,
	))

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	drain(ch)

	assert.Equal(t, StateCompleted, s.State())
	assert.NoError(t, s.Err())
	msgs := s.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "A!", msgs[1].Content)
}

func TestTokenDroppedOutsideGraceWindow(t *testing.T) {
	s := newTestSession(t, streamHandler(
		startFrame,
		`{"type":"end"}`,
		`{"type":"token","content":"late"}`,
	), WithGraceWindow(0))

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	drain(ch)

	msgs := s.Store().Messages()
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[1].Content)
}

func TestSequenceDataMergesIntoArtifacts(t *testing.T) {
	s := newTestSession(t, streamHandler(
		startFrame,
		`{"type":"sequence_data","data":{"gene_symbol":"tRNA-Sec-TCA-1-1","isotype":"Sec"}}`,
		`{"type":"token","content":"The isotype is <tRNA-Sec-TCA-1-1/isotype>."}`,
		`{"type":"end"}`,
	))

	ch, err := s.Send(context.Background(), "tell me about tRNA-Sec-TCA-1-1")
	require.NoError(t, err)
	drain(ch)

	rec, ok := s.Artifacts().Lookup("trna-sec-tca-1-1")
	require.True(t, ok)
	assert.Equal(t, "Sec", rec.Fields["isotype"])

	segs := s.Resolve(s.Store().Messages()[1].Content)
	require.Len(t, segs, 3)
	assert.Equal(t, "Sec", segs[1].Value)
}

func TestProgressFramesBuildTree(t *testing.T) {
	s := newTestSession(t, streamHandler(
		startFrame,
		`{"type":"execute_plan","content":"find the gene"}`,
		`{"type":"tool_progress_blast","status":"start","content":"searching"}`,
		`{"type":"tool_progress_genome","status":"update","file":"region.png"}`,
		`{"type":"start_response"}`,
		`{"type":"token","content":"Found it."}`,
		`{"type":"end"}`,
	))

	ch, err := s.Send(context.Background(), "where is it")
	require.NoError(t, err)
	drain(ch)

	tree := s.Tree()
	require.Len(t, tree.Steps, 1)
	assert.Equal(t, "find the gene", tree.Steps[0].Label)
	assert.Equal(t, progress.StepCompleted, tree.Steps[0].Status)
	require.Len(t, tree.Steps[0].Tools, 1)
	assert.Equal(t, "blast", tree.Steps[0].Tools[0].Name)
	require.NotNil(t, tree.CurrentImage)
	assert.Equal(t, "region.png", tree.CurrentImage.File)
}

func TestTreeResetsOnNextSend(t *testing.T) {
	s := newTestSession(t, streamHandler(
		startFrame,
		`{"type":"execute_plan","content":"plan"}`,
		`{"type":"end"}`,
	))

	ch, err := s.Send(context.Background(), "one")
	require.NoError(t, err)
	drain(ch)
	require.Len(t, s.Tree().Steps, 1)

	ch, err = s.Send(context.Background(), "two")
	require.NoError(t, err)
	drain(ch)
	// The second turn's stream carried one plan frame again.
	assert.Len(t, s.Tree().Steps, 1)
}

func TestResendLimit(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	})

	for i := 0; i < DefaultResendLimit; i++ {
		ch, err := s.Send(context.Background(), "same text")
		require.NoError(t, err)
		drain(ch)
		require.Error(t, s.Err())
	}

	_, err := s.Send(context.Background(), "same text")
	assert.ErrorIs(t, err, ErrResendLimit)

	// Different text resets the guard.
	ch, err := s.Send(context.Background(), "other text")
	require.NoError(t, err)
	drain(ch)
}

func TestResendCounterResetsAfterCleanTurn(t *testing.T) {
	s := newTestSession(t, streamHandler(startFrame, `{"type":"end"}`))

	for i := 0; i < DefaultResendLimit+2; i++ {
		ch, err := s.Send(context.Background(), "same text")
		require.NoError(t, err)
		drain(ch)
		require.NoError(t, s.Err())
	}
}

func TestSendFailurePreservesAPIError(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Message content is required"}`, http.StatusBadRequest)
	})

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	drain(ch)

	var apiErr *APIError
	require.ErrorAs(t, s.Err(), &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, StateFailed, s.State())
	assert.Zero(t, s.Store().Len())
}

func TestIdleWatchdogCancelsStalledStream(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, startFrame)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, WithIdleTimeout(50*time.Millisecond))

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		drain(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stalled stream was not cancelled")
	}

	assert.ErrorIs(t, s.Err(), ErrConnectionDropped)
	assert.Equal(t, StateFailed, s.State())
}

func TestApplyHistory(t *testing.T) {
	s := newTestSession(t, streamHandler(startFrame, `{"type":"end"}`))

	ok := s.ApplyHistory(&HistoryPage{
		Chat: conversation.Chat{ID: "c9", Title: "restored"},
		Messages: []conversation.Message{
			{ID: "m1", Role: conversation.RoleUser, Content: "q"},
			{ID: "m2", Role: conversation.RoleAssistant, Content: "a"},
		},
		Sequences: []map[string]any{
			{"gene_symbol": "tRNA-Sec-TCA-1-1", "isotype": "Sec"},
		},
	})
	require.True(t, ok)
	assert.Equal(t, "c9", s.Store().Chat().ID)
	assert.Equal(t, 2, s.Store().Len())
	_, found := s.Artifacts().Lookup("tRNA-Sec-TCA-1-1")
	assert.True(t, found)
}

func TestApplyHistoryDiscardedDuringLiveTurn(t *testing.T) {
	release := make(chan struct{})
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, startFrame)
		<-release
		writeSSE(w, `{"type":"end"}`)
	})

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	<-ch // start frame applied, turn live

	ok := s.ApplyHistory(&HistoryPage{
		Chat:     conversation.Chat{ID: "stale"},
		Messages: []conversation.Message{{ID: "m1", Role: conversation.RoleUser}},
	})
	assert.False(t, ok)
	assert.Equal(t, "c1", s.Store().Chat().ID)

	close(release)
	drain(ch)
}

func TestCloseCancelsLiveTurn(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, startFrame)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ch, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	<-ch
	s.Close()
	drain(ch)

	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Err(), ErrConnectionDropped)
}
