//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

// Package mock implements a scriptable stand-in for the assistant
// backend. It speaks the same auth and conversation contract as the
// real service so the client packages can be exercised end to end
// without a deployment: integration tests and the examples run against
// it.
package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/seqchat-go/log"
)

// Script produces the frames streamed between the start and end frames
// of one turn. Each element is JSON-marshaled onto its own data: line.
type Script func(chatID, content string) []any

// DefaultScript streams the user's text back one word at a time.
func DefaultScript(chatID, content string) []any {
	var frames []any
	for _, word := range strings.Fields("echo: " + content) {
		frames = append(frames, map[string]any{
			"type":      "token",
			"content":   word + " ",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	return frames
}

type user struct {
	id       string
	email    string
	password string
}

type message struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Model     string           `json:"model,omitempty"`
	CreatedAt string           `json:"created_at"`
	Sequences []map[string]any `json:"sequences"`
}

type chatRecord struct {
	id       string
	title    string
	model    string
	messages []message
}

// Server is the mock backend.
type Server struct {
	router     *mux.Router
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	script     Script

	mu    sync.Mutex
	users map[string]*user
	chats map[string]*chatRecord
}

// Option configures the Server.
type Option func(*Server)

// WithSecret sets the JWT signing secret.
func WithSecret(secret string) Option {
	return func(s *Server) { s.secret = []byte(secret) }
}

// WithUser registers an account that can log in.
func WithUser(email, password string) Option {
	return func(s *Server) {
		s.users[email] = &user{id: uuid.NewString(), email: email, password: password}
	}
}

// WithScript replaces the turn script.
func WithScript(script Script) Option {
	return func(s *Server) { s.script = script }
}

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// New creates a mock backend.
func New(opts ...Option) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		secret:     []byte("mock-secret"),
		accessTTL:  time.Hour,
		refreshTTL: 24 * time.Hour,
		script:     DefaultScript,
		users:      make(map[string]*user),
		chats:      make(map[string]*chatRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	s.router.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	s.router.HandleFunc("/api/auth/refresh", s.handleRefresh).Methods(http.MethodPost)

	s.router.HandleFunc("/api/chat/", s.handleCreateChat).Methods(http.MethodPost)
	s.router.HandleFunc("/api/chat/", s.handleListChats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/chat/{chatId}/", s.handleHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/chat/{chatId}/message/", s.handleMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/api/chat/{chatId}/manage/", s.handleUpdateChat).Methods(http.MethodPut)
	s.router.HandleFunc("/api/chat/{chatId}/manage/", s.handleDeleteChat).Methods(http.MethodDelete)
}

// IssueTokens mints a token pair for a registered user. Tests use it
// to craft tokens with arbitrary lifetimes.
func (s *Server) IssueTokens(email string, accessTTL, refreshTTL time.Duration) (access, refresh string, err error) {
	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		return "", "", fmt.Errorf("mock: unknown user %q", email)
	}
	access, err = s.signToken(u, "access", accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.signToken(u, "refresh", refreshTTL)
	return access, refresh, err
}

func (s *Server) signToken(u *user, tokenType string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": u.id,
		"email":   u.email,
		"type":    tokenType,
		"jti":     uuid.NewString(),
		"exp":     time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) parseToken(raw, wantType string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("mock: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("mock: unexpected claims shape")
	}
	if claims["type"] != wantType {
		return nil, fmt.Errorf("mock: wrong token type")
	}
	return claims, nil
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		s.writeError(w, http.StatusUnauthorized, "Invalid authorization header")
		return false
	}
	if _, err := s.parseToken(strings.TrimPrefix(header, "Bearer "), "access"); err != nil {
		s.writeError(w, http.StatusUnauthorized, "Invalid token")
		return false
	}
	return true
}

// ---- Auth handlers ------------------------------------------------------

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	u, ok := s.users[req.Email]
	s.mu.Unlock()
	if !ok || u.password != req.Password {
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	s.writeTokens(w, u)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	if _, exists := s.users[req.Email]; exists {
		s.mu.Unlock()
		s.writeError(w, http.StatusBadRequest, "User with this email already exists")
		return
	}
	u := &user{id: uuid.NewString(), email: req.Email, password: req.Password}
	s.users[req.Email] = u
	s.mu.Unlock()
	s.writeTokens(w, u)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	claims, err := s.parseToken(req.RefreshToken, "refresh")
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	email, _ := claims["email"].(string)
	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "User not found")
		return
	}
	access, err := s.signToken(u, "access", s.accessTTL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"access_token": access})
}

func (s *Server) writeTokens(w http.ResponseWriter, u *user) {
	access, refresh, err := s.IssueTokens(u.email, s.accessTTL, s.refreshTTL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user": map[string]any{
			"id":    u.id,
			"email": u.email,
		},
	})
}

// ---- Chat handlers ------------------------------------------------------

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	var req struct {
		Content string `json:"content"`
		Title   string `json:"title"`
		Model   string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	title := req.Title
	if title == "" {
		title = "New Chat"
	}
	rec := &chatRecord{id: uuid.NewString(), title: title, model: req.Model}
	s.mu.Lock()
	s.chats[rec.id] = rec
	s.mu.Unlock()
	if req.Content == "" {
		s.writeJSON(w, map[string]any{
			"chat_id": rec.id,
			"title":   rec.title,
			"model":   rec.model,
		})
		return
	}
	s.stream(w, rec, req.Content)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	s.mu.Lock()
	chats := make([]map[string]any, 0, len(s.chats))
	for _, rec := range s.chats {
		chats = append(chats, map[string]any{
			"id":         rec.id,
			"title":      rec.title,
			"model":      rec.model,
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	s.mu.Unlock()
	s.writeJSON(w, map[string]any{
		"chats": chats,
		"pagination": map[string]any{
			"page": 1, "page_size": len(chats), "total_pages": 1,
		},
	})
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	rec, ok := s.lookupChat(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	if req.Title != "" {
		rec.title = req.Title
	}
	s.mu.Unlock()
	s.writeJSON(w, map[string]any{"id": rec.id, "title": rec.title})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	rec, ok := s.lookupChat(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.chats, rec.id)
	s.mu.Unlock()
	s.writeJSON(w, map[string]any{"status": "success"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	rec, ok := s.lookupChat(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	msgs := make([]message, len(rec.messages))
	copy(msgs, rec.messages)
	s.mu.Unlock()
	s.writeJSON(w, map[string]any{
		"chat": map[string]any{
			"id":         rec.id,
			"title":      rec.title,
			"model":      rec.model,
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
		"messages": msgs,
		"pagination": map[string]any{
			"page": 1, "page_size": len(msgs), "total_pages": 1,
		},
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	rec, ok := s.lookupChat(w, r)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}
	s.stream(w, rec, req.Content)
}

// stream plays the script for one turn as a text/event-stream body.
func (s *Server) stream(w http.ResponseWriter, rec *chatRecord, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	now := func() string { return time.Now().UTC().Format(time.RFC3339Nano) }
	s.writeFrame(w, flusher, map[string]any{
		"type": "start",
		"chat": map[string]any{
			"id": rec.id, "title": rec.title, "model": rec.model,
		},
		"timestamp": now(),
	})
	var assistant strings.Builder
	var sequences []map[string]any
	for _, frame := range s.script(rec.id, content) {
		s.writeFrame(w, flusher, frame)
		if m, ok := frame.(map[string]any); ok {
			switch m["type"] {
			case "token":
				if text, ok := m["content"].(string); ok {
					assistant.WriteString(text)
				}
			case "sequence_data":
				if data, ok := m["data"].(map[string]any); ok {
					sequences = append(sequences, data)
				}
			}
		}
	}
	s.writeFrame(w, flusher, map[string]any{"type": "end", "timestamp": now()})

	s.mu.Lock()
	rec.messages = append(rec.messages,
		message{
			ID: uuid.NewString(), Role: "user", Content: content,
			CreatedAt: now(),
		},
		message{
			ID: uuid.NewString(), Role: "assistant",
			Content: assistant.String(), Model: rec.model,
			CreatedAt: now(), Sequences: sequences,
		},
	)
	s.mu.Unlock()
}

func (s *Server) writeFrame(w http.ResponseWriter, flusher http.Flusher, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Errorf("mock: encode frame: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) lookupChat(w http.ResponseWriter, r *http.Request) (*chatRecord, bool) {
	id := mux.Vars(r)["chatId"]
	s.mu.Lock()
	rec, ok := s.chats[id]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "Chat not found or access denied")
		return nil, false
	}
	return rec, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("mock: encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		log.Errorf("mock: encode error response: %v", err)
	}
}
