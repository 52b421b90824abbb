//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

// Package chat drives conversations against the assistant service: the
// REST endpoints for conversation management and the per-turn
// streaming session that feeds the conversation store, artifact table,
// and progress tree.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trpc.group/trpc-go/seqchat-go/auth"
	"trpc.group/trpc-go/seqchat-go/conversation"
)

// Client calls the conversation endpoints through the auth manager's
// authorized-call wrapper.
type Client struct {
	baseURL string
	auth    *auth.Manager
}

// NewClient creates a conversation client.
func NewClient(baseURL string, manager *auth.Manager) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), auth: manager}
}

// Summary is one conversation in a listing.
type Summary struct {
	ID            string
	Title         string
	Model         string
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Pagination echoes the server's paging info.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// ListChats returns a page of the user's conversations.
func (c *Client) ListChats(ctx context.Context, page, pageSize int) ([]Summary, Pagination, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var body struct {
		Chats []struct {
			ID            string `json:"id"`
			Title         string `json:"title"`
			Model         string `json:"model"`
			CreatedAt     string `json:"created_at"`
			LastMessageAt string `json:"last_message_at"`
		} `json:"chats"`
		Pagination Pagination `json:"pagination"`
	}
	if err := c.getJSON(ctx, "/api/chat/?"+q.Encode(), &body); err != nil {
		return nil, Pagination{}, err
	}
	out := make([]Summary, 0, len(body.Chats))
	for _, ch := range body.Chats {
		out = append(out, Summary{
			ID:            ch.ID,
			Title:         ch.Title,
			Model:         ch.Model,
			CreatedAt:     parseTime(ch.CreatedAt),
			LastMessageAt: parseTime(ch.LastMessageAt),
		})
	}
	return out, body.Pagination, nil
}

// CreateChat creates an empty conversation. Conversations with an
// initial message are created through Session.Send instead, which
// opens the event stream in the same request.
func (c *Client) CreateChat(ctx context.Context, title, model string) (conversation.Chat, error) {
	payload := map[string]string{"title": title}
	if model != "" {
		payload["model"] = model
	}
	var body struct {
		ChatID string `json:"chat_id"`
		Title  string `json:"title"`
		Model  string `json:"model"`
	}
	if err := c.postJSON(ctx, "/api/chat/", payload, &body); err != nil {
		return conversation.Chat{}, err
	}
	return conversation.Chat{ID: body.ChatID, Title: body.Title, Model: body.Model}, nil
}

// RenameChat updates a conversation's title.
func (c *Client) RenameChat(ctx context.Context, chatID, title string) error {
	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return fmt.Errorf("chat: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/api/chat/"+chatID+"/manage/", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doDiscard(req)
}

// DeleteChat removes a conversation.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/chat/"+chatID+"/manage/", nil)
	if err != nil {
		return fmt.Errorf("chat: build request: %w", err)
	}
	return c.doDiscard(req)
}

// HistoryPage is a finalized slice of a conversation, with any
// sequence payloads the server attached to its messages.
type HistoryPage struct {
	Chat       conversation.Chat
	Messages   []conversation.Message
	Sequences  []map[string]any
	Pagination Pagination
}

// History fetches a page of finalized messages.
func (c *Client) History(ctx context.Context, chatID string, page, pageSize int) (*HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var body struct {
		Chat struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Model     string `json:"model"`
			CreatedAt string `json:"created_at"`
		} `json:"chat"`
		Messages []struct {
			ID        string           `json:"id"`
			Role      string           `json:"role"`
			Content   string           `json:"content"`
			Model     string           `json:"model"`
			CreatedAt string           `json:"created_at"`
			Sequences []map[string]any `json:"sequences"`
		} `json:"messages"`
		Pagination Pagination `json:"pagination"`
	}
	if err := c.getJSON(ctx, "/api/chat/"+chatID+"/?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	hist := &HistoryPage{
		Chat: conversation.Chat{
			ID:        body.Chat.ID,
			Title:     body.Chat.Title,
			Model:     body.Chat.Model,
			CreatedAt: parseTime(body.Chat.CreatedAt),
		},
		Pagination: body.Pagination,
	}
	for _, msg := range body.Messages {
		hist.Messages = append(hist.Messages, conversation.Message{
			ID:        msg.ID,
			Role:      conversation.Role(msg.Role),
			Content:   msg.Content,
			Model:     msg.Model,
			Timestamp: parseTime(msg.CreatedAt),
		})
		hist.Sequences = append(hist.Sequences, msg.Sequences...)
	}
	return hist, nil
}

// openStream posts a message and returns the response body carrying
// the event stream. For a new conversation the create endpoint doubles
// as the message endpoint.
func (c *Client) openStream(ctx context.Context, chatID, content, model string) (io.ReadCloser, error) {
	path := "/api/chat/"
	payload := map[string]string{"content": content}
	if chatID != "" {
		path = "/api/chat/" + chatID + "/message/"
	}
	if model != "" {
		payload["model"] = model
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("chat: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.auth.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("chat: build request: %w", err)
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chat: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.auth.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("chat: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("chat: decode response: %w", err)
	}
	return nil
}

func (c *Client) doDiscard(req *http.Request) error {
	return c.doJSON(req, nil)
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

// timeLayouts covers RFC 3339 and the backend's naive isoformat.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
