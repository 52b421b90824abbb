//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

// Package event defines the typed frames carried on a chat response
// stream and the reader that reassembles them from raw bytes.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type identifies a frame on the wire.
type Type string

// Frame type constants. ToolProgress frames arrive with the executing
// tool's name appended to the type, e.g. "tool_progress_genome".
const (
	TypeStart         Type = "start"
	TypeToken         Type = "token"
	TypeSequenceData  Type = "sequence_data"
	TypeEnd           Type = "end"
	TypeError         Type = "error"
	TypeExecutePlan   Type = "execute_plan"
	TypeToolProgress  Type = "tool_progress"
	TypeStartResponse Type = "start_response"
)

// ToolStatus is the lifecycle phase reported by a tool progress frame.
type ToolStatus string

// Tool progress statuses.
const (
	ToolStatusStart  ToolStatus = "start"
	ToolStatusUpdate ToolStatus = "update"
	ToolStatusEnd    ToolStatus = "end"
)

// Frame is the closed set of events a chat stream may carry. Consumers
// switch exhaustively on the concrete type; a wire frame outside this
// set fails to decode instead of leaking through as an untyped blob.
type Frame interface {
	FrameType() Type
}

// ChatInfo identifies the conversation a stream belongs to.
type ChatInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Model string `json:"model,omitempty"`
}

// Start opens a turn. The server sends it before any token.
type Start struct {
	Chat      ChatInfo `json:"chat"`
	Timestamp string   `json:"timestamp"`
}

// FrameType implements Frame.
func (*Start) FrameType() Type { return TypeStart }

// Token carries one increment of assistant message content.
type Token struct {
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// FrameType implements Frame.
func (*Token) FrameType() Type { return TypeToken }

// SequenceData carries one artifact record payload. Data is keyed by
// the server's field names; the "gene_symbol" entry identifies the
// record the payload belongs to.
type SequenceData struct {
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// FrameType implements Frame.
func (*SequenceData) FrameType() Type { return TypeSequenceData }

// Symbol returns the record identifier of the payload, or "" when the
// payload does not carry one.
func (s *SequenceData) Symbol() string {
	sym, _ := s.Data["gene_symbol"].(string)
	return sym
}

// End closes a turn's assistant message.
type End struct {
	MessageID string `json:"message_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// FrameType implements Frame.
func (*End) FrameType() Type { return TypeEnd }

// Error reports a server-side failure for the current turn.
type Error struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// FrameType implements Frame.
func (*Error) FrameType() Type { return TypeError }

// UnmarshalJSON accepts both the "message" and the older "error" and
// "content" field names the backend has used for the failure text.
func (e *Error) UnmarshalJSON(data []byte) error {
	var raw struct {
		Message   string `json:"message"`
		Err       string `json:"error"`
		Content   string `json:"content"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Message = raw.Message
	if e.Message == "" {
		e.Message = raw.Err
	}
	if e.Message == "" {
		e.Message = raw.Content
	}
	e.Timestamp = raw.Timestamp
	return nil
}

// ExecutePlan announces a new planning step.
type ExecutePlan struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// FrameType implements Frame.
func (*ExecutePlan) FrameType() Type { return TypeExecutePlan }

// ToolProgress reports progress of one tool within the current step.
// Tool is recovered from the wire type suffix.
type ToolProgress struct {
	Tool      string          `json:"-"`
	Status    ToolStatus      `json:"status"`
	Content   string          `json:"content"`
	File      string          `json:"file,omitempty"`
	Image     json.RawMessage `json:"image,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// FrameType implements Frame.
func (*ToolProgress) FrameType() Type { return TypeToolProgress }

// StartResponse marks the transition from planning to the streamed
// user-facing response.
type StartResponse struct {
	Timestamp string `json:"timestamp"`
}

// FrameType implements Frame.
func (*StartResponse) FrameType() Type { return TypeStartResponse }

// DecodeError reports a frame that failed to decode. The stream reader
// logs and skips such frames; the stream itself stays usable.
type DecodeError struct {
	Payload string
	Err     error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("event: decode frame %q: %v", e.Payload, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

const toolProgressPrefix = "tool_progress"

// Decode parses one JSON frame payload into its typed form.
func Decode(data []byte) (Frame, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Payload: string(data), Err: err}
	}
	var (
		f   Frame
		err error
	)
	switch {
	case env.Type == string(TypeStart):
		f, err = decodeAs[Start](data)
	case env.Type == string(TypeToken):
		f, err = decodeAs[Token](data)
	case env.Type == string(TypeSequenceData):
		f, err = decodeAs[SequenceData](data)
	case env.Type == string(TypeEnd):
		f, err = decodeAs[End](data)
	case env.Type == string(TypeError):
		f, err = decodeAs[Error](data)
	case env.Type == string(TypeExecutePlan):
		f, err = decodeAs[ExecutePlan](data)
	case env.Type == string(TypeStartResponse):
		f, err = decodeAs[StartResponse](data)
	case strings.HasPrefix(env.Type, toolProgressPrefix):
		tp := &ToolProgress{}
		if uerr := json.Unmarshal(data, tp); uerr != nil {
			return nil, &DecodeError{Payload: string(data), Err: uerr}
		}
		tp.Tool = strings.TrimPrefix(strings.TrimPrefix(env.Type, toolProgressPrefix), "_")
		return tp, nil
	default:
		return nil, &DecodeError{
			Payload: string(data),
			Err:     fmt.Errorf("unknown frame type %q", env.Type),
		}
	}
	if err != nil {
		return nil, &DecodeError{Payload: string(data), Err: err}
	}
	return f, nil
}

func decodeAs[T any, PT interface {
	*T
	Frame
}](data []byte) (Frame, error) {
	f := PT(new(T))
	if err := json.Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}
