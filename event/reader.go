//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"trpc.group/trpc-go/seqchat-go/log"
)

// dataPrefix marks lines that carry a frame payload. Other lines
// (comments, blank keep-alives) are ignored.
const dataPrefix = "data: "

const readChunkSize = 4096

// Reader decodes frames from a chat response body. A network read may
// end anywhere, including inside a JSON payload; the reader accumulates
// bytes, consumes every complete line, and keeps the trailing fragment
// until the next read completes it. Malformed frames are logged and
// skipped so one bad payload cannot kill the stream.
type Reader struct {
	r       io.Reader
	pending []byte
	scratch []byte
	eof     bool
}

// NewReader wraps r, typically an http.Response body.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, scratch: make([]byte, readChunkSize)}
}

// Next returns the next decoded frame. It returns io.EOF when the
// stream ends cleanly and the underlying read error otherwise.
func (r *Reader) Next() (Frame, error) {
	for {
		for {
			i := bytes.IndexByte(r.pending, '\n')
			if i < 0 {
				break
			}
			line := r.pending[:i]
			r.pending = r.pending[i+1:]
			if f := r.decodeLine(line); f != nil {
				return f, nil
			}
		}
		if r.eof {
			// A final line may arrive without a trailing newline.
			if len(r.pending) > 0 {
				line := r.pending
				r.pending = nil
				if f := r.decodeLine(line); f != nil {
					return f, nil
				}
			}
			return nil, io.EOF
		}
		n, err := r.r.Read(r.scratch)
		if n > 0 {
			r.pending = append(r.pending, r.scratch[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.eof = true
				continue
			}
			return nil, err
		}
	}
}

// decodeLine returns the frame carried by one line, or nil for lines
// that carry none (blank, non-data, malformed).
func (r *Reader) decodeLine(line []byte) Frame {
	s := strings.TrimRight(string(line), "\r")
	if s == "" || !strings.HasPrefix(s, dataPrefix) {
		return nil
	}
	f, err := Decode([]byte(strings.TrimPrefix(s, dataPrefix)))
	if err != nil {
		log.Warnf("event: skipping malformed frame: %v", err)
		return nil
	}
	return f
}
