//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

// Package artifact holds the structured records a conversation
// accumulates about biological entities, keyed by gene symbol.
package artifact

import (
	"strings"
	"sync"
)

// Record is one entity's accumulated data. Symbol keeps the casing the
// server first used; lookups ignore case.
type Record struct {
	Symbol string
	Fields map[string]any
}

// Walk resolves a path of nested field names against the record.
// It returns false when any segment is missing or resolves to nil.
func (r *Record) Walk(path []string) (any, bool) {
	var cur any = r.Fields
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok || next == nil {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Table is the per-conversation artifact table. Records are created and
// merged by sequence_data frames and live for the conversation's
// client-side lifetime; nothing is deleted mid-session.
type Table struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[string]*Record)}
}

func canonical(symbol string) string { return strings.ToUpper(symbol) }

// Merge folds one sequence_data payload into the table. The payload's
// "gene_symbol" field names the record; payloads without one are
// rejected and the caller is expected to drop them.
func (t *Table) Merge(data map[string]any) bool {
	symbol, _ := data["gene_symbol"].(string)
	if symbol == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := canonical(symbol)
	rec, ok := t.records[key]
	if !ok {
		rec = &Record{Symbol: symbol, Fields: make(map[string]any)}
		t.records[key] = rec
	}
	mergeFields(rec.Fields, data)
	return true
}

// mergeFields deep-merges src into dst. Nested maps merge recursively,
// everything else overwrites. Existing keys are never removed.
func mergeFields(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				mergeFields(dm, sm)
				continue
			}
			nm := make(map[string]any, len(sm))
			mergeFields(nm, sm)
			dst[k] = nm
			continue
		}
		dst[k] = v
	}
}

// Lookup finds a record by symbol, ignoring case. The returned record
// is a deep copy detached from the table: later merges never mutate
// it, so callers may walk it without holding any lock.
func (t *Table) Lookup(symbol string) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[canonical(symbol)]
	if !ok {
		return nil, false
	}
	return &Record{Symbol: rec.Symbol, Fields: copyValue(rec.Fields).(map[string]any)}, true
}

// copyValue deep-copies the map/slice spine of a decoded JSON value.
// Leaves are immutable and shared.
func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// Len returns the number of records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Symbols returns the original-cased symbols of all records.
func (t *Table) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec.Symbol)
	}
	return out
}
