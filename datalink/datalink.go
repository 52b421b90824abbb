//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

// Package datalink resolves inline <identifier/path> references in
// assistant text against the conversation's artifact table. Resolution
// is stateless and fail-open: anything that cannot be resolved renders
// as the literal tag text.
package datalink

import (
	"encoding/json"
	"regexp"
	"strings"

	"trpc.group/trpc-go/seqchat-go/artifact"
)

// Kind classifies how a segment should be rendered.
type Kind string

// Segment kinds.
const (
	// KindText is a plain text run, including unresolvable tags.
	KindText Kind = "text"
	// KindScalar is a single leaf field rendered inline.
	KindScalar Kind = "scalar"
	// KindLink is an http(s) URL.
	KindLink Kind = "link"
	// KindImage is an image reference or payload.
	KindImage Kind = "image"
	// KindStructured is a nested value rendered expandable.
	KindStructured Kind = "structured"
)

// Segment is one renderable run of the input text.
type Segment struct {
	Kind       Kind
	Text       string // set for KindText
	Identifier string
	Path       []string
	Label      string
	Value      any
}

// Pretty renders the segment's value as indented JSON for expandable
// display.
func (s Segment) Pretty() string {
	b, err := json.MarshalIndent(s.Value, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

var tagPattern = regexp.MustCompile(`<([^<>]+)>`)

// alignmentSegment marks positional alignment data, which gets a
// distinct display label.
const alignmentSegment = "sprinzl"

// alignmentLabel is the display label for positional alignment values.
const alignmentLabel = "Positional alignment"

// Resolve splits text into renderable segments, resolving every
// <identifier/path> tag against the table. It is re-derivable from its
// inputs alone, so callers may re-invoke it as the table grows.
func Resolve(text string, table *artifact.Table) []Segment {
	var out []Segment
	last := 0
	for _, loc := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > last {
			out = append(out, Segment{Kind: KindText, Text: text[last:loc[0]]})
		}
		tag := text[loc[0]:loc[1]]
		inner := text[loc[2]:loc[3]]
		out = append(out, resolveTag(tag, inner, table))
		last = loc[1]
	}
	if last < len(text) {
		out = append(out, Segment{Kind: KindText, Text: text[last:]})
	}
	return out
}

func resolveTag(tag, inner string, table *artifact.Table) Segment {
	literal := Segment{Kind: KindText, Text: tag}
	if table == nil {
		return literal
	}
	parts := strings.Split(inner, "/")
	identifier := strings.TrimSpace(parts[0])
	if identifier == "" {
		return literal
	}
	path := parts[1:]
	rec, ok := table.Lookup(identifier)
	if !ok {
		return literal
	}
	value, ok := rec.Walk(path)
	if !ok {
		return literal
	}
	seg := Segment{
		Identifier: rec.Symbol,
		Path:       path,
		Value:      value,
		Label:      displayLabel(identifier, path),
	}
	seg.Kind = classify(path, value)
	return seg
}

func classify(path []string, value any) Kind {
	str, isString := value.(string)
	if pathContains(path, "images") || (isString && isImageValue(str)) {
		return KindImage
	}
	if isString && (strings.HasPrefix(str, "http://") || strings.HasPrefix(str, "https://")) {
		return KindLink
	}
	if len(path) == 1 {
		return KindScalar
	}
	return KindStructured
}

func displayLabel(identifier string, path []string) string {
	if pathContains(path, alignmentSegment) {
		return alignmentLabel
	}
	if len(path) == 0 {
		return identifier
	}
	return path[len(path)-1]
}

func pathContains(path []string, segment string) bool {
	for _, seg := range path {
		if strings.EqualFold(seg, segment) {
			return true
		}
	}
	return false
}

var imageSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

func isImageValue(s string) bool {
	lower := strings.ToLower(s)
	for _, suf := range imageSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return strings.HasPrefix(s, "data:image/")
}
