//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

// Package progress rebuilds the step/tool execution tree of a turn
// from plan and tool progress frames. Reduce is pure: it never mutates
// its input, so a renderer can hold the previous tree while the next
// one is computed.
package progress

import (
	"encoding/json"
	"strings"

	"trpc.group/trpc-go/seqchat-go/event"
)

// VisualizationTool is the tool whose image updates bypass the tool
// list and land on the tree's image side channel.
const VisualizationTool = "genome"

// StepStatus is the display state of a step.
type StepStatus string

// Step statuses. A turn has at most one active step.
const (
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
)

// ToolEntry is one tool progress line within a step. ID is the entry's
// index within its step; stable for list rendering, not globally
// unique.
type ToolEntry struct {
	ID      int
	Name    string
	Status  event.ToolStatus
	Content string
	File    string
	Image   json.RawMessage
}

// Step is one planning step and the tool activity it produced. ID is
// the step's index within the turn.
type Step struct {
	ID     int
	Label  string
	Status StepStatus
	Tools  []ToolEntry
}

// Image is a preview payload routed around the tool list.
type Image struct {
	File string
	Data json.RawMessage
}

// Tree is the progress state of one turn.
type Tree struct {
	Steps        []Step
	CurrentImage *Image
}

// ActiveStep returns the index of the active step, or -1.
func (t Tree) ActiveStep() int {
	for i := range t.Steps {
		if t.Steps[i].Status == StepActive {
			return i
		}
	}
	return -1
}

// Reduce applies one frame to the tree and returns the resulting tree.
// Frames outside the progress vocabulary leave the tree unchanged.
func Reduce(tree Tree, f event.Frame) Tree {
	switch f := f.(type) {
	case *event.ExecutePlan:
		next := clone(tree)
		completeAll(&next)
		next.Steps = append(next.Steps, Step{
			ID:     len(next.Steps),
			Label:  f.Content,
			Status: StepActive,
		})
		return next
	case *event.ToolProgress:
		return reduceTool(tree, f)
	case *event.StartResponse:
		next := clone(tree)
		completeAll(&next)
		return next
	default:
		return tree
	}
}

func reduceTool(tree Tree, f *event.ToolProgress) Tree {
	next := clone(tree)
	if f.Status == event.ToolStatusUpdate && f.Tool == VisualizationTool && isImageFile(f.File) {
		next.CurrentImage = &Image{File: f.File, Data: f.Image}
		return next
	}
	if len(next.Steps) == 0 {
		// Tool activity before any plan frame opens an implicit step.
		next.Steps = append(next.Steps, Step{ID: 0, Status: StepActive})
	}
	step := &next.Steps[len(next.Steps)-1]
	step.Tools = append(step.Tools, ToolEntry{
		ID:      len(step.Tools),
		Name:    f.Tool,
		Status:  f.Status,
		Content: f.Content,
		File:    f.File,
		Image:   f.Image,
	})
	return next
}

func completeAll(t *Tree) {
	for i := range t.Steps {
		t.Steps[i].Status = StepCompleted
	}
}

func clone(t Tree) Tree {
	out := Tree{CurrentImage: t.CurrentImage}
	out.Steps = make([]Step, len(t.Steps))
	copy(out.Steps, t.Steps)
	for i := range out.Steps {
		tools := make([]ToolEntry, len(out.Steps[i].Tools))
		copy(tools, out.Steps[i].Tools)
		out.Steps[i].Tools = tools
	}
	return out
}

var imageSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

func isImageFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suf := range imageSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}
