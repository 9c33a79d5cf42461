/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory so operators can
// inspect a session's history without shell access.
package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 5000

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	ChatID    string         `json:"chat_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a fixed-size ring of entries, safe for concurrent use.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// New creates a buffer holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

// Add appends e, overwriting the oldest entry when full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = e
	b.head = (b.head + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// snapshot returns entries oldest first.
func (b *Buffer) snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	start := 0
	if b.count == len(b.entries) {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}

// Query filters captured entries.
type Query struct {
	Level     string
	Component string
	ChatID    string
	Search    string // case-insensitive match on message and component
	Since     time.Time
	Limit     int // 0 means no limit; the newest entries are kept
}

// Query returns matching entries, newest first.
func (b *Buffer) Query(q Query) []Entry {
	all := b.snapshot()
	search := strings.ToLower(q.Search)

	out := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		switch {
		case q.Level != "" && e.Level != q.Level,
			q.Component != "" && e.Component != q.Component,
			q.ChatID != "" && e.ChatID != q.ChatID,
			!q.Since.IsZero() && e.Timestamp.Before(q.Since):
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Message), search) &&
			!strings.Contains(strings.ToLower(e.Component), search) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Stats summarizes the buffer.
type Stats struct {
	Capacity int            `json:"capacity"`
	Count    int            `json:"count"`
	Levels   map[string]int `json:"levels"`
}

func (b *Buffer) Stats() Stats {
	all := b.snapshot()
	st := Stats{Capacity: len(b.entries), Count: len(all), Levels: make(map[string]int)}
	for _, e := range all {
		st.Levels[e.Level]++
	}
	return st
}

// Write implements io.Writer for zerolog JSON output. Lines that are not JSON
// objects are dropped.
func (b *Buffer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}

	e := Entry{Timestamp: time.Now()}
	if v, ok := raw["level"].(string); ok {
		e.Level = v
		delete(raw, "level")
	}
	if v, ok := raw["message"].(string); ok {
		e.Message = v
		delete(raw, "message")
	}
	if v, ok := raw["component"].(string); ok {
		e.Component = v
		delete(raw, "component")
	}
	if v, ok := raw["chat_id"].(string); ok {
		e.ChatID = v
		delete(raw, "chat_id")
	}
	switch ts := raw["time"].(type) {
	case float64:
		e.Timestamp = time.Unix(int64(ts), 0)
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Timestamp = t
		}
	}
	delete(raw, "time")
	if len(raw) > 0 {
		e.Fields = raw
	}

	b.Add(e)
	return len(p), nil
}
