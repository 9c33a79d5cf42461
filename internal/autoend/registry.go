/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package autoend tracks call participant counts and the idle deadlines
// derived from them.
package autoend

import (
	"sort"
	"sync"
	"time"
)

// DefaultGrace is how long an assistant may sit alone in a call.
const DefaultGrace = 3 * time.Minute

// Entry is the tracked state for one session.
type Entry struct {
	Deadline time.Time
	Armed    bool
	Count    int
	Known    bool
}

// Registry holds one Entry per session. A deadline is armed exactly when the
// last known participant count is 1.
type Registry struct {
	mu      sync.Mutex
	grace   time.Duration
	now     func() time.Time
	entries map[string]*Entry
}

// NewRegistry creates a registry. A nil now uses time.Now.
func NewRegistry(grace time.Duration, now func() time.Time) *Registry {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{grace: grace, now: now, entries: make(map[string]*Entry)}
}

// Grace returns the configured idle grace period.
func (r *Registry) Grace() time.Duration {
	return r.grace
}

func (r *Registry) entry(key string) *Entry {
	e := r.entries[key]
	if e == nil {
		e = &Entry{}
		r.entries[key] = e
	}
	return e
}

func (r *Registry) apply(e *Entry, count int) {
	e.Count = count
	if count == 1 {
		e.Armed = true
		e.Deadline = r.now().Add(r.grace)
		return
	}
	e.Armed = false
	e.Deadline = time.Time{}
}

// Seed records the participant count observed right after joining. The live
// counter is left unknown so the next participant event refreshes it.
func (r *Registry) Seed(key string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(key)
	r.apply(e, count)
	e.Known = false
}

// Observe applies a participant join (+1) or leave (-1). When the counter is
// unknown or zero, refresh supplies the current count instead and delta is
// not applied, since a fresh query already reflects the event. A refresh
// error leaves the entry untouched.
func (r *Registry) Observe(key string, delta int, refresh func() (int, error)) (int, error) {
	r.mu.Lock()
	e := r.entry(key)
	needRefresh := !e.Known || e.Count == 0
	r.mu.Unlock()

	var fresh int
	if needRefresh {
		n, err := refresh()
		if err != nil {
			return 0, err
		}
		fresh = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e = r.entry(key)
	count := e.Count + delta
	if needRefresh {
		count = fresh
	}
	if count < 0 {
		count = 0
	}
	r.apply(e, count)
	e.Known = true
	return count, nil
}

// Get returns a copy of the session's entry.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Armed reports whether the session has a pending deadline.
func (r *Registry) Armed(key string) bool {
	e, _ := r.Get(key)
	return e.Armed
}

// Count returns the last known participant count.
func (r *Registry) Count(key string) int {
	e, _ := r.Get(key)
	return e.Count
}

// Deadline returns the armed deadline, or the zero time.
func (r *Registry) Deadline(key string) time.Time {
	e, _ := r.Get(key)
	return e.Deadline
}

// Expired lists sessions whose armed deadline is at or before now.
func (r *Registry) Expired(now time.Time) []string {
	r.mu.Lock()
	var keys []string
	for key, e := range r.entries {
		if e.Armed && !e.Deadline.After(now) {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// ShouldTearDown re-checks a session at sweep time: it must still be armed,
// past its deadline, and alone with the assistant.
func (r *Registry) ShouldTearDown(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	return e.Armed && e.Count == 1 && !e.Deadline.After(now)
}

// Clear forgets the session.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}
