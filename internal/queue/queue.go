/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue holds the per-session playback queues and their metadata.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/voxqueue/internal/notify"
	"github.com/friendsincode/voxqueue/internal/transport"
)

// Item is one queued playback request.
type Item struct {
	ID          string               `json:"id"`
	Source      transport.Source     `json:"source"`
	Kind        transport.StreamKind `json:"kind"`
	RequestedBy string               `json:"requested_by,omitempty"`
	OriginChat  string               `json:"origin_chat,omitempty"`
	Title       string               `json:"title,omitempty"`
	Duration    time.Duration        `json:"duration,omitempty"`
	Thumbnail   string               `json:"thumbnail,omitempty"`
	Mode        string               `json:"mode,omitempty"` // selects the now-playing template variant

	// Played is reset every time the item becomes head of the queue.
	Played bool `json:"played"`

	// Handle is the now-playing message sent for this item, if any.
	Handle notify.MessageHandle `json:"handle"`

	// LocalPath is set once a pending download has been fetched.
	LocalPath string `json:"local_path,omitempty"`
}

// Session is a point-in-time copy of one session's queue state.
type Session struct {
	Key         string
	Items       []Item
	LoopCount   int
	Assistant   int
	VideoActive bool
}

// ClearHook runs after a session has been cleared.
type ClearHook func(ctx context.Context, key string)

type sessionQueue struct {
	mu        sync.Mutex
	items     []*Item
	loop      int
	assistant int
	video     bool
	dead      bool
}

// Store is the set of session queues. Operations on one key are atomic with
// respect to each other; different keys never contend on the same lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionQueue

	hookMu sync.RWMutex
	hooks  []ClearHook
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*sessionQueue)}
}

// OnClear registers a hook invoked by Clear.
func (s *Store) OnClear(hook ClearHook) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, hook)
	s.hookMu.Unlock()
}

func (s *Store) lookup(key string, create bool) *sessionQueue {
	s.mu.RLock()
	q := s.sessions[key]
	s.mu.RUnlock()
	if q != nil || !create {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q = s.sessions[key]; q == nil {
		q = &sessionQueue{}
		s.sessions[key] = q
	}
	return q
}

// with runs fn under the session's lock. A session removed by a concurrent
// Clear is looked up again so writes never land on a discarded queue.
func (s *Store) with(key string, create bool, fn func(q *sessionQueue)) bool {
	for {
		q := s.lookup(key, create)
		if q == nil {
			return false
		}
		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			continue
		}
		fn(q)
		q.mu.Unlock()
		return true
	}
}

// Enqueue appends item and returns its position, 0 being the head.
func (s *Store) Enqueue(key string, item *Item) int {
	var pos int
	s.with(key, true, func(q *sessionQueue) {
		if len(q.items) == 0 {
			item.Played = false
		}
		q.items = append(q.items, item)
		pos = len(q.items) - 1
	})
	return pos
}

// PeekHead returns a copy of the head item, or nil when the queue is empty.
func (s *Store) PeekHead(key string) *Item {
	var head *Item
	s.with(key, false, func(q *sessionQueue) {
		if len(q.items) > 0 {
			cp := *q.items[0]
			head = &cp
		}
	})
	return head
}

// PopHead removes and returns the head item. It returns nil on an empty queue.
func (s *Store) PopHead(key string) *Item {
	var popped *Item
	s.with(key, false, func(q *sessionQueue) {
		if len(q.items) == 0 {
			return
		}
		popped = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		if len(q.items) > 0 {
			q.items[0].Played = false
		}
	})
	return popped
}

// ReplaceHead swaps the head for item and returns the old head. On an empty
// queue item becomes the head and nil is returned.
func (s *Store) ReplaceHead(key string, item *Item) *Item {
	var old *Item
	s.with(key, true, func(q *sessionQueue) {
		item.Played = false
		if len(q.items) == 0 {
			q.items = append(q.items, item)
			return
		}
		old = q.items[0]
		q.items[0] = item
	})
	return old
}

// IsEmpty reports whether the session has no queued items.
func (s *Store) IsEmpty(key string) bool {
	return s.Len(key) == 0
}

// Len returns the number of queued items.
func (s *Store) Len(key string) int {
	var n int
	s.with(key, false, func(q *sessionQueue) {
		n = len(q.items)
	})
	return n
}

// Items returns copies of the queued items in playback order.
func (s *Store) Items(key string) []Item {
	var out []Item
	s.with(key, false, func(q *sessionQueue) {
		out = make([]Item, 0, len(q.items))
		for _, it := range q.items {
			out = append(out, *it)
		}
	})
	return out
}

// LoopCount returns the remaining repeats of the head item.
func (s *Store) LoopCount(key string) int {
	var n int
	s.with(key, false, func(q *sessionQueue) {
		n = q.loop
	})
	return n
}

// SetLoopCount records the remaining repeats. Negative values are stored as 0.
func (s *Store) SetLoopCount(key string, n int) bool {
	if n < 0 {
		n = 0
	}
	return s.with(key, false, func(q *sessionQueue) {
		q.loop = n
	})
}

// Bind records the assistant slot and video state of a live session.
func (s *Store) Bind(key string, slot int, video bool) bool {
	return s.with(key, false, func(q *sessionQueue) {
		q.assistant = slot
		q.video = video
	})
}

// SetHandle attaches a now-playing message handle to the item with itemID.
func (s *Store) SetHandle(key, itemID string, handle notify.MessageHandle) bool {
	var found bool
	s.with(key, false, func(q *sessionQueue) {
		for _, it := range q.items {
			if it.ID == itemID {
				it.Handle = handle
				found = true
				return
			}
		}
	})
	return found
}

// SetLocalPath records where a pending download was fetched to.
func (s *Store) SetLocalPath(key, itemID, path string) bool {
	var found bool
	s.with(key, false, func(q *sessionQueue) {
		for _, it := range q.items {
			if it.ID == itemID {
				it.LocalPath = path
				found = true
				return
			}
		}
	})
	return found
}

// MarkPlayed flags the head item as played if it is itemID.
func (s *Store) MarkPlayed(key, itemID string) bool {
	var ok bool
	s.with(key, false, func(q *sessionQueue) {
		if len(q.items) > 0 && q.items[0].ID == itemID {
			q.items[0].Played = true
			ok = true
		}
	})
	return ok
}

// Session returns a snapshot of the session, or false if it does not exist.
func (s *Store) Session(key string) (Session, bool) {
	var snap Session
	ok := s.with(key, false, func(q *sessionQueue) {
		snap = Session{
			Key:         key,
			Items:       make([]Item, 0, len(q.items)),
			LoopCount:   q.loop,
			Assistant:   q.assistant,
			VideoActive: q.video,
		}
		for _, it := range q.items {
			snap.Items = append(snap.Items, *it)
		}
	})
	return snap, ok
}

// Keys returns every known session key in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Clear drops the session and returns the items that were queued. Registered
// hooks run afterwards whether or not the session existed.
func (s *Store) Clear(ctx context.Context, key string) []*Item {
	s.mu.Lock()
	q := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()

	var dropped []*Item
	if q != nil {
		q.mu.Lock()
		dropped = q.items
		q.items = nil
		q.dead = true
		q.mu.Unlock()
	}

	s.hookMu.RLock()
	hooks := append([]ClearHook(nil), s.hooks...)
	s.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, key)
	}
	return dropped
}
