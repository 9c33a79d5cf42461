/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is a session's position in the call lifecycle.
type State int32

const (
	StateIdle State = iota
	StateJoining
	StatePlaying
	StateAdvancing
	StateTeardown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StatePlaying:
		return "playing"
	case StateAdvancing:
		return "advancing"
	case StateTeardown:
		return "teardown"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var validTransitions = map[State][]State{
	StateIdle:      {StateJoining, StateTeardown},
	StateJoining:   {StatePlaying, StateIdle, StateTeardown},
	StatePlaying:   {StateAdvancing, StateTeardown},
	StateAdvancing: {StatePlaying, StateTeardown},
	StateTeardown:  {StateIdle},
}

func isValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// session is the controller's per-chat exclusion unit. Every state change
// and every transport command for the chat happens with mu held.
type session struct {
	key string
	mu  sync.Mutex

	state atomic.Int32

	// guarded by mu
	slot    int
	video   bool
	evicted bool
}

func (s *session) current() State {
	return State(s.state.Load())
}

// transition moves the session to next; mu must be held.
func (s *session) transition(next State) error {
	from := s.current()
	if !isValidTransition(from, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	s.state.Store(int32(next))
	return nil
}

// acquire returns the locked session for key. With create false it returns
// nil for unknown keys. A session evicted while we waited for its lock is
// looked up again.
func (c *Controller) acquire(key string, create bool) *session {
	for {
		c.mu.Lock()
		s := c.sessions[key]
		if s == nil {
			if !create {
				c.mu.Unlock()
				return nil
			}
			s = &session{key: key}
			c.sessions[key] = s
		}
		c.mu.Unlock()

		s.mu.Lock()
		if s.evicted {
			s.mu.Unlock()
			continue
		}
		return s
	}
}

// release unlocks s, evicting it first when it has returned to Idle.
func (c *Controller) release(s *session) {
	if s.current() == StateIdle {
		c.mu.Lock()
		if c.sessions[s.key] == s {
			delete(c.sessions, s.key)
		}
		c.mu.Unlock()
		s.evicted = true
	}
	s.mu.Unlock()
}

func (c *Controller) sessionState(key string) State {
	c.mu.Lock()
	s := c.sessions[key]
	c.mu.Unlock()
	if s == nil {
		return StateIdle
	}
	return s.current()
}
