/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package assistant manages the fixed pool of worker accounts that join voice
// chats on behalf of the bot.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/voxqueue/internal/transport"
)

// MaxSlots is the number of assistant slots the pool supports.
const MaxSlots = 5

var (
	// ErrNoAssistants is the configuration-fatal error for an empty pool.
	ErrNoAssistants = errors.New("no assistant credentials configured")

	// ErrUnknownSlot is returned by Get for a slot that is not configured.
	ErrUnknownSlot = errors.New("unknown assistant slot")
)

// SlotConfig is one configured assistant slot.
type SlotConfig struct {
	Slot       int
	Credential string
}

// Dialer builds the transport client for a configured slot.
type Dialer func(slot SlotConfig) (transport.Transport, error)

// Assistant is one pooled worker connection.
type Assistant struct {
	Slot int
	Name string

	transport transport.Transport

	mu      sync.Mutex
	started bool
}

// Transport returns the assistant's call transport.
func (a *Assistant) Transport() transport.Transport {
	return a.transport
}

// IsStarted reports whether the assistant connection is live.
func (a *Assistant) IsStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *Assistant) start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if err := a.transport.Start(ctx); err != nil {
		return err
	}
	a.started = true
	return nil
}

func (a *Assistant) stop(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return false, nil
	}
	a.started = false
	return true, a.transport.Stop(ctx)
}

// Pool owns every configured assistant, selects one per session and fans
// their transport events into a single stream.
type Pool struct {
	logger zerolog.Logger

	assistants map[int]*Assistant
	byName     map[string]*Assistant
	ring       *hashRing

	events    chan transport.Event
	done      chan struct{}
	forwardWG sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool builds the pool from slot configuration. Slots without a
// credential are skipped; a pool with no usable slot is a fatal error.
func NewPool(slots []SlotConfig, dial Dialer, logger zerolog.Logger) (*Pool, error) {
	p := &Pool{
		logger:     logger.With().Str("component", "assistant_pool").Logger(),
		assistants: make(map[int]*Assistant),
		byName:     make(map[string]*Assistant),
		ring:       newHashRing(100),
		events:     make(chan transport.Event, 256),
		done:       make(chan struct{}),
	}

	for _, sc := range slots {
		if sc.Credential == "" {
			continue
		}
		if sc.Slot < 1 || sc.Slot > MaxSlots {
			return nil, fmt.Errorf("assistant slot %d out of range 1..%d", sc.Slot, MaxSlots)
		}
		if _, dup := p.assistants[sc.Slot]; dup {
			return nil, fmt.Errorf("assistant slot %d configured twice", sc.Slot)
		}

		tr, err := dial(sc)
		if err != nil {
			return nil, fmt.Errorf("dial assistant %d: %w", sc.Slot, err)
		}

		a := &Assistant{
			Slot:      sc.Slot,
			Name:      fmt.Sprintf("assistant-%d", sc.Slot),
			transport: tr,
		}
		p.assistants[sc.Slot] = a
		p.byName[a.Name] = a
		p.ring.add(a.Name)
	}

	if len(p.assistants) == 0 {
		return nil, ErrNoAssistants
	}

	return p, nil
}

// Start connects every configured assistant concurrently and begins
// forwarding their events.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info().Ints("slots", p.Slots()).Msg("starting assistants")

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range p.assistants {
		a := a
		g.Go(func() error {
			if err := a.start(gctx); err != nil {
				return fmt.Errorf("start %s: %w", a.Name, err)
			}
			p.logger.Info().Int("slot", a.Slot).Str("self_id", a.transport.SelfID()).Msg("assistant started")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, a := range p.assistants {
		p.forwardWG.Add(1)
		go p.forward(a)
	}
	return nil
}

// forward copies one assistant's events into the pool stream, tagging the slot.
func (p *Pool) forward(a *Assistant) {
	defer p.forwardWG.Done()
	src := a.transport.Events()
	for {
		select {
		case ev, ok := <-src:
			if !ok {
				return
			}
			ev.Slot = a.Slot
			select {
			case p.events <- ev:
			case <-p.done:
				return
			}
		case <-p.done:
			return
		}
	}
}

// StopAll disconnects every started assistant. It is safe to call more than once.
func (p *Pool) StopAll(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	var errs []error
	for _, slot := range p.Slots() {
		a := p.assistants[slot]
		wasStarted, err := a.stop(ctx)
		if err != nil {
			p.logger.Error().Err(err).Int("slot", slot).Msg("failed to stop assistant")
			errs = append(errs, fmt.Errorf("stop %s: %w", a.Name, err))
			continue
		}
		if wasStarted {
			p.logger.Info().Int("slot", slot).Msg("assistant stopped")
		}
	}

	close(p.done)
	p.forwardWG.Wait()
	close(p.events)

	return errors.Join(errs...)
}

// Select returns the assistant serving sessionKey. The mapping is stable for
// a fixed set of configured slots.
func (p *Pool) Select(sessionKey string) (*Assistant, error) {
	name, ok := p.ring.get(sessionKey)
	if !ok {
		return nil, ErrNoAssistants
	}
	return p.byName[name], nil
}

// Get returns the assistant configured for slot.
func (p *Pool) Get(slot int) (*Assistant, error) {
	a, ok := p.assistants[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	return a, nil
}

// Slots returns the configured slot numbers in ascending order.
func (p *Pool) Slots() []int {
	slots := make([]int, 0, len(p.assistants))
	for slot := range p.assistants {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}

// Events is the fan-in of every assistant's lifecycle events. It is closed by StopAll.
func (p *Pool) Events() <-chan transport.Event {
	return p.events
}

// Ping returns the mean round-trip time across started assistants.
func (p *Pool) Ping(ctx context.Context) (time.Duration, error) {
	var (
		mu    sync.Mutex
		total time.Duration
		n     int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range p.assistants {
		if !a.IsStarted() {
			continue
		}
		a := a
		g.Go(func() error {
			rtt, err := a.transport.Ping(gctx)
			if err != nil {
				return fmt.Errorf("ping %s: %w", a.Name, err)
			}
			mu.Lock()
			total += rtt
			n++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, transport.ErrNotStarted
	}
	return total / time.Duration(n), nil
}
