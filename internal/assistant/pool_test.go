/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/transport"
)

type stubTransport struct {
	mu       sync.Mutex
	slot     int
	started  bool
	stopped  bool
	startErr error
	rtt      time.Duration
	events   chan transport.Event
}

func newStub(slot int) *stubTransport {
	return &stubTransport{slot: slot, rtt: time.Duration(slot) * time.Millisecond, events: make(chan transport.Event, 8)}
}

func (s *stubTransport) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *stubTransport) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.events)
	}
	return nil
}

func (s *stubTransport) SelfID() string { return fmt.Sprintf("user-%d", s.slot) }
func (s *stubTransport) JoinChat(context.Context, string) error { return nil }
func (s *stubTransport) Join(context.Context, string, transport.StreamDescriptor) error {
	return nil
}
func (s *stubTransport) ChangeStream(context.Context, string, transport.StreamDescriptor) error {
	return nil
}
func (s *stubTransport) Leave(context.Context, string) error { return nil }
func (s *stubTransport) Pause(context.Context, string) error { return nil }
func (s *stubTransport) Resume(context.Context, string) error { return nil }
func (s *stubTransport) Mute(context.Context, string) error { return nil }
func (s *stubTransport) Unmute(context.Context, string) error { return nil }
func (s *stubTransport) Participants(context.Context, string) (int, error) { return 1, nil }
func (s *stubTransport) Ping(context.Context) (time.Duration, error) { return s.rtt, nil }
func (s *stubTransport) Events() <-chan transport.Event { return s.events }

func stubDialer(stubs map[int]*stubTransport) Dialer {
	return func(sc SlotConfig) (transport.Transport, error) {
		s := newStub(sc.Slot)
		stubs[sc.Slot] = s
		return s, nil
	}
}

func allSlots() []SlotConfig {
	slots := make([]SlotConfig, 0, MaxSlots)
	for i := 1; i <= MaxSlots; i++ {
		slots = append(slots, SlotConfig{Slot: i, Credential: fmt.Sprintf("cred-%d", i)})
	}
	return slots
}

func TestNewPoolSkipsEmptyCredentials(t *testing.T) {
	stubs := map[int]*stubTransport{}
	pool, err := NewPool([]SlotConfig{
		{Slot: 1, Credential: "a"},
		{Slot: 2},
		{Slot: 3, Credential: "c"},
	}, stubDialer(stubs), zerolog.Nop())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	got := pool.Slots()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("slots = %v, want [1 3]", got)
	}
	if _, ok := stubs[2]; ok {
		t.Fatal("slot without credential should not be dialed")
	}
}

func TestNewPoolWithoutAssistantsIsFatal(t *testing.T) {
	_, err := NewPool([]SlotConfig{{Slot: 1}, {Slot: 2}}, stubDialer(map[int]*stubTransport{}), zerolog.Nop())
	if !errors.Is(err, ErrNoAssistants) {
		t.Fatalf("err = %v, want ErrNoAssistants", err)
	}
}

func TestNewPoolRejectsOutOfRangeSlot(t *testing.T) {
	_, err := NewPool([]SlotConfig{{Slot: 6, Credential: "x"}}, stubDialer(map[int]*stubTransport{}), zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for slot 6")
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	pool, err := NewPool(allSlots(), stubDialer(map[int]*stubTransport{}), zerolog.Nop())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("-100%07d", i)
		first, err := pool.Select(key)
		if err != nil {
			t.Fatalf("select %s: %v", key, err)
		}
		for j := 0; j < 5; j++ {
			again, _ := pool.Select(key)
			if again != first {
				t.Fatalf("select %s returned slot %d then %d", key, first.Slot, again.Slot)
			}
		}
	}

	// A second pool with the same membership agrees.
	other, _ := NewPool(allSlots(), stubDialer(map[int]*stubTransport{}), zerolog.Nop())
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("chat-%d", i)
		a, _ := pool.Select(key)
		b, _ := other.Select(key)
		if a.Slot != b.Slot {
			t.Fatalf("pools disagree on %s: %d vs %d", key, a.Slot, b.Slot)
		}
	}
}

func TestSelectSpreadsSessions(t *testing.T) {
	pool, _ := NewPool(allSlots(), stubDialer(map[int]*stubTransport{}), zerolog.Nop())

	counts := make(map[int]int)
	for i := 0; i < 1000; i++ {
		a, _ := pool.Select(fmt.Sprintf("chat-%04d", i))
		counts[a.Slot]++
	}
	if len(counts) != MaxSlots {
		t.Fatalf("expected every slot to receive sessions, got %v", counts)
	}
}

func TestStartFanInAndStopAll(t *testing.T) {
	stubs := map[int]*stubTransport{}
	pool, err := NewPool(allSlots()[:2], stubDialer(stubs), zerolog.Nop())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for slot, s := range stubs {
		if !s.started {
			t.Fatalf("slot %d not started", slot)
		}
	}

	stubs[2].events <- transport.Event{Type: transport.EventStreamEnded, ChatID: "g1"}

	select {
	case ev := <-pool.Events():
		if ev.Slot != 2 || ev.ChatID != "g1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fanned-in event")
	}

	if err := pool.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if err := pool.StopAll(context.Background()); err != nil {
		t.Fatalf("second stop all: %v", err)
	}
	if _, ok := <-pool.Events(); ok {
		t.Fatal("expected pool events to be closed")
	}
}

func TestStartReportsFailure(t *testing.T) {
	dial := func(sc SlotConfig) (transport.Transport, error) {
		s := newStub(sc.Slot)
		if sc.Slot == 2 {
			s.startErr = errors.New("auth key revoked")
		}
		return s, nil
	}
	pool, _ := NewPool(allSlots()[:3], dial, zerolog.Nop())
	if err := pool.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
}

func TestPingAverages(t *testing.T) {
	pool, _ := NewPool(allSlots()[:3], stubDialer(map[int]*stubTransport{}), zerolog.Nop())

	if _, err := pool.Ping(context.Background()); !errors.Is(err, transport.ErrNotStarted) {
		t.Fatalf("ping before start err = %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.StopAll(context.Background())

	avg, err := pool.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if avg != 2*time.Millisecond {
		t.Fatalf("avg = %v, want 2ms", avg)
	}
}
