/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/voxqueue/internal/transport"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOneCommandInFlightPerChat(t *testing.T) {
	h := newHarness(t)
	for _, ft := range h.transports {
		ft.delay = time.Millisecond
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, chat := range []string{"a", "b", "c"} {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(chat string, i int) {
				defer wg.Done()
				_, _ = h.ctrl.Play(ctx, PlayRequest{
					ChatID: chat,
					Item:   itemFor(fmt.Sprintf("%s-%d", chat, i)),
				})
				switch i % 4 {
				case 0:
					h.event(chat, transport.EventStreamEnded)
				case 1:
					_ = h.ctrl.Pause(ctx, chat)
				case 2:
					_ = h.ctrl.Skip(ctx, chat)
				case 3:
					h.event(chat, transport.EventParticipantLeft)
				}
			}(chat, i)
		}
	}
	wg.Wait()

	for slot, ft := range h.transports {
		if ft.overlapped() {
			t.Fatalf("assistant %d saw overlapping commands for one chat", slot)
		}
	}
	for _, chat := range []string{"a", "b", "c"} {
		st := h.ctrl.sessionState(chat)
		if st != StatePlaying && st != StateIdle {
			t.Fatalf("chat %s settled in %s", chat, st)
		}
	}
}

func TestBlockedChatDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)
	ft := h.transport(t, "slow")
	release := make(chan struct{})
	ft.mu.Lock()
	ft.blockChat = "slow"
	ft.blockJoin = release
	ft.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Play(context.Background(), PlayRequest{ChatID: "slow", Item: itemFor("s1")})
		done <- err
	}()
	waitFor(t, "slow join in flight", func() bool { return ft.count("slow", "join") == 1 })

	fast := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Play(context.Background(), PlayRequest{ChatID: "fast", Item: itemFor("f1")})
		fast <- err
	}()
	select {
	case err := <-fast:
		if err != nil {
			t.Fatalf("fast play: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fast chat was blocked by slow chat")
	}
	if got := h.ctrl.sessionState("slow"); got != StateJoining {
		t.Fatalf("slow state = %s, want joining", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("slow play: %v", err)
	}
}

func TestRunHandlesEventsInOrder(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(func() { _ = h.pool.StopAll(context.Background()) })

	finished := make(chan struct{})
	go func() {
		h.ctrl.Run(ctx)
		close(finished)
	}()

	h.play(t, "c1", "r1")
	h.play(t, "c1", "r2")
	h.play(t, "c1", "r3")

	ft := h.transport(t, "c1")
	ft.events <- transport.Event{Type: transport.EventStreamEnded, ChatID: "c1"}
	ft.events <- transport.Event{Type: transport.EventStreamEnded, ChatID: "c1"}

	waitFor(t, "two advances", func() bool { return ft.count("c1", "change_stream") == 2 })
	var sources []string
	for _, c := range ft.ops("c1") {
		if c.Op == "change_stream" {
			sources = append(sources, c.Stream.Source)
		}
	}
	if sources[0] != "r2" || sources[1] != "r3" {
		t.Fatalf("advanced through %v, want [r2 r3]", sources)
	}

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunDoesNotStallOnBusyChat(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	h.play(t, "fast", "f1")
	h.play(t, "fast", "f2")

	slow := h.transport(t, "slow")
	release := make(chan struct{})
	slow.mu.Lock()
	slow.blockChat = "slow"
	slow.blockJoin = release
	slow.mu.Unlock()

	played := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Play(context.Background(), PlayRequest{ChatID: "slow", Item: itemFor("s1")})
		played <- err
	}()
	waitFor(t, "slow join in flight", func() bool { return slow.count("slow", "join") == 1 })

	if err := h.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(func() { _ = h.pool.StopAll(context.Background()) })

	finished := make(chan struct{})
	go func() {
		h.ctrl.Run(ctx)
		close(finished)
	}()

	// The sender must be gone before StopAll closes the event channels.
	quit := make(chan struct{})
	sent := make(chan struct{})
	fast := h.transport(t, "fast")
	go func() {
		defer close(sent)
		send := func(ft *fakeTransport, ev transport.Event) bool {
			select {
			case ft.events <- ev:
				return true
			case <-quit:
				return false
			}
		}
		for i := 0; i < 100; i++ {
			if !send(slow, transport.Event{Type: transport.EventParticipantJoined, ChatID: "slow"}) {
				return
			}
		}
		send(fast, transport.Event{Type: transport.EventStreamEnded, ChatID: "fast"})
	}()
	t.Cleanup(func() {
		close(quit)
		<-sent
		close(release)
		<-played
		cancel()
		<-finished
	})

	waitFor(t, "fast chat to advance", func() bool { return fast.count("fast", "change_stream") == 1 })
	if got, _ := fast.lastStream("fast"); got.Source != "f2" {
		t.Fatalf("fast advanced to %q, want f2", got.Source)
	}
	if got := h.ctrl.sessionState("slow"); got != StateJoining {
		t.Fatalf("slow state = %s, want joining", got)
	}
}
