package logbuffer

import (
	"fmt"
	"testing"
	"time"
)

func TestRingKeepsNewest(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Add(Entry{Message: fmt.Sprintf("m%d", i)})
	}

	got := b.Query(Query{})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"m4", "m3", "m2"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.Add(Entry{Timestamp: base, Level: "info", Component: "orchestrator", ChatID: "g1", Message: "Joined call"})
	b.Add(Entry{Timestamp: base.Add(time.Minute), Level: "warn", Component: "orchestrator", ChatID: "g1", Message: "retrying join"})
	b.Add(Entry{Timestamp: base.Add(2 * time.Minute), Level: "info", Component: "api", ChatID: "g2", Message: "play"})

	tests := []struct {
		name string
		q    Query
		want int
	}{
		{"level", Query{Level: "info"}, 2},
		{"component", Query{Component: "orchestrator"}, 2},
		{"chat", Query{ChatID: "g2"}, 1},
		{"search is case-insensitive", Query{Search: "JOIN"}, 2},
		{"since", Query{Since: base.Add(30 * time.Second)}, 2},
		{"limit", Query{Limit: 1}, 1},
	}
	for _, tt := range tests {
		if got := len(b.Query(tt.q)); got != tt.want {
			t.Errorf("%s: got %d entries, want %d", tt.name, got, tt.want)
		}
	}
}

func TestWriteParsesZerologJSON(t *testing.T) {
	b := New(10)
	line := `{"level":"warn","service":"voxqueue","component":"orchestrator","chat_id":"g1","time":1772366400,"message":"join failed"}`
	if n, err := b.Write([]byte(line)); err != nil || n != len(line) {
		t.Fatalf("write = %d, %v", n, err)
	}
	if _, err := b.Write([]byte("not json")); err != nil {
		t.Fatalf("non-json write: %v", err)
	}

	got := b.Query(Query{})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	e := got[0]
	if e.Level != "warn" || e.Component != "orchestrator" || e.ChatID != "g1" || e.Message != "join failed" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Timestamp.Unix() != 1772366400 {
		t.Fatalf("timestamp = %v", e.Timestamp)
	}
	if e.Fields["service"] != "voxqueue" {
		t.Fatalf("fields = %v", e.Fields)
	}

	st := b.Stats()
	if st.Count != 1 || st.Levels["warn"] != 1 || st.Capacity != 10 {
		t.Fatalf("stats = %+v", st)
	}
}
