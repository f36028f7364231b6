package main

import (
	"encoding/json"
	"testing"
	"time"

	"bkonline.net/internal/lobby"
	persistlog "bkonline.net/internal/persistence/log"
	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

func writeJournal(t *testing.T, dir string, updates []lobby.Update) {
	t.Helper()
	j := persistlog.NewJournal(dir)
	for _, u := range updates {
		if err := j.Record(u); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestRebuildFromEmptyStore(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeJournal(t, dir, []lobby.Update{
		{Time: now, Lobby: "main", Group: protocol.GroupSyncMoves, Payload: payload(t, protocol.ValuePayload{Value: 0x3})},
		{Time: now, Lobby: "other", Group: protocol.GroupSyncMoves, Payload: payload(t, protocol.ValuePayload{Value: 0x40})},
		{Time: now, Lobby: "main", Group: protocol.GroupSyncNoteTotals, Payload: payload(t, protocol.BufferPayload{Value: []byte{0, 12}})},
		{Time: now, Lobby: "main", Group: protocol.GroupSyncMoves, Payload: payload(t, protocol.ValuePayload{Value: 0x3})},
	})

	st, stats, err := rebuild(dir, "main", progress.NewStore(), time.Time{})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if st.Moves != 0x3 || st.NoteTotals[1] != 12 {
		t.Fatalf("moves=%#x notes=%v", st.Moves, st.NoteTotals)
	}
	if stats.Read != 3 || stats.Applied != 3 || stats.Changed != 2 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestRebuildSkipsUpdatesBeforeBase(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeJournal(t, dir, []lobby.Update{
		{Time: base.Add(-time.Minute), Lobby: "main", Group: protocol.GroupSyncMoves, Payload: payload(t, protocol.ValuePayload{Value: 0x1})},
		{Time: base.Add(time.Minute), Lobby: "main", Group: protocol.GroupSyncMoves, Payload: payload(t, protocol.ValuePayload{Value: 0x2})},
	})

	start := progress.NewStore()
	start.Moves = 0x10
	st, stats, err := rebuild(dir, "main", start, base)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if st.Moves != 0x12 {
		t.Fatalf("moves=%#x", st.Moves)
	}
	if start.Moves != 0x10 {
		t.Fatalf("base store mutated: %#x", start.Moves)
	}
	if stats.Read != 2 || stats.Applied != 1 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestSameStore(t *testing.T) {
	a := progress.NewStore()
	b := progress.NewStore()
	if !sameStore(a, b) {
		t.Fatalf("empty stores differ")
	}
	b.EnsureScene(progress.LevelMumbosMountain, 1).Events = 1
	if sameStore(a, b) {
		t.Fatalf("stores should differ")
	}
}
