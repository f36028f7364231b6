package log

import (
	"encoding/json"
	"testing"
	"time"

	"bkonline.net/internal/lobby"
)

func TestJournalRotatesAndReplays(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir)
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	j.w.now = func() time.Time { return clock }

	rec := func(lobbyID, group string) {
		t.Helper()
		err := j.Record(lobby.Update{Time: clock, Lobby: lobbyID, Peer: "p1", Group: group, Payload: json.RawMessage(`{"value":1}`)})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	rec("main", "SyncMoves")
	rec("other", "SyncMoves")
	clock = clock.Add(2 * time.Minute)
	rec("main", "SyncLevelEvents")
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir+"/journal", "updates")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}

	var groups []string
	err = ReadJournal(dir, "main", func(u lobby.Update) error {
		groups = append(groups, u.Group)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(groups) != 2 || groups[0] != "SyncMoves" || groups[1] != "SyncLevelEvents" {
		t.Fatalf("groups=%v", groups)
	}
}

func TestJournalAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		j := NewJournal(dir)
		if err := j.Record(lobby.Update{Lobby: "main", Group: "SyncMoves"}); err != nil {
			t.Fatalf("record: %v", err)
		}
		j.Close()
	}
	n := 0
	if err := ReadJournal(dir, "", func(lobby.Update) error { n++; return nil }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 2 {
		t.Fatalf("replayed %d", n)
	}
}
