package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"bkonline.net/internal/lobby"
	plog "bkonline.net/internal/persistence/log"
	"bkonline.net/internal/progress"
)

func TestPersisterSavesRestoresAndJournals(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(Config{DataDir: dir, SnapshotKeep: 3, Journal: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if st, err := p.Load("main"); err != nil || st != nil {
		t.Fatalf("fresh load st=%v err=%v", st, err)
	}

	st := progress.NewStore()
	st.Moves = 0x99
	if err := p.Save("main", st); err != nil {
		t.Fatalf("save: %v", err)
	}
	u := lobby.Update{Time: time.Now().UTC(), Lobby: "main", Peer: "p1", Group: "SyncMoves", Payload: json.RawMessage(`{"value":153}`)}
	if err := p.Record(u); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := p.Load("main")
	if err != nil || got == nil || got.Moves != 0x99 {
		t.Fatalf("load=%+v err=%v", got, err)
	}

	ctx := context.Background()
	if err := p.Index().Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	rows, err := p.Index().Lobbies(ctx)
	if err != nil || len(rows) != 1 || rows[0].Updates != 1 || rows[0].Snapshots != 1 {
		t.Fatalf("lobbies=%+v err=%v", rows, err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	n := 0
	if err := plog.ReadJournal(dir, "main", func(lobby.Update) error { n++; return nil }); err != nil || n != 1 {
		t.Fatalf("journal n=%d err=%v", n, err)
	}
}

func TestPersisterWithoutIndex(t *testing.T) {
	p, err := Open(Config{DataDir: t.TempDir(), IndexPath: "-"}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()
	if p.Index() != nil {
		t.Fatalf("index opened")
	}
	if err := p.Record(lobby.Update{Lobby: "main"}); err != nil {
		t.Fatalf("record: %v", err)
	}
}
