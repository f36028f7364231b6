package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sony/gobreaker"

	"bkonline.net/internal/progress"
)

func sampleStore() *progress.Store {
	st := progress.NewStore()
	st.Moves = 0x1234
	st.JiggyFlags[0] = 0x05
	st.NoteTotals[1] = 77
	rec := st.EnsureScene(progress.LevelMumbosMountain, 0x02)
	rec.Events = 0x3
	rec.MergeNotes([]int64{10, 20})
	st.EnsureLevel(progress.LevelMumbosMountain).Jinjos = 0x11
	return st
}

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "main", 1)
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Lobby: "main", Seq: 1}, Store: sampleStore()}); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Version != Version || h.Lobby != "main" || h.Seq != 1 || h.SavedAt == 0 {
		t.Fatalf("header=%+v", h)
	}

	snap, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	st := snap.Store
	if st.Moves != 0x1234 || st.JiggyFlags[0] != 0x05 || st.NoteTotals[1] != 77 {
		t.Fatalf("store=%+v", st)
	}
	rec := st.Scene(progress.LevelMumbosMountain, 0x02)
	if rec == nil || rec.Events != 0x3 || len(rec.Notes) != 2 {
		t.Fatalf("scene=%+v", rec)
	}
	if len(st.GameFlags) != progress.GameFlagsSize {
		t.Fatalf("game flags not normalized: %d", len(st.GameFlags))
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestLobbyDirEscapes(t *testing.T) {
	dir := t.TempDir()
	got := LobbyDir(dir, "../../etc")
	if filepath.Dir(got) != dir || strings.Contains(filepath.Base(got), "/") {
		t.Fatalf("dir=%s", got)
	}
	if err := os.MkdirAll(got, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ids, err := Lobbies(dir)
	if err != nil || len(ids) != 1 || ids[0] != "../../etc" {
		t.Fatalf("ids=%v err=%v", ids, err)
	}
}

func TestSinkSequencesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	var saved []Saved
	s := NewSink(SinkConfig{Dir: dir, Keep: 2}, nil)
	s.OnSaved = func(v Saved) { saved = append(saved, v) }

	st := sampleStore()
	for i := 0; i < 3; i++ {
		st.Moves++
		if err := s.Save("main", st); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	seqs, err := List(dir, "main")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 2 || seqs[1] != 3 {
		t.Fatalf("seqs=%v", seqs)
	}
	if len(saved) != 3 || saved[2].Seq != 3 {
		t.Fatalf("saved=%+v", saved)
	}

	// A fresh sink continues after the newest file.
	s2 := NewSink(SinkConfig{Dir: dir}, nil)
	got, err := s2.Load("main")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Moves != 0x1234+3 {
		t.Fatalf("moves=%#x", got.Moves)
	}
	if err := s2.Save("main", got); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, seq, _ := Latest(dir, "main"); seq != 4 {
		t.Fatalf("latest seq=%d", seq)
	}
}

func TestSinkLoadMissing(t *testing.T) {
	s := NewSink(SinkConfig{Dir: t.TempDir()}, nil)
	st, err := s.Load("nobody")
	if err != nil || st != nil {
		t.Fatalf("st=%v err=%v", st, err)
	}
}

func TestSinkBreakerOpens(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the lobby directory should be makes every write fail.
	if err := os.WriteFile(LobbyDir(dir, "main"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	s := NewSink(SinkConfig{Dir: dir, FailureThreshold: 2}, nil)
	s.seq["main"] = 0
	for i := 0; i < 2; i++ {
		if err := s.Save("main", progress.NewStore()); err == nil {
			t.Fatalf("save %d succeeded", i)
		}
	}
	if s.State() != gobreaker.StateOpen {
		t.Fatalf("state=%v", s.State())
	}
	err := s.Save("main", progress.NewStore())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err=%v", err)
	}
}
