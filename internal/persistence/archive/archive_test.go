package archive

import (
	"os"
	"path/filepath"
	"testing"

	"bkonline.net/internal/persistence/snapshot"
	"bkonline.net/internal/progress"
)

func writeSnap(t *testing.T, dir string, seq uint64, st *progress.Store) string {
	t.Helper()
	p := snapshot.Path(dir, "main", seq)
	if err := snapshot.WriteSnapshot(p, snapshot.SnapshotV1{Header: snapshot.Header{Lobby: "main", Seq: seq}, Store: st}); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestArchiveCopiesSnapshotWithSummary(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "archives")

	st := progress.NewStore()
	st.JiggyFlags[0] = 0x07
	st.Moves = 0x3
	st.NoteTotals[0] = 40
	st.NoteTotals[1] = 100
	st.EnsureScene(progress.LevelMumbosMountain, 0x02)
	src := writeSnap(t, filepath.Join(dir, "snapshots"), 5, st)

	meta, err := Archive(root, src, "")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if meta.Name != "seq-000000000005" || meta.Lobby != "main" || meta.Seq != 5 {
		t.Fatalf("meta=%+v", meta)
	}
	want := Summary{Jiggies: 3, Moves: 2, Notes: 140, Scenes: 1}
	if meta.Summary != want {
		t.Fatalf("summary=%+v", meta.Summary)
	}

	snap, err := snapshot.ReadSnapshot(meta.Snapshot)
	if err != nil || snap.Store.JiggyFlags[0] != 0x07 {
		t.Fatalf("archived snapshot err=%v", err)
	}
	if _, err := Archive(root, src, ""); err == nil {
		t.Fatalf("archive overwritten")
	}

	list, err := List(root, "main")
	if err != nil || len(list) != 1 || list[0].Seq != 5 {
		t.Fatalf("list=%+v err=%v", list, err)
	}
}

func TestArchiveRejectsPathNames(t *testing.T) {
	dir := t.TempDir()
	src := writeSnap(t, dir, 1, progress.NewStore())
	if _, err := Archive(filepath.Join(dir, "archives"), src, "../escape"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.snap.zst")); !os.IsNotExist(err) {
		t.Fatalf("file written outside archive: %v", err)
	}
}
