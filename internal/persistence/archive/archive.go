// Package archive keeps copies of lobby snapshots outside the pruned snapshot
// directory, each with a small JSON summary of the progress it holds.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"sort"
	"time"

	"bkonline.net/internal/persistence/snapshot"
	"bkonline.net/internal/progress"
)

// Meta describes one archived snapshot.
type Meta struct {
	Lobby      string    `json:"lobby"`
	Seq        uint64    `json:"seq"`
	Name       string    `json:"name"`
	Snapshot   string    `json:"snapshot"`
	SavedAt    time.Time `json:"saved_at"`
	ArchivedAt time.Time `json:"archived_at"`
	Summary    Summary   `json:"summary"`
}

type Summary struct {
	Jiggies     int `json:"jiggies"`
	Honeycombs  int `json:"honeycombs"`
	MumboTokens int `json:"mumbo_tokens"`
	Moves       int `json:"moves"`
	Notes       int `json:"notes"`
	Scenes      int `json:"scenes"`
}

func Summarize(st *progress.Store) Summary {
	s := Summary{
		Jiggies:     progress.PopCount(st.JiggyFlags),
		Honeycombs:  progress.PopCount(st.HoneycombFlags),
		MumboTokens: progress.PopCount(st.TokenFlags),
		Moves:       bits.OnesCount32(st.Moves),
	}
	for _, n := range st.NoteTotals {
		s.Notes += int(n)
	}
	for _, lvl := range st.Levels {
		s.Scenes += len(lvl.Scenes)
	}
	return s
}

// Dir is where archives of one lobby live.
func Dir(root, lobby string) string { return snapshot.LobbyDir(root, lobby) }

// Archive copies the snapshot at snapPath into root under name, next to a
// <name>.json summary. An empty name uses the snapshot's sequence.
func Archive(root, snapPath, name string) (Meta, error) {
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return Meta{}, err
	}
	h := snap.Header
	if name == "" {
		name = fmt.Sprintf("seq-%012d", h.Seq)
	}
	if filepath.Base(name) != name || name == "." || name == ".." {
		return Meta{}, fmt.Errorf("bad archive name %q", name)
	}
	dir := Dir(root, h.Lobby)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Meta{}, err
	}
	dst := filepath.Join(dir, name+".snap.zst")
	if _, err := os.Stat(dst); err == nil {
		return Meta{}, fmt.Errorf("archive %s already exists", name)
	}
	if err := copyFile(snapPath, dst); err != nil {
		return Meta{}, err
	}

	meta := Meta{
		Lobby:      h.Lobby,
		Seq:        h.Seq,
		Name:       name,
		Snapshot:   dst,
		SavedAt:    time.UnixMilli(h.SavedAt).UTC(),
		ArchivedAt: time.Now().UTC(),
		Summary:    Summarize(snap.Store),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Meta{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), b, 0o644); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// List returns the archives of a lobby ordered by snapshot time.
func List(root, lobby string) ([]Meta, error) {
	paths, err := filepath.Glob(filepath.Join(Dir(root, lobby), "*.json"))
	if err != nil {
		return nil, err
	}
	var out []Meta
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var m Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.Before(out[j].SavedAt) })
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
