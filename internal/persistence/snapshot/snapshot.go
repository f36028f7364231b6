package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"bkonline.net/internal/progress"
)

const (
	Version = 1
	ext     = ".snap.zst"
)

type Header struct {
	Version int    `json:"version"`
	Lobby   string `json:"lobby"`
	Seq     uint64 `json:"seq"`
	// SavedAt is unix milliseconds.
	SavedAt int64 `json:"saved_at"`
}

type SnapshotV1 struct {
	Header Header          `json:"header"`
	Store  *progress.Store `json:"store"`
}

// LobbyDir is the directory holding a lobby's snapshots. Lobby ids are
// escaped so they cannot leave dir.
func LobbyDir(dir, lobby string) string {
	return filepath.Join(dir, "l-"+url.PathEscape(lobby))
}

// Lobbies returns the ids of every lobby with a snapshot directory under dir.
func Lobbies(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name, ok := strings.CutPrefix(e.Name(), "l-")
		if !e.IsDir() || !ok {
			continue
		}
		id, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Path is the file for one snapshot of a lobby.
func Path(dir, lobby string, seq uint64) string {
	return filepath.Join(LobbyDir(dir, lobby), fmt.Sprintf("%012d%s", seq, ext))
}

// List returns the snapshot sequence numbers of a lobby in ascending order.
func List(dir, lobby string) ([]uint64, error) {
	entries, err := os.ReadDir(LobbyDir(dir, lobby))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ext), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Latest returns the path and sequence of the newest snapshot of a lobby, or
// os.ErrNotExist when there is none.
func Latest(dir, lobby string) (string, uint64, error) {
	seqs, err := List(dir, lobby)
	if err != nil {
		return "", 0, err
	}
	if len(seqs) == 0 {
		return "", 0, os.ErrNotExist
	}
	seq := seqs[len(seqs)-1]
	return Path(dir, lobby, seq), seq, nil
}

// WriteSnapshot writes to a temporary file and renames it into place.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Store == nil {
		return fmt.Errorf("snapshot without store")
	}
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if snap.Header.SavedAt == 0 {
		snap.Header.SavedAt = time.Now().UnixMilli()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := write(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func write(path string, snap SnapshotV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func open(path string) (*os.File, *zstd.Decoder, *bufio.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	return f, dec, bufio.NewReaderSize(dec, 64*1024), nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, dec, br, err := open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	defer dec.Close()

	// The header line is repeated inside the gob payload.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Store == nil {
		snap.Store = progress.NewStore()
	}
	snap.Store.Normalize()
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, dec, br, err := open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	defer dec.Close()

	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
