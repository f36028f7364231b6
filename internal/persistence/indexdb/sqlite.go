package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"bkonline.net/internal/lobby"
	"bkonline.net/internal/persistence/snapshot"
)

// SQLiteIndex is a queryable index of lobbies, their snapshots and accepted
// updates. The JSONL journal and snapshot files remain the source of truth;
// writes are queued and applied by a single goroutine.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropUpdates   atomic.Uint64
	dropSnapshots atomic.Uint64
}

type reqKind int

const (
	reqUpdate reqKind = iota + 1
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	update   lobby.Update
	snapshot snapshot.Saved
	done     chan struct{}
}

type LobbyRow struct {
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Updates   int64     `json:"updates"`
	Snapshots int64     `json:"snapshots"`
}

type SnapshotRow struct {
	Lobby   string    `json:"lobby"`
	Seq     uint64    `json:"seq"`
	Path    string    `json:"path"`
	SavedAt time.Time `json:"saved_at"`
}

type UpdateRow struct {
	ID      int64     `json:"id"`
	Lobby   string    `json:"lobby"`
	Time    time.Time `json:"time"`
	Peer    string    `json:"peer"`
	Group   string    `json:"group"`
	Payload string    `json:"payload"`
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropUpdateTotal   uint64 `json:"drop_update_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS lobbies (
			id TEXT PRIMARY KEY,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			lobby TEXT NOT NULL,
			seq INTEGER NOT NULL,
			path TEXT NOT NULL,
			saved_at INTEGER NOT NULL,
			PRIMARY KEY (lobby, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lobby TEXT NOT NULL,
			at INTEGER NOT NULL,
			peer TEXT NOT NULL,
			grp TEXT NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_updates_lobby ON updates(lobby, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordUpdate queues an accepted update. It never blocks; updates are dropped
// when the writer falls behind.
func (s *SQLiteIndex) RecordUpdate(u lobby.Update) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqUpdate, update: u}:
	default:
		s.dropUpdates.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(v snapshot.Saved) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: v}:
	default:
		s.dropSnapshots.Add(1)
	}
}

// Sync waits until everything queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropUpdateTotal:   s.dropUpdates.Load(),
		DropSnapshotTotal: s.dropSnapshots.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsertLobby, _ := s.db.Prepare(`INSERT INTO lobbies(id,first_seen,last_seen) VALUES(?,?,?)
		ON CONFLICT(id) DO UPDATE SET last_seen=MAX(last_seen, excluded.last_seen)`)
	insertUpdate, _ := s.db.Prepare(`INSERT INTO updates(lobby,at,peer,grp,payload) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(lobby,seq,path,saved_at) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{upsertLobby, insertUpdate, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	touch := func(id string, at time.Time) bool {
		if upsertLobby == nil {
			return true
		}
		ms := at.UnixMilli()
		if _, err := tx.Stmt(upsertLobby).Exec(id, ms, ms); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqUpdate:
			u := r.update
			if u.Time.IsZero() {
				u.Time = time.Now()
			}
			if !touch(u.Lobby, u.Time) {
				continue
			}
			if insertUpdate != nil {
				if _, err := tx.Stmt(insertUpdate).Exec(u.Lobby, u.Time.UnixMilli(), u.Peer, u.Group, string(u.Payload)); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if !touch(sn.Lobby, sn.SavedAt) {
				continue
			}
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.Lobby, int64(sn.Seq), sn.Path, sn.SavedAt.UnixMilli()); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func (s *SQLiteIndex) Lobbies(ctx context.Context) ([]LobbyRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT l.id, l.first_seen, l.last_seen,
			(SELECT COUNT(*) FROM updates u WHERE u.lobby = l.id),
			(SELECT COUNT(*) FROM snapshots n WHERE n.lobby = l.id)
		FROM lobbies l ORDER BY l.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LobbyRow
	for rows.Next() {
		var r LobbyRow
		var first, last int64
		if err := rows.Scan(&r.ID, &first, &last, &r.Updates, &r.Snapshots); err != nil {
			return nil, err
		}
		r.FirstSeen = time.UnixMilli(first).UTC()
		r.LastSeen = time.UnixMilli(last).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Snapshots(ctx context.Context, lobbyID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT lobby, seq, path, saved_at FROM snapshots WHERE lobby = ? ORDER BY seq`, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		var seq, at int64
		if err := rows.Scan(&r.Lobby, &seq, &r.Path, &at); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.SavedAt = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Updates returns the newest updates of a lobby, oldest first. limit <= 0
// returns all of them.
func (s *SQLiteIndex) Updates(ctx context.Context, lobbyID string, limit int) ([]UpdateRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, lobby, at, peer, grp, payload FROM (
			SELECT * FROM updates WHERE lobby = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, lobbyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UpdateRow
	for rows.Next() {
		var r UpdateRow
		var at int64
		if err := rows.Scan(&r.ID, &r.Lobby, &at, &r.Peer, &r.Group, &r.Payload); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
