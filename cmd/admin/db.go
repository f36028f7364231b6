package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index.sqlite)")
	lobbyID := fs.String("lobby", "", "lobby id (required for snapshots and updates)")
	group := fs.String("group", "", "group filter (updates)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "lobbies"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q != "lobbies" && strings.TrimSpace(*lobbyID) == "" {
		fmt.Fprintln(os.Stderr, "missing -lobby")
		os.Exit(2)
	}

	switch q {
	case "lobbies":
		err = queryLobbies(db, *limit)
	case "snapshots":
		err = querySnapshots(db, *lobbyID, *limit)
	case "updates":
		err = queryUpdates(db, *lobbyID, *group, *limit)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(lobbies|snapshots|updates)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func msTime(ms int64) string { return time.UnixMilli(ms).UTC().Format(time.RFC3339) }

func queryLobbies(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT l.id, l.first_seen, l.last_seen,
			(SELECT COUNT(*) FROM updates u WHERE u.lobby = l.id),
			(SELECT MAX(seq) FROM snapshots n WHERE n.lobby = l.id)
		FROM lobbies l ORDER BY l.last_seen DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			ID        string `json:"id"`
			FirstSeen string `json:"first_seen"`
			LastSeen  string `json:"last_seen"`
			Updates   int64  `json:"updates"`
			LatestSeq int64  `json:"latest_seq"`
		}
		var first, last int64
		var seq sql.NullInt64
		if err := rows.Scan(&r.ID, &first, &last, &r.Updates, &seq); err != nil {
			return err
		}
		r.FirstSeen, r.LastSeen, r.LatestSeq = msTime(first), msTime(last), seq.Int64
		printJSON(r)
	}
	return rows.Err()
}

func querySnapshots(db *sql.DB, lobbyID string, limit int) error {
	rows, err := db.Query(`SELECT seq, path, saved_at FROM snapshots WHERE lobby = ? ORDER BY seq DESC LIMIT ?`, lobbyID, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Seq     int64  `json:"seq"`
			Path    string `json:"path"`
			SavedAt string `json:"saved_at"`
		}
		var at int64
		if err := rows.Scan(&r.Seq, &r.Path, &at); err != nil {
			return err
		}
		r.SavedAt = msTime(at)
		printJSON(r)
	}
	return rows.Err()
}

func queryUpdates(db *sql.DB, lobbyID, group string, limit int) error {
	rows, err := db.Query(`SELECT id, at, peer, grp, payload FROM updates
		WHERE lobby = ? AND (? = '' OR grp = ?) ORDER BY id DESC LIMIT ?`, lobbyID, group, group, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			ID      int64  `json:"id"`
			At      string `json:"at"`
			Peer    string `json:"peer"`
			Group   string `json:"group"`
			Payload string `json:"payload"`
		}
		var at int64
		if err := rows.Scan(&r.ID, &at, &r.Peer, &r.Group, &r.Payload); err != nil {
			return err
		}
		r.At = msTime(at)
		printJSON(r)
	}
	return rows.Err()
}
