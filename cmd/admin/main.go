package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bkonline.net/internal/lobby"
	"bkonline.net/internal/persistence/archive"
	persistlog "bkonline.net/internal/persistence/log"
	"bkonline.net/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "dump":
			dumpCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "restore":
			restoreCmd(os.Args[2:])
			return
		case "archive":
			archiveCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func snapshotDir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }

func archiveDir(dataDir string) string { return filepath.Join(dataDir, "archives") }

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dir := snapshotDir(*dataDir)
	ids, err := snapshot.Lobbies(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, id := range ids {
		path, seq, err := snapshot.Latest(dir, id)
		if err != nil {
			fmt.Printf("%s\t-\n", id)
			continue
		}
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Printf("%s\tseq=%d\tunreadable: %v\n", id, seq, err)
			continue
		}
		fmt.Printf("%s\tseq=%d\tsaved=%s\n", id, seq, time.UnixMilli(h.SavedAt).UTC().Format(time.RFC3339))
	}
}

func dumpCmd(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	lobbyID := fs.String("lobby", "", "lobby id (required unless -snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to the lobby's latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*lobbyID) == "" {
			fmt.Fprintln(os.Stderr, "missing -lobby or -snapshot")
			os.Exit(2)
		}
		p, _, err := snapshot.Latest(snapshotDir(*dataDir), *lobbyID)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "no snapshot found for lobby", *lobbyID)
			os.Exit(2)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest snapshot:", err)
			os.Exit(1)
		}
		path = p
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	lobbyID := fs.String("lobby", "", "lobby id (optional)")
	group := fs.String("group", "", "only this message group (optional)")
	_ = fs.Parse(args)

	n := 0
	err := persistlog.ReadJournal(*dataDir, *lobbyID, func(u lobby.Update) error {
		if *group != "" && u.Group != *group {
			return nil
		}
		n++
		printJSON(u)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "no matching updates")
	}
}

// restoreCmd republishes an older snapshot as the newest one so the lobby
// starts from it on its next open. The lobby must be closed.
func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	lobbyID := fs.String("lobby", "", "lobby id (required)")
	seq := fs.Uint64("seq", 0, "snapshot sequence to restore")
	name := fs.String("archive", "", "archived snapshot name to restore (instead of -seq)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*lobbyID) == "" || (*seq == 0) == (*name == "") {
		fmt.Fprintln(os.Stderr, "need -lobby and exactly one of -seq or -archive")
		os.Exit(2)
	}
	src := snapshot.Path(snapshotDir(*dataDir), *lobbyID, *seq)
	if *name != "" {
		src = filepath.Join(archive.Dir(archiveDir(*dataDir), *lobbyID), filepath.Base(*name)+".snap.zst")
	}
	out, err := restore(snapshotDir(*dataDir), *lobbyID, src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}
	fmt.Printf("restore ok: lobby=%s from=%s out=%s\n", *lobbyID, filepath.Base(src), out)
}

func restore(dir, lobbyID, src string) (string, error) {
	snap, err := snapshot.ReadSnapshot(src)
	if err != nil {
		return "", err
	}
	if snap.Header.Lobby != "" && snap.Header.Lobby != lobbyID {
		return "", fmt.Errorf("snapshot belongs to lobby %q", snap.Header.Lobby)
	}
	_, latest, err := snapshot.Latest(dir, lobbyID)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	out := snapshot.Path(dir, lobbyID, latest+1)
	snap.Header = snapshot.Header{Lobby: lobbyID, Seq: latest + 1}
	if err := snapshot.WriteSnapshot(out, snap); err != nil {
		return "", err
	}
	return out, nil
}

// archiveCmd copies a snapshot out of the pruned snapshot directory, or lists
// a lobby's archives.
func archiveCmd(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	lobbyID := fs.String("lobby", "", "lobby id (required)")
	seq := fs.Uint64("seq", 0, "snapshot sequence (optional; defaults to latest)")
	name := fs.String("name", "", "archive name (optional; defaults to seq-<seq>)")
	list := fs.Bool("list", false, "list archives instead of creating one")
	_ = fs.Parse(args)

	if strings.TrimSpace(*lobbyID) == "" {
		fmt.Fprintln(os.Stderr, "missing -lobby")
		os.Exit(2)
	}
	if *list {
		metas, err := archive.List(archiveDir(*dataDir), *lobbyID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		for _, m := range metas {
			printJSON(m)
		}
		return
	}

	dir := snapshotDir(*dataDir)
	src := snapshot.Path(dir, *lobbyID, *seq)
	if *seq == 0 {
		p, _, err := snapshot.Latest(dir, *lobbyID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest snapshot:", err)
			os.Exit(1)
		}
		src = p
	}
	meta, err := archive.Archive(archiveDir(*dataDir), src, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "archive:", err)
		os.Exit(1)
	}
	printJSON(meta)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
