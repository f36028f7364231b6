// Package persistence combines lobby snapshots, the update journal and the
// sqlite index into a lobby.Persister.
package persistence

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"bkonline.net/internal/lobby"
	"bkonline.net/internal/persistence/indexdb"
	plog "bkonline.net/internal/persistence/log"
	"bkonline.net/internal/persistence/r2s3"
	"bkonline.net/internal/persistence/snapshot"
	"bkonline.net/internal/progress"
)

type Config struct {
	DataDir      string
	SnapshotKeep int
	// IndexPath defaults to DataDir/index.sqlite; "-" disables the index.
	IndexPath string
	Journal   bool
	// Mirror uploads every saved snapshot when Endpoint is set.
	Mirror MirrorConfig
}

type MirrorConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

type Persister struct {
	sink    *snapshot.Sink
	journal *plog.Journal
	index   *indexdb.SQLiteIndex
	mirror  *r2s3.Mirror
	log     *zap.Logger
}

var _ lobby.Persister = (*Persister)(nil)

func Open(cfg Config, log *zap.Logger) (*Persister, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("persistence: empty data dir")
	}
	p := &Persister{log: log.Named("persistence")}
	snapDir := filepath.Join(cfg.DataDir, "snapshots")
	p.sink = snapshot.NewSink(snapshot.SinkConfig{
		Dir:  snapDir,
		Keep: cfg.SnapshotKeep,
	}, log)
	p.sink.OnSaved = p.saved

	if cfg.Mirror.Endpoint != "" {
		client, err := r2s3.NewClient(r2s3.ClientConfig{
			Endpoint:        cfg.Mirror.Endpoint,
			Bucket:          cfg.Mirror.Bucket,
			Region:          cfg.Mirror.Region,
			AccessKeyID:     cfg.Mirror.AccessKeyID,
			SecretAccessKey: cfg.Mirror.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot mirror: %w", err)
		}
		p.mirror = r2s3.NewMirror(client, r2s3.MirrorConfig{SnapshotDir: snapDir, Prefix: cfg.Mirror.Prefix}, log)
	}

	if cfg.IndexPath != "-" {
		path := cfg.IndexPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "index.sqlite")
		}
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open index %s: %w", path, err)
		}
		p.index = idx
	}
	if cfg.Journal {
		p.journal = plog.NewJournal(cfg.DataDir)
	}
	return p, nil
}

// Index is nil when the index is disabled.
func (p *Persister) Index() *indexdb.SQLiteIndex { return p.index }

// Mirror is nil when no mirror is configured.
func (p *Persister) Mirror() *r2s3.Mirror { return p.mirror }

func (p *Persister) saved(v snapshot.Saved) {
	p.index.RecordSnapshot(v)
	p.mirror.Snapshot(v)
}

func (p *Persister) Load(lobbyID string) (*progress.Store, error) {
	return p.sink.Load(lobbyID)
}

func (p *Persister) Save(lobbyID string, st *progress.Store) error {
	return p.sink.Save(lobbyID, st)
}

// Record journals an update and indexes it. Journal failures are returned;
// the index is best effort.
func (p *Persister) Record(u lobby.Update) error {
	p.index.RecordUpdate(u)
	if p.journal == nil {
		return nil
	}
	return p.journal.Record(u)
}

func (p *Persister) Close() error {
	var errs []error
	p.mirror.Close()
	if p.journal != nil {
		errs = append(errs, p.journal.Close())
	}
	if p.index != nil {
		errs = append(errs, p.index.Close())
	}
	return errors.Join(errs...)
}
