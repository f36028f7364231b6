package r2s3

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bkonline.net/internal/persistence/snapshot"
)

// Putter stores a local file under an object key.
type Putter interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type MirrorConfig struct {
	// SnapshotDir is the local snapshot root; keys are paths relative to it.
	SnapshotDir string
	Prefix      string
	Queue       int
	Attempts    int
	// Backoff is the delay before the second attempt; it grows quadratically.
	Backoff time.Duration
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Dropped       uint64 `json:"dropped"`
	Uploaded      uint64 `json:"uploaded"`
	Failed        uint64 `json:"failed"`
	LastSuccess   int64  `json:"last_success_unix"`
	LastError     int64  `json:"last_error_unix"`
}

// Mirror uploads saved snapshots in the background. A full queue drops the
// upload; the next snapshot of the lobby supersedes it anyway.
type Mirror struct {
	put Putter
	cfg MirrorConfig
	log *zap.Logger

	jobs chan snapshot.Saved
	wg   sync.WaitGroup
	once sync.Once

	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
	lastError   atomic.Int64
}

func NewMirror(p Putter, cfg MirrorConfig, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	cfg.Prefix = strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/")
	m := &Mirror{
		put:  p,
		cfg:  cfg,
		log:  log.Named("mirror"),
		jobs: make(chan snapshot.Saved, cfg.Queue),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for v := range m.jobs {
			m.upload(v)
		}
	}()
	return m
}

// Snapshot queues a saved snapshot for upload. It never blocks.
func (m *Mirror) Snapshot(v snapshot.Saved) {
	if m == nil {
		return
	}
	select {
	case m.jobs <- v:
	default:
		m.dropped.Add(1)
		m.log.Warn("upload dropped", zap.String("lobby", v.Lobby), zap.Uint64("seq", v.Seq))
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
		LastSuccess:   m.lastSuccess.Load(),
		LastError:     m.lastError.Load(),
	}
}

func (m *Mirror) upload(v snapshot.Saved) {
	log := m.log.With(zap.String("lobby", v.Lobby), zap.Uint64("seq", v.Seq))
	key, err := m.objectKey(v.Path)
	if err != nil {
		m.failed.Add(1)
		log.Warn("upload skipped", zap.Error(err))
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.put.PutFile(ctx, key, v.Path)
		cancel()
		if lastErr == nil {
			m.uploaded.Add(1)
			m.lastSuccess.Store(time.Now().Unix())
			log.Debug("uploaded", zap.String("key", key))
			return
		}
		if attempt < m.cfg.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.cfg.Backoff)
		}
	}
	m.failed.Add(1)
	m.lastError.Store(time.Now().Unix())
	log.Warn("upload failed", zap.String("key", key), zap.Error(lastErr))
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	base, err := filepath.Abs(m.cfg.SnapshotDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.cfg.Prefix != "" {
		rel = path.Join(m.cfg.Prefix, rel)
	}
	return rel, nil
}
