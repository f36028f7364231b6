package snapshot

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"bkonline.net/internal/progress"
)

// Saved describes a snapshot written by a Sink.
type Saved struct {
	Lobby   string
	Seq     uint64
	Path    string
	SavedAt time.Time
}

type SinkConfig struct {
	Dir string
	// Keep is how many snapshots per lobby survive pruning; 0 keeps all.
	Keep int
	// FailureThreshold consecutive failures open the breaker for Cooldown.
	FailureThreshold uint32
	Cooldown         time.Duration
}

// Sink writes lobby snapshots under a directory. Writes go through a circuit
// breaker so a failing disk is not hammered by every lobby.
type Sink struct {
	cfg SinkConfig
	log *zap.Logger
	cb  *gobreaker.CircuitBreaker

	mu  sync.Mutex
	seq map[string]uint64

	// OnSaved is called after every successful write.
	OnSaved func(Saved)
}

func NewSink(cfg SinkConfig, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	log = log.Named("snapshot")
	s := &Sink{cfg: cfg, log: log, seq: make(map[string]uint64)}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "snapshot-sink",
		Timeout: cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker state", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return s
}

// State reports the breaker state.
func (s *Sink) State() gobreaker.State { return s.cb.State() }

func (s *Sink) nextSeq(lobby string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.seq[lobby]
	if !ok {
		_, last, err := Latest(s.cfg.Dir, lobby)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
		seq = last
	}
	seq++
	s.seq[lobby] = seq
	return seq, nil
}

// Save writes st as the lobby's next snapshot.
func (s *Sink) Save(lobby string, st *progress.Store) error {
	seq, err := s.nextSeq(lobby)
	if err != nil {
		return err
	}
	path := Path(s.cfg.Dir, lobby, seq)
	now := time.Now()
	snap := SnapshotV1{
		Header: Header{Version: Version, Lobby: lobby, Seq: seq, SavedAt: now.UnixMilli()},
		Store:  st.Clone(),
	}
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, WriteSnapshot(path, snap)
	})
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", lobby, err)
	}
	s.log.Info("snapshot saved", zap.String("lobby", lobby), zap.Uint64("seq", seq), zap.String("path", path))
	s.prune(lobby)
	if s.OnSaved != nil {
		s.OnSaved(Saved{Lobby: lobby, Seq: seq, Path: path, SavedAt: now})
	}
	return nil
}

// Load returns the newest snapshot of a lobby, or nil when it has none.
func (s *Sink) Load(lobby string) (*progress.Store, error) {
	path, seq, err := Latest(s.cfg.Dir, lobby)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap, err := ReadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", lobby, err)
	}
	s.mu.Lock()
	if s.seq[lobby] < seq {
		s.seq[lobby] = seq
	}
	s.mu.Unlock()
	return snap.Store, nil
}

func (s *Sink) prune(lobby string) {
	if s.cfg.Keep <= 0 {
		return
	}
	seqs, err := List(s.cfg.Dir, lobby)
	if err != nil || len(seqs) <= s.cfg.Keep {
		return
	}
	for _, seq := range seqs[:len(seqs)-s.cfg.Keep] {
		if err := os.Remove(Path(s.cfg.Dir, lobby, seq)); err != nil {
			s.log.Debug("prune", zap.Error(err))
		}
	}
}
