package lobby

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

// Manager creates lobbies on first join and forgets them once they close.
type Manager struct {
	cfg  Config
	pers Persister
	log  *zap.Logger

	ctx context.Context
	wg  sync.WaitGroup

	mu      sync.Mutex
	lobbies map[string]*Lobby
}

// NewManager returns a manager whose lobbies stop when ctx ends.
func NewManager(ctx context.Context, cfg Config, pers Persister, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		pers:    pers,
		log:     log,
		ctx:     ctx,
		lobbies: make(map[string]*Lobby),
	}
}

// Join adds a peer to the named lobby, creating or restoring it as needed.
func (m *Manager) Join(ctx context.Context, id string, req JoinRequest) (*Lobby, protocol.WelcomeMsg, error) {
	for {
		l, err := m.get(id)
		if err != nil {
			return nil, protocol.WelcomeMsg{}, err
		}
		w, err := l.Join(ctx, req)
		if errors.Is(err, ErrClosed) {
			// Lost the race with the last peer leaving; start over.
			m.forget(l)
			continue
		}
		if err != nil {
			return nil, protocol.WelcomeMsg{}, err
		}
		return l, w, nil
	}
}

func (m *Manager) get(id string) (*Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lobbies[id]; ok {
		select {
		case <-l.Done():
			delete(m.lobbies, id)
		default:
			return l, nil
		}
	}
	if err := m.ctx.Err(); err != nil {
		return nil, err
	}

	st := m.restore(id)
	l := New(id, st, m.cfg, m.pers, m.log)
	m.lobbies[id] = l
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := l.Run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("lobby stopped", zap.String("lobby", id), zap.Error(err))
		}
		m.forget(l)
	}()
	m.log.Info("lobby created", zap.String("lobby", id), zap.Bool("restored", st != nil))
	return l, nil
}

func (m *Manager) restore(id string) *progress.Store {
	if m.pers == nil {
		return nil
	}
	st, err := m.pers.Load(id)
	if err != nil {
		m.log.Warn("restore lobby", zap.String("lobby", id), zap.Error(err))
		return nil
	}
	return st
}

func (m *Manager) forget(l *Lobby) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.lobbies[l.ID()]; ok && cur == l {
		delete(m.lobbies, l.ID())
	}
}

// Lobby returns a running lobby by id.
func (m *Manager) Lobby(id string) (*Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[id]
	return l, ok
}

// List returns the ids of running lobbies in order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.lobbies))
	for id := range m.lobbies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until every lobby goroutine has returned.
func (m *Manager) Wait() { m.wg.Wait() }
