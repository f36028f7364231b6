// Package lobby holds the authoritative progress of each lobby and relays
// messages between its peers. Every lobby runs in its own goroutine, which is
// the only one touching that lobby's store.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

var (
	ErrClosed = errors.New("lobby closed")
	ErrFull   = errors.New("lobby full")
)

// Persister stores lobby progress across restarts.
type Persister interface {
	// Load returns the latest saved store, or nil when the lobby is new.
	Load(lobby string) (*progress.Store, error)
	Save(lobby string, st *progress.Store) error
	Record(u Update) error
}

// Update is one accepted change to lobby progress.
type Update struct {
	Time    time.Time       `json:"time"`
	Lobby   string          `json:"lobby"`
	Peer    string          `json:"peer"`
	Group   string          `json:"group"`
	Payload json.RawMessage `json:"payload"`
}

type Config struct {
	MaxPeers      int
	SnapshotEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPeers <= 0 {
		c.MaxPeers = 16
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = time.Minute
	}
	return c
}

type JoinRequest struct {
	PeerID   string
	Nickname string
	Out      chan []byte
	Resp     chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Err     error
}

type LeaveRequest struct {
	PeerID string
	Out    chan []byte
}

// Envelope is a SYNC message received from a peer. Err marks a frame the
// transport could not accept; the peer is answered with E_PROTO_BAD_REQUEST.
type Envelope struct {
	PeerID string
	Msg    protocol.SyncMsg
	Err    error
}

// Info is a point-in-time view of a lobby for admin tooling.
type Info struct {
	ID    string             `json:"id"`
	Peers []protocol.PeerRef `json:"peers"`
	Dirty bool               `json:"dirty"`
	Store *progress.Store    `json:"store,omitempty"`
}

type peer struct {
	id       string
	nickname string
	level    progress.LevelID
	scene    progress.SceneID
	out      chan []byte
	joined   time.Time
}

type Lobby struct {
	id    string
	cfg   Config
	log   *zap.Logger
	store *progress.Store
	pers  Persister

	peers map[string]*peer
	order []string
	dirty bool
	// seen is set by the first join; the lobby closes when it is empty again.
	seen bool

	join  chan JoinRequest
	leave chan LeaveRequest
	inbox chan Envelope
	info  chan chan Info
	done  chan struct{}
}

// New creates a lobby around st; a nil store starts empty. pers may be nil.
func New(id string, st *progress.Store, cfg Config, pers Persister, log *zap.Logger) *Lobby {
	if log == nil {
		log = zap.NewNop()
	}
	if st == nil {
		st = progress.NewStore()
	}
	st.Normalize()
	return &Lobby{
		id:    id,
		cfg:   cfg.withDefaults(),
		log:   log.Named("lobby").With(zap.String("lobby", id)),
		store: st,
		pers:  pers,
		peers: make(map[string]*peer),
		join:  make(chan JoinRequest),
		leave: make(chan LeaveRequest, 16),
		inbox: make(chan Envelope, 1024),
		info:  make(chan chan Info),
		done:  make(chan struct{}),
	}
}

func (l *Lobby) ID() string { return l.id }

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Join adds a peer. It fails with ErrClosed if the lobby shut down first.
func (l *Lobby) Join(ctx context.Context, req JoinRequest) (protocol.WelcomeMsg, error) {
	if req.Resp == nil {
		req.Resp = make(chan JoinResponse, 1)
	}
	select {
	case l.join <- req:
	case <-l.done:
		return protocol.WelcomeMsg{}, ErrClosed
	case <-ctx.Done():
		return protocol.WelcomeMsg{}, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp.Welcome, resp.Err
	case <-ctx.Done():
		return protocol.WelcomeMsg{}, ctx.Err()
	}
}

// Leave removes the peer if out is still its current queue.
func (l *Lobby) Leave(peerID string, out chan []byte) {
	select {
	case l.leave <- LeaveRequest{PeerID: peerID, Out: out}:
	case <-l.done:
	}
}

// Submit queues a message from a peer. It reports false once the lobby is gone.
func (l *Lobby) Submit(ctx context.Context, env Envelope) bool {
	select {
	case l.inbox <- env:
		return true
	case <-l.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Info returns a snapshot of the lobby; withStore includes a copy of the store.
func (l *Lobby) Info(ctx context.Context, withStore bool) (Info, error) {
	resp := make(chan Info, 1)
	select {
	case l.info <- resp:
	case <-l.done:
		return Info{}, ErrClosed
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
	select {
	case in := <-resp:
		if !withStore {
			in.Store = nil
		}
		return in, nil
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Run processes joins, leaves and messages until ctx ends or the last peer
// leaves. The store is saved before returning.
func (l *Lobby) Run(ctx context.Context) error {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case req := <-l.join:
			l.handleJoin(req)
		case req := <-l.leave:
			l.handleLeave(req)
		case env := <-l.inbox:
			l.handle(env)
		case resp := <-l.info:
			resp <- l.snapshotInfo()
		case <-ticker.C:
			l.save()
		}
		if l.seen && len(l.peers) == 0 {
			l.shutdown()
			return nil
		}
	}
}

func (l *Lobby) shutdown() {
	l.save()
	for _, p := range l.peers {
		close(p.out)
	}
	clear(l.peers)
	l.order = nil
	l.log.Info("lobby closed")
}

func (l *Lobby) save() {
	if !l.dirty || l.pers == nil {
		return
	}
	if err := l.pers.Save(l.id, l.store); err != nil {
		l.log.Warn("save snapshot", zap.Error(err))
		return
	}
	l.dirty = false
}

func (l *Lobby) snapshotInfo() Info {
	in := Info{ID: l.id, Dirty: l.dirty, Store: l.store.Clone()}
	for _, id := range l.order {
		p := l.peers[id]
		in.Peers = append(in.Peers, protocol.PeerRef{ID: p.id, Nickname: p.nickname})
	}
	return in
}

func (l *Lobby) handleJoin(req JoinRequest) {
	if old, ok := l.peers[req.PeerID]; ok {
		// Reconnect: the new connection takes over the peer.
		close(old.out)
		old.out = req.Out
		old.nickname = req.Nickname
		req.Resp <- JoinResponse{Welcome: l.welcome(req.PeerID)}
		l.log.Info("peer reconnected", zap.String("peer", req.PeerID))
		return
	}
	if len(l.peers) >= l.cfg.MaxPeers {
		req.Resp <- JoinResponse{Err: ErrFull}
		return
	}
	p := &peer{id: req.PeerID, nickname: req.Nickname, out: req.Out, joined: time.Now()}
	l.peers[p.id] = p
	l.order = append(l.order, p.id)
	l.seen = true
	req.Resp <- JoinResponse{Welcome: l.welcome(p.id)}

	l.broadcastExcept(p.id, protocol.NewPeerMsg(protocol.TypePeerJoined, protocol.PeerRef{ID: p.id, Nickname: p.nickname}))
	l.log.Info("peer joined", zap.String("peer", p.id), zap.String("nickname", p.nickname), zap.Int("peers", len(l.peers)))
}

func (l *Lobby) welcome(self string) protocol.WelcomeMsg {
	w := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PeerID:          self,
		Lobby:           l.id,
		Peers:           []protocol.PeerRef{},
	}
	for _, id := range l.order {
		if id == self {
			continue
		}
		w.Peers = append(w.Peers, protocol.PeerRef{ID: id, Nickname: l.peers[id].nickname})
	}
	return w
}

func (l *Lobby) handleLeave(req LeaveRequest) {
	p, ok := l.peers[req.PeerID]
	if !ok || (req.Out != nil && p.out != req.Out) {
		return
	}
	l.drop(p, "left")
}

func (l *Lobby) drop(p *peer, reason string) {
	delete(l.peers, p.id)
	for i, id := range l.order {
		if id == p.id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	close(p.out)
	l.broadcastExcept(p.id, protocol.NewPeerMsg(protocol.TypePeerLeft, protocol.PeerRef{ID: p.id, Nickname: p.nickname}))
	l.log.Info("peer removed", zap.String("peer", p.id), zap.String("reason", reason), zap.Int("peers", len(l.peers)))
}

func (l *Lobby) encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		l.log.Error("encode", zap.Error(err))
		return nil
	}
	return b
}

// deliver queues a frame. Reliable frames that do not fit mark the peer as a
// slow consumer and drop it; unreliable frames are simply skipped.
func (l *Lobby) deliver(p *peer, b []byte, reliable bool) {
	select {
	case p.out <- b:
		return
	default:
	}
	if !reliable {
		return
	}
	l.log.Warn("peer queue full", zap.String("peer", p.id))
	l.drop(p, protocol.ErrSlowConsumer)
}

func (l *Lobby) broadcastExcept(except string, v any) {
	b := l.encode(v)
	if b == nil {
		return
	}
	for _, id := range append([]string(nil), l.order...) {
		if id == except {
			continue
		}
		if p, ok := l.peers[id]; ok {
			l.deliver(p, b, true)
		}
	}
}

func (l *Lobby) sync(from, group string, payload any) (protocol.SyncMsg, bool) {
	m, err := protocol.NewSync(group, payload)
	if err != nil {
		l.log.Error("build sync", zap.String("group", group), zap.Error(err))
		return m, false
	}
	m.From = from
	return m, true
}

// broadcast sends a group to every peer, the originator included.
func (l *Lobby) broadcast(from, group string, payload any) {
	m, ok := l.sync(from, group, payload)
	if !ok {
		return
	}
	l.broadcastExcept("", m)
}

func (l *Lobby) sendTo(to, from, group string, payload any) {
	p, ok := l.peers[to]
	if !ok {
		return
	}
	m, ok := l.sync(from, group, payload)
	if !ok {
		return
	}
	if b := l.encode(m); b != nil {
		info, _ := protocol.LookupGroup(group)
		l.deliver(p, b, info.Reliable)
	}
}

func (l *Lobby) sendError(to, code, msg string) {
	p, ok := l.peers[to]
	if !ok {
		return
	}
	if b := l.encode(protocol.NewError(code, msg)); b != nil {
		l.deliver(p, b, true)
	}
}
