package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

type memPersister struct {
	mu      sync.Mutex
	stores  map[string]*progress.Store
	updates []Update
	saves   int
}

func newMemPersister() *memPersister {
	return &memPersister{stores: make(map[string]*progress.Store)}
}

func (m *memPersister) Load(id string) (*progress.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stores[id]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (m *memPersister) Save(id string, st *progress.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[id] = st.Clone()
	m.saves++
	return nil
}

func (m *memPersister) Record(u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	return nil
}

type testPeer struct {
	id  string
	out chan []byte
}

type frame struct {
	Type    string           `json:"type"`
	Group   string           `json:"group"`
	From    string           `json:"from"`
	Code    string           `json:"code"`
	Peer    protocol.PeerRef `json:"peer"`
	Payload json.RawMessage  `json:"payload"`
}

func startLobby(t *testing.T, pers Persister) (*Lobby, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := New("test", nil, Config{MaxPeers: 4, SnapshotEvery: time.Hour}, pers, zaptest.NewLogger(t))
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l, cancel
}

func join(t *testing.T, l *Lobby, id string, queue int) (*testPeer, protocol.WelcomeMsg) {
	t.Helper()
	p := &testPeer{id: id, out: make(chan []byte, queue)}
	w, err := l.Join(context.Background(), JoinRequest{PeerID: id, Nickname: id, Out: p.out})
	if err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return p, w
}

func recv(t *testing.T, p *testPeer) frame {
	t.Helper()
	select {
	case b, ok := <-p.out:
		if !ok {
			t.Fatalf("%s: queue closed", p.id)
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no frame", p.id)
	}
	return frame{}
}

// settle waits until the lobby has processed everything submitted so far.
func settle(t *testing.T, l *Lobby) {
	t.Helper()
	if _, err := l.Info(context.Background(), false); err != nil {
		t.Fatalf("info: %v", err)
	}
}

func expectQuiet(t *testing.T, l *Lobby, peers ...*testPeer) {
	t.Helper()
	settle(t, l)
	for _, p := range peers {
		if n := len(p.out); n != 0 {
			t.Fatalf("%s has %d unexpected frames", p.id, n)
		}
	}
}

func submit(t *testing.T, l *Lobby, from *testPeer, group string, payload any) {
	t.Helper()
	m, err := protocol.NewSync(group, payload)
	if err != nil {
		t.Fatalf("new sync: %v", err)
	}
	if !l.Submit(context.Background(), Envelope{PeerID: from.id, Msg: m}) {
		t.Fatalf("lobby gone")
	}
}

func TestJoinAnnouncesPeers(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, wa := join(t, l, "a", 8)
	if wa.PeerID != "a" || wa.Lobby != "test" || len(wa.Peers) != 0 {
		t.Fatalf("welcome=%+v", wa)
	}
	_, wb := join(t, l, "b", 8)
	if len(wb.Peers) != 1 || wb.Peers[0].ID != "a" {
		t.Fatalf("welcome b=%+v", wb)
	}
	f := recv(t, a)
	if f.Type != protocol.TypePeerJoined || f.Peer.ID != "b" {
		t.Fatalf("frame=%+v", f)
	}
}

func TestLobbyFull(t *testing.T) {
	l, _ := startLobby(t, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		join(t, l, id, 16)
	}
	_, err := l.Join(context.Background(), JoinRequest{PeerID: "e", Out: make(chan []byte, 1)})
	if err != ErrFull {
		t.Fatalf("err=%v", err)
	}
}

func TestFlagMergeBroadcastsOnChange(t *testing.T) {
	pers := newMemPersister()
	l, _ := startLobby(t, pers)
	a, _ := join(t, l, "a", 8)
	b, _ := join(t, l, "b", 8)
	recv(t, a) // b joined

	submit(t, l, a, protocol.GroupSyncGameFlags, protocol.BufferPayload{Value: []byte{0x01}})
	for _, p := range []*testPeer{a, b} {
		f := recv(t, p)
		if f.Group != protocol.GroupSyncGameFlags || f.From != "a" {
			t.Fatalf("%s got %+v", p.id, f)
		}
		var in protocol.BufferPayload
		json.Unmarshal(f.Payload, &in)
		if len(in.Value) != progress.GameFlagsSize || in.Value[0] != 0x01 {
			t.Fatalf("payload=%v", in.Value)
		}
	}

	submit(t, l, b, protocol.GroupSyncGameFlags, protocol.BufferPayload{Value: []byte{0x01}})
	expectQuiet(t, l, a, b)

	pers.mu.Lock()
	n := len(pers.updates)
	pers.mu.Unlock()
	if n != 1 {
		t.Fatalf("recorded %d updates", n)
	}
}

func TestNoteTotalsKeepMaximum(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 16)

	for _, v := range []byte{40, 30, 55, 20} {
		submit(t, l, a, protocol.GroupSyncNoteTotals, protocol.BufferPayload{Value: []byte{0, v}})
	}
	settle(t, l)
	in, _ := l.Info(context.Background(), true)
	if got := in.Store.NoteTotals[1]; got != 55 {
		t.Fatalf("note total=%d", got)
	}
	if len(a.out) != 2 {
		t.Fatalf("broadcast %d times, want 2", len(a.out))
	}
}

func TestCompletingJinjosAwardsJiggy(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 16)
	mm := uint8(progress.LevelMumbosMountain)

	submit(t, l, a, protocol.GroupSyncJinjos, protocol.LevelValuePayload{Level: mm, Value: 0x0f})
	if f := recv(t, a); f.Group != protocol.GroupSyncJinjos {
		t.Fatalf("frame=%+v", f)
	}
	submit(t, l, a, protocol.GroupSyncJinjos, protocol.LevelValuePayload{Level: mm, Value: 0x10})
	f := recv(t, a)
	if f.Group != protocol.GroupSyncJiggyFlags {
		t.Fatalf("frame=%+v", f)
	}
	var jig protocol.BufferPayload
	json.Unmarshal(f.Payload, &jig)
	if !progress.Bit(jig.Value, progress.JinjoJiggyBit[progress.LevelMumbosMountain]) {
		t.Fatalf("jinjo jiggy not set: %v", jig.Value)
	}
	f = recv(t, a)
	var jin protocol.LevelValuePayload
	json.Unmarshal(f.Payload, &jin)
	if f.Group != protocol.GroupSyncJinjos || jin.Value != uint32(progress.JinjoAll) {
		t.Fatalf("frame=%+v", f)
	}
}

func TestVoxelNotesUnion(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 16)
	submit(t, l, a, protocol.GroupSyncVoxelNotes, protocol.VoxelNotesPayload{Level: 1, Scene: 2, Notes: []int64{1, 2}})
	submit(t, l, a, protocol.GroupSyncVoxelNotes, protocol.VoxelNotesPayload{Level: 1, Scene: 2, Notes: []int64{2, 3}})
	recv(t, a)
	f := recv(t, a)
	var in protocol.VoxelNotesPayload
	json.Unmarshal(f.Payload, &in)
	if len(in.Notes) != 3 {
		t.Fatalf("notes=%v", in.Notes)
	}
	submit(t, l, a, protocol.GroupSyncVoxelNotes, protocol.VoxelNotesPayload{Level: 1, Scene: 2, Notes: []int64{3}})
	expectQuiet(t, l, a)
}

func TestPuppetRelayedWithinScene(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 16)
	b, _ := join(t, l, "b", 16)
	c, _ := join(t, l, "c", 16)
	recv(t, a)
	recv(t, a)
	recv(t, b)

	submit(t, l, a, protocol.GroupSyncLocation, protocol.LocationPayload{Level: 1, Scene: 2})
	submit(t, l, b, protocol.GroupSyncLocation, protocol.LocationPayload{Level: 1, Scene: 2})
	submit(t, l, c, protocol.GroupSyncLocation, protocol.LocationPayload{Level: 2, Scene: 5})
	settle(t, l)
	for _, p := range []*testPeer{a, b, c} {
		for len(p.out) > 0 {
			if f := recv(t, p); f.Group != protocol.GroupSyncLocation {
				t.Fatalf("%s got %+v", p.id, f)
			}
		}
	}

	submit(t, l, a, protocol.GroupSyncPuppet, protocol.PuppetPayload{})
	f := recv(t, b)
	if f.Group != protocol.GroupSyncPuppet || f.From != "a" {
		t.Fatalf("frame=%+v", f)
	}
	expectQuiet(t, l, a, c)
}

func TestRequestStorageAnswersRequester(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 16)
	b, _ := join(t, l, "b", 16)
	recv(t, a)
	submit(t, l, a, protocol.GroupSyncMoves, protocol.ValuePayload{Value: 0x8})
	recv(t, a)
	recv(t, b)

	submit(t, l, b, protocol.GroupRequestStorage, nil)
	f := recv(t, b)
	if f.Group != protocol.GroupSyncStorage {
		t.Fatalf("frame=%+v", f)
	}
	var st progress.Store
	if err := json.Unmarshal(f.Payload, &st); err != nil {
		t.Fatalf("decode store: %v", err)
	}
	if st.Moves != 0x8 {
		t.Fatalf("moves=%#x", st.Moves)
	}
	expectQuiet(t, l, a)
}

func TestAddressedMessageForwarded(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 16)
	b, _ := join(t, l, "b", 16)
	c, _ := join(t, l, "c", 16)
	recv(t, a)
	recv(t, a)
	recv(t, b)

	m, _ := protocol.NewSync(protocol.GroupSyncLocation, protocol.LocationPayload{Level: 1, Scene: 2})
	m.To = "c"
	l.Submit(context.Background(), Envelope{PeerID: "a", Msg: m})
	f := recv(t, c)
	if f.Group != protocol.GroupSyncLocation || f.From != "a" {
		t.Fatalf("frame=%+v", f)
	}
	expectQuiet(t, l, a, b)

	m.To = "nobody"
	l.Submit(context.Background(), Envelope{PeerID: "a", Msg: m})
	if f := recv(t, a); f.Type != protocol.TypeError || f.Code != protocol.ErrUnknownPeer {
		t.Fatalf("frame=%+v", f)
	}
}

func TestUnknownGroupAnsweredWithError(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 16)
	l.Submit(context.Background(), Envelope{PeerID: "a", Msg: protocol.SyncMsg{Type: protocol.TypeSync, Group: "SyncNope"}})
	if f := recv(t, a); f.Type != protocol.TypeError || f.Code != protocol.ErrUnknownGroup {
		t.Fatalf("frame=%+v", f)
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 64)
	slow, _ := join(t, l, "slow", 1)
	recv(t, a)

	submit(t, l, a, protocol.GroupSyncMoves, protocol.ValuePayload{Value: 0x1})
	submit(t, l, a, protocol.GroupSyncMoves, protocol.ValuePayload{Value: 0x2})
	settle(t, l)

	in, _ := l.Info(context.Background(), false)
	if len(in.Peers) != 1 || in.Peers[0].ID != "a" {
		t.Fatalf("peers=%+v", in.Peers)
	}
	<-slow.out
	if _, ok := <-slow.out; ok {
		t.Fatalf("slow queue not closed")
	}
}

func TestLastLeaveClosesAndSaves(t *testing.T) {
	pers := newMemPersister()
	l, _ := startLobby(t, pers)
	a, _ := join(t, l, "a", 16)
	submit(t, l, a, protocol.GroupSyncMoves, protocol.ValuePayload{Value: 0x4})
	recv(t, a)

	l.Leave("a", a.out)
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("lobby did not close")
	}
	st, _ := pers.Load("test")
	if st == nil || st.Moves != 0x4 {
		t.Fatalf("saved store=%+v", st)
	}
	if _, err := l.Join(context.Background(), JoinRequest{PeerID: "b", Out: make(chan []byte, 1)}); err != ErrClosed {
		t.Fatalf("join after close err=%v", err)
	}
}

func TestReconnectKeepsPeer(t *testing.T) {
	l, _ := startLobby(t, nil)
	a, _ := join(t, l, "a", 16)
	b, _ := join(t, l, "b", 16)
	recv(t, a)

	b2, w := join(t, l, "b", 16)
	if w.PeerID != "b" || len(w.Peers) != 1 {
		t.Fatalf("welcome=%+v", w)
	}
	if _, ok := <-b.out; ok {
		t.Fatalf("old queue still open")
	}
	// A late leave from the old connection is ignored.
	l.Leave("b", b.out)
	submit(t, l, a, protocol.GroupSyncMoves, protocol.ValuePayload{Value: 0x1})
	for _, p := range []*testPeer{a, b2} {
		if f := recv(t, p); f.Group != protocol.GroupSyncMoves {
			t.Fatalf("%s got %+v", p.id, f)
		}
	}
}

func TestManagerRestoresLobby(t *testing.T) {
	pers := newMemPersister()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, Config{SnapshotEvery: time.Hour}, pers, zaptest.NewLogger(t))

	out := make(chan []byte, 16)
	l, w, err := m.Join(ctx, "room", JoinRequest{PeerID: "a", Out: out})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if w.PeerID != "a" || w.Lobby != "room" {
		t.Fatalf("welcome=%+v", w)
	}
	m2, _ := protocol.NewSync(protocol.GroupSyncMoves, protocol.ValuePayload{Value: 0x20})
	l.Submit(ctx, Envelope{PeerID: "a", Msg: m2})
	<-out
	l.Leave("a", out)
	<-l.Done()

	out = make(chan []byte, 16)
	l2, _, err := m.Join(ctx, "room", JoinRequest{PeerID: "b", Out: out})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if l2 == l {
		t.Fatalf("closed lobby reused")
	}
	in, err := l2.Info(ctx, true)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if in.Store.Moves != 0x20 {
		t.Fatalf("restored moves=%#x", in.Store.Moves)
	}
	if ids := m.List(); len(ids) != 1 || ids[0] != "room" {
		t.Fatalf("list=%v", ids)
	}
	cancel()
	m.Wait()
}

func TestApplyCommitsReplayToSameStore(t *testing.T) {
	mm := uint8(progress.LevelMumbosMountain)
	msgs := []struct {
		group   string
		payload any
	}{
		{protocol.GroupSyncGameFlags, protocol.BufferPayload{Value: []byte{0x03}}},
		{protocol.GroupSyncMoves, protocol.ValuePayload{Value: 0x11}},
		{protocol.GroupSyncJinjos, protocol.LevelValuePayload{Level: mm, Value: 0x0f}},
		{protocol.GroupSyncJinjos, protocol.LevelValuePayload{Level: mm, Value: 0x10}},
		{protocol.GroupSyncSceneEvents, protocol.SceneEventsPayload{Level: mm, Scene: 0x02, Value: 0x5}},
		{protocol.GroupSyncVoxelNotes, protocol.VoxelNotesPayload{Level: mm, Scene: 0x02, Notes: []int64{4, 5}}},
		{protocol.GroupSyncObjectNotes, protocol.LevelValuePayload{Level: mm, Value: 3}},
		{protocol.GroupSyncLocation, protocol.LocationPayload{Level: mm, Scene: 0x02}},
	}

	live := progress.NewStore()
	var journal []Commit
	for _, in := range msgs {
		m, _ := protocol.NewSync(in.group, in.payload)
		commits, err := Apply(live, m)
		if err != nil {
			t.Fatalf("apply %s: %v", in.group, err)
		}
		journal = append(journal, commits...)
	}
	if len(journal) != 8 {
		t.Fatalf("commits=%d", len(journal))
	}

	replayed := progress.NewStore()
	for _, c := range journal {
		m, _ := protocol.NewSync(c.Group, c.Payload)
		if _, err := Apply(replayed, m); err != nil {
			t.Fatalf("replay %s: %v", c.Group, err)
		}
	}
	a, _ := json.Marshal(live)
	b, _ := json.Marshal(replayed)
	if string(a) != string(b) {
		t.Fatalf("replay differs:\n%s\n%s", a, b)
	}
}

func TestApplyRejectsBadPayload(t *testing.T) {
	m := protocol.SyncMsg{Type: protocol.TypeSync, Group: protocol.GroupSyncMoves}
	if _, err := Apply(progress.NewStore(), m); !errors.Is(err, protocol.ErrEmptyPayload) {
		t.Fatalf("err=%v", err)
	}
}
