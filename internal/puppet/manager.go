package puppet

import (
	"go.uber.org/zap"

	"bkonline.net/internal/emu"
	"bkonline.net/internal/protocol"
)

// SceneUnknown is the scene id of a player between maps.
const SceneUnknown uint16 = 0

// Sender is the slice of the transport the manager needs.
type Sender interface {
	SendReliable(group string, payload any) error
	SendUnreliable(group string, payload any) error
}

// Manager assigns remote peers to puppet slots and keeps each puppet spawned
// exactly when its peer shares the local scene.
type Manager struct {
	log  *zap.Logger
	game *emu.Game
	cmds *Commands
	net  Sender

	localScene uint16
	slots      [emu.PuppetSlots]*Puppet
	byPeer     map[string]*Puppet
	free       []int
	waiting    []string
	awaiting   []*Puppet
}

func NewManager(game *emu.Game, net Sender, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("puppets")
	cmds := NewCommands(game.Memory(), game.Addr(emu.FieldPuppetBase))
	m := &Manager{
		log:    log,
		game:   game,
		cmds:   cmds,
		net:    net,
		byPeer: make(map[string]*Puppet),
	}
	for i := range m.slots {
		m.slots[i] = newPuppet(cmds, game.Memory(), i, log)
		m.free = append(m.free, i)
	}
	return m
}

func (m *Manager) Commands() *Commands { return m.cmds }

// Reset despawns every puppet and forgets all peers. It runs on every
// (re)connect.
func (m *Manager) Reset() {
	m.cmds.Reset()
	m.free = m.free[:0]
	for i, p := range m.slots {
		p.Peer = ""
		p.Scene = SceneUnknown
		p.queued = false
		p.despawn("reset")
		m.free = append(m.free, i)
	}
	clear(m.byPeer)
	m.waiting = m.waiting[:0]
	m.awaiting = m.awaiting[:0]
}

// Register queues a peer for a puppet slot.
func (m *Manager) Register(peer string) {
	if _, ok := m.byPeer[peer]; ok {
		return
	}
	for _, w := range m.waiting {
		if w == peer {
			return
		}
	}
	m.waiting = append(m.waiting, peer)
}

// Unregister despawns a peer's puppet and frees its slot.
func (m *Manager) Unregister(peer string) {
	for i, w := range m.waiting {
		if w == peer {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			break
		}
	}
	p, ok := m.byPeer[peer]
	if !ok {
		return
	}
	p.despawn("peer left")
	p.Peer = ""
	p.Scene = SceneUnknown
	p.queued = false
	delete(m.byPeer, peer)
	m.free = append(m.free, p.slot)
	m.log.Info("peer removed from puppet management", zap.String("peer", peer), zap.Int("slot", p.slot))
}

// SetLocalScene records where the local player is; SceneUnknown while loading.
func (m *Manager) SetLocalScene(scene uint16) { m.localScene = scene }


// MovePeer records a peer's announced scene.
func (m *Manager) MovePeer(peer string, scene uint16) {
	p, ok := m.byPeer[peer]
	if !ok {
		m.log.Debug("no puppet for peer", zap.String("peer", peer))
		return
	}
	p.Scene = scene
	m.log.Debug("puppet moved", zap.String("peer", peer), zap.Uint16("scene", scene))
}

// HandlePose applies a remote pose. A pose from an unassigned peer registers
// it instead.
func (m *Manager) HandlePose(peer string, pose protocol.Pose) {
	p, ok := m.byPeer[peer]
	if !ok {
		m.Register(peer)
		return
	}
	if !p.canHandle {
		return
	}
	p.handle(pose)
}

// Puppet returns the puppet assigned to a peer, or nil.
func (m *Manager) Puppet(peer string) *Puppet { return m.byPeer[peer] }

// Status is a point-in-time view of puppet management.
type Status struct {
	LocalScene uint16       `json:"local_scene"`
	InScene    int          `json:"in_scene"`
	Waiting    int          `json:"waiting"`
	Slots      []SlotStatus `json:"slots"`
}

// SlotStatus describes one assigned or pending slot. PendingTicks grows while
// the game leaves a command unconsumed.
type SlotStatus struct {
	Slot         int     `json:"slot"`
	Peer         string  `json:"peer,omitempty"`
	Scene        uint16  `json:"scene"`
	Spawned      bool    `json:"spawned"`
	Command      Command `json:"command"`
	PendingTicks int     `json:"pending_ticks"`
}

// InScene counts spawned puppets sharing the local scene.
func (m *Manager) InScene() int {
	if m.localScene == SceneUnknown {
		return 0
	}
	n := 0
	for _, p := range m.slots {
		if p.Scene == m.localScene && p.spawned {
			n++
		}
	}
	return n
}

// Status lists the slots that have a peer or a command in flight.
func (m *Manager) Status() Status {
	st := Status{LocalScene: m.localScene, InScene: m.InScene(), Waiting: len(m.waiting)}
	for i, p := range m.slots {
		pending := m.cmds.State(i) == SlotPending
		if p.Peer == "" && !pending {
			continue
		}
		ss := SlotStatus{Slot: i, Peer: p.Peer, Scene: p.Scene, Spawned: p.spawned}
		if pending {
			ss.Command = m.cmds.Current(i)
			ss.PendingTicks = m.cmds.PendingTicks(i)
		}
		st.Slots = append(st.Slots, ss)
	}
	return st
}

// Stuck returns the slots whose command has waited at least ticks polls.
func (s Status) Stuck(ticks int) []SlotStatus {
	var out []SlotStatus
	for _, ss := range s.Slots {
		if ss.Command != CmdEmpty && ss.PendingTicks >= ticks {
			out = append(out, ss)
		}
	}
	return out
}

// Tick advances puppet management by one frame. safe is false while the local
// player is in transit or loading; spawns wait for it.
func (m *Manager) Tick(safe bool) {
	m.cmds.Poll()
	m.assignWaiting()
	if safe {
		m.spawnAwaiting()
	}
	m.sendPose()
	m.reconcileSpawns()
}

func (m *Manager) assignWaiting() {
	if len(m.waiting) == 0 || len(m.free) == 0 {
		return
	}
	peer := m.waiting[0]
	m.waiting = m.waiting[1:]
	if _, ok := m.byPeer[peer]; ok {
		return
	}
	idx := m.free[0]
	m.free = m.free[1:]
	p := m.slots[idx]
	p.Peer = peer
	p.Scene = SceneUnknown
	m.byPeer[peer] = p
	m.log.Info("assigned puppet", zap.String("peer", peer), zap.Int("slot", idx))
	if err := m.net.SendReliable(protocol.GroupRequestScene, nil); err != nil {
		m.log.Warn("request scene", zap.Error(err))
	}
}

func (m *Manager) spawnAwaiting() {
	for _, p := range m.awaiting {
		p.queued = false
		if p.Peer == "" {
			continue
		}
		if m.localScene != SceneUnknown && p.Scene == m.localScene {
			p.spawn()
		}
	}
	m.awaiting = m.awaiting[:0]
}

func (m *Manager) sendPose() {
	pose := ReadPose(m.game)
	if err := m.net.SendUnreliable(protocol.GroupSyncPuppet, protocol.PuppetPayload{Pose: pose}); err != nil {
		m.log.Debug("send pose", zap.Error(err))
	}
}

func (m *Manager) reconcileSpawns() {
	if m.localScene == SceneUnknown {
		for _, p := range m.slots {
			if p.spawned {
				p.despawn("local player between scenes")
			}
		}
		return
	}
	for _, p := range m.slots {
		inScene := p.Peer != "" && p.Scene == m.localScene
		switch {
		case inScene && !p.spawned:
			if !p.queued {
				p.queued = true
				m.awaiting = append(m.awaiting, p)
			}
		case !inScene && p.spawned:
			p.despawn("peer left scene")
		}
	}
}
