package lobby

import (
	"bytes"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

var flagGroups = map[string]progress.Group{
	protocol.GroupSyncGameFlags:       progress.GroupGameFlags,
	protocol.GroupSyncHoneyCombFlags:  progress.GroupHoneycombFlags,
	protocol.GroupSyncJiggyFlags:      progress.GroupJiggyFlags,
	protocol.GroupSyncMumboTokenFlags: progress.GroupTokenFlags,
	protocol.GroupSyncNoteTotals:      progress.GroupNoteTotals,
	protocol.GroupSyncJigsaws:         progress.GroupJigsaws,
}

// Commit is an accepted change: the group and the merged value to broadcast.
type Commit struct {
	Group   string
	Payload any
}

// Apply merges a progress group into st and returns what changed. Groups that
// carry no progress, and messages that gain nothing, return no commits.
func Apply(st *progress.Store, m protocol.SyncMsg) ([]Commit, error) {
	if g, ok := flagGroups[m.Group]; ok {
		var in protocol.BufferPayload
		if err := m.Decode(&in); err != nil {
			return nil, err
		}
		if !st.Merge(g, in.Value) {
			return nil, nil
		}
		return []Commit{{m.Group, protocol.BufferPayload{Value: bytes.Clone(st.Flags(g))}}}, nil
	}

	switch m.Group {
	case protocol.GroupSyncMoves, protocol.GroupSyncLevelEvents:
		var in protocol.ValuePayload
		if err := m.Decode(&in); err != nil {
			return nil, err
		}
		dst := &st.Moves
		if m.Group == protocol.GroupSyncLevelEvents {
			dst = &st.LevelEvents
		}
		if !progress.MergeBits(dst, in.Value) {
			return nil, nil
		}
		return []Commit{{m.Group, protocol.ValuePayload{Value: *dst}}}, nil

	case protocol.GroupSyncSceneEvents:
		var in protocol.SceneEventsPayload
		if err := m.Decode(&in); err != nil {
			return nil, err
		}
		rec := st.EnsureScene(progress.LevelID(in.Level), progress.SceneID(in.Scene))
		if rec == nil || !progress.MergeBits(&rec.Events, in.Value) {
			return nil, nil
		}
		in.Value = rec.Events
		return []Commit{{m.Group, in}}, nil

	case protocol.GroupSyncJinjos:
		var in protocol.LevelValuePayload
		if err := m.Decode(&in); err != nil {
			return nil, err
		}
		return applyJinjos(st, in), nil

	case protocol.GroupSyncObjectNotes:
		var in protocol.LevelValuePayload
		if err := m.Decode(&in); err != nil {
			return nil, err
		}
		lvl := st.EnsureLevel(progress.LevelID(in.Level))
		if lvl == nil || !lvl.MergeObjectNotes(int(in.Value)) {
			return nil, nil
		}
		return []Commit{{m.Group, in}}, nil

	case protocol.GroupSyncVoxelNotes:
		var in protocol.VoxelNotesPayload
		if err := m.Decode(&in); err != nil {
			return nil, err
		}
		rec := st.EnsureScene(progress.LevelID(in.Level), progress.SceneID(in.Scene))
		if rec == nil || rec.MergeNotes(in.Notes) == 0 {
			return nil, nil
		}
		in.Notes = append([]int64(nil), rec.Notes...)
		return []Commit{{m.Group, in}}, nil
	}
	return nil, nil
}

// applyJinjos ORs a level's jinjo mask. Completing the set awards that
// level's jinjo jiggy.
func applyJinjos(st *progress.Store, in protocol.LevelValuePayload) []Commit {
	level := progress.LevelID(in.Level)
	lvl := st.EnsureLevel(level)
	if lvl == nil || !lvl.MergeJinjos(uint8(in.Value)) {
		return nil
	}
	var out []Commit
	if lvl.Jinjos == progress.JinjoAll {
		if bit, ok := progress.JinjoJiggyBit[level]; ok && !progress.Bit(st.JiggyFlags, bit) {
			progress.SetBit(st.JiggyFlags, bit)
			out = append(out, Commit{protocol.GroupSyncJiggyFlags, protocol.BufferPayload{Value: bytes.Clone(st.JiggyFlags)}})
		}
	}
	return append(out, Commit{protocol.GroupSyncJinjos, protocol.LevelValuePayload{Level: in.Level, Value: uint32(lvl.Jinjos)}})
}

// handle merges one peer message into the lobby store. Progress that changed
// is re-broadcast to every peer; presence messages are relayed.
func (l *Lobby) handle(env Envelope) {
	p, ok := l.peers[env.PeerID]
	if !ok {
		return
	}
	if env.Err != nil {
		l.sendError(p.id, protocol.ErrProtoBadRequest, env.Err.Error())
		return
	}
	m := env.Msg
	log := l.log.With(zap.String("peer", p.id), zap.String("group", m.Group))
	log.Debug("sync received")

	info, known := protocol.LookupGroup(m.Group)
	if !known {
		l.sendError(p.id, protocol.ErrUnknownGroup, m.Group)
		return
	}
	if m.To != "" {
		l.forward(p, m)
		return
	}

	if info.Persist {
		commits, err := Apply(l.store, m)
		if err != nil {
			l.badPayload(p, m, err)
			return
		}
		for _, c := range commits {
			l.commit(p.id, c.Group, c.Payload)
		}
		return
	}

	switch m.Group {
	case protocol.GroupSyncLocation:
		var in protocol.LocationPayload
		if err := m.Decode(&in); err != nil {
			l.badPayload(p, m, err)
			return
		}
		p.level, p.scene = progress.LevelID(in.Level), progress.SceneID(in.Scene)
		l.store.EnsureScene(p.level, p.scene)
		l.relay(p, m, func(o *peer) bool { return true })

	case protocol.GroupSyncPuppet:
		if p.scene == progress.SceneUnknown {
			return
		}
		l.relay(p, m, func(o *peer) bool { return o.scene == p.scene })

	case protocol.GroupRequestScene:
		l.relay(p, m, func(o *peer) bool { return true })

	case protocol.GroupRequestStorage:
		l.sendTo(p.id, "", protocol.GroupSyncStorage, l.store)

	case protocol.GroupSyncStorage:
		log.Debug("ignoring storage pushed by a peer")
	}
}

func (l *Lobby) badPayload(p *peer, m protocol.SyncMsg, err error) {
	l.log.Debug("bad payload", zap.String("peer", p.id), zap.String("group", m.Group), zap.Error(err))
	l.sendError(p.id, protocol.ErrProtoBadRequest, err.Error())
}

// commit records an accepted change and broadcasts the merged value.
func (l *Lobby) commit(from, group string, payload any) {
	l.dirty = true
	l.broadcast(from, group, payload)
	if l.pers == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	u := Update{Time: time.Now().UTC(), Lobby: l.id, Peer: from, Group: group, Payload: b}
	if err := l.pers.Record(u); err != nil {
		l.log.Warn("record update", zap.String("group", group), zap.Error(err))
	}
}

// relay passes a peer's message on unchanged to the other peers accepted by keep.
func (l *Lobby) relay(from *peer, m protocol.SyncMsg, keep func(*peer) bool) {
	m.From = from.id
	b := l.encode(m)
	if b == nil {
		return
	}
	info, _ := protocol.LookupGroup(m.Group)
	for _, id := range append([]string(nil), l.order...) {
		o, ok := l.peers[id]
		if !ok || o == from || !keep(o) {
			continue
		}
		l.deliver(o, b, info.Reliable)
	}
}

// forward delivers an addressed message to its single recipient.
func (l *Lobby) forward(from *peer, m protocol.SyncMsg) {
	to, ok := l.peers[m.To]
	if !ok {
		l.sendError(from.id, protocol.ErrUnknownPeer, m.To)
		return
	}
	if m.Group == protocol.GroupSyncLocation {
		var in protocol.LocationPayload
		if m.Decode(&in) == nil {
			from.level, from.scene = progress.LevelID(in.Level), progress.SceneID(in.Scene)
		}
	}
	m.From = from.id
	if b := l.encode(m); b != nil {
		info, _ := protocol.LookupGroup(m.Group)
		l.deliver(to, b, info.Reliable)
	}
}
