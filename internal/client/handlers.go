package client

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

// flagGroups maps buffer SYNC groups onto the store group they merge into.
var flagGroups = map[string]progress.Group{
	protocol.GroupSyncGameFlags:       progress.GroupGameFlags,
	protocol.GroupSyncHoneyCombFlags:  progress.GroupHoneycombFlags,
	protocol.GroupSyncJiggyFlags:      progress.GroupJiggyFlags,
	protocol.GroupSyncMumboTokenFlags: progress.GroupTokenFlags,
	protocol.GroupSyncNoteTotals:      progress.GroupNoteTotals,
	protocol.GroupSyncJigsaws:         progress.GroupJigsaws,
}

// Handle applies one SYNC message from the lobby to the mirror. Game memory is
// only touched by the next Tick, except for puppet poses.
func (s *Session) Handle(m protocol.SyncMsg) error {
	if g, ok := flagGroups[m.Group]; ok {
		var p protocol.BufferPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		if s.store.Merge(g, p.Value) {
			switch g {
			case progress.GroupHoneycombFlags, progress.GroupJiggyFlags, progress.GroupTokenFlags:
				s.needDeleteActors = true
			}
		}
		return nil
	}

	switch m.Group {
	case protocol.GroupSyncStorage:
		var st progress.Store
		if err := m.Decode(&st); err != nil {
			return err
		}
		st.Normalize()
		s.store = &st
		s.needDeleteActors = true
		s.needDeleteVoxels = true
		s.log.Info("received lobby storage")

	case protocol.GroupSyncMoves:
		var p protocol.ValuePayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		progress.MergeBits(&s.store.Moves, p.Value)

	case protocol.GroupSyncLevelEvents:
		var p protocol.ValuePayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		progress.MergeBits(&s.store.LevelEvents, p.Value)

	case protocol.GroupSyncSceneEvents:
		var p protocol.SceneEventsPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		if rec := s.store.EnsureScene(progress.LevelID(p.Level), progress.SceneID(p.Scene)); rec != nil {
			progress.MergeBits(&rec.Events, p.Value)
		}

	case protocol.GroupSyncJinjos:
		var p protocol.LevelValuePayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		lvl := s.store.EnsureLevel(progress.LevelID(p.Level))
		if lvl != nil && lvl.MergeJinjos(uint8(p.Value)) && progress.LevelID(p.Level) == s.level {
			s.needDeleteActors = true
		}

	case protocol.GroupSyncObjectNotes:
		var p protocol.LevelValuePayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		if lvl := s.store.EnsureLevel(progress.LevelID(p.Level)); lvl != nil {
			lvl.MergeObjectNotes(int(p.Value))
		}

	case protocol.GroupSyncVoxelNotes:
		var p protocol.VoxelNotesPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		level, scene := progress.LevelID(p.Level), progress.SceneID(p.Scene)
		rec := s.store.EnsureScene(level, scene)
		if rec != nil && rec.MergeNotes(p.Notes) > 0 && level == s.level && scene == s.scene {
			s.needDeleteVoxels = true
		}

	case protocol.GroupSyncLocation:
		var p protocol.LocationPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		s.store.EnsureScene(progress.LevelID(p.Level), progress.SceneID(p.Scene))
		s.puppets.MovePeer(m.From, p.Scene)

	case protocol.GroupSyncPuppet:
		var p protocol.PuppetPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		s.puppets.HandlePose(m.From, p.Pose)

	case protocol.GroupRequestScene:
		if m.From == "" {
			return nil
		}
		loc := protocol.LocationPayload{Level: uint8(s.level), Scene: uint16(s.scene)}
		if !s.game.Playing() {
			loc = protocol.LocationPayload{}
		}
		if err := s.net.SendToPeer(m.From, protocol.GroupSyncLocation, loc); err != nil {
			s.log.Warn("answer scene request", zap.String("peer", m.From), zap.Error(err))
		}

	case protocol.GroupRequestStorage:
		// Served by the lobby.

	default:
		return fmt.Errorf("%w: %s", protocol.ErrGroup, m.Group)
	}
	return nil
}

// HandleFrame dispatches one decoded server frame.
func (s *Session) HandleFrame(raw []byte) error {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return err
	}
	switch base.Type {
	case protocol.TypeSync:
		var m protocol.SyncMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode sync: %w", err)
		}
		return s.Handle(m)
	case protocol.TypePeerJoined, protocol.TypePeerLeft:
		var m protocol.PeerMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode peer: %w", err)
		}
		if base.Type == protocol.TypePeerJoined {
			s.PeerJoined(m.Peer.ID)
		} else {
			s.PeerLeft(m.Peer.ID)
		}
	case protocol.TypeWelcome:
		var m protocol.WelcomeMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode welcome: %w", err)
		}
		s.Welcome(m)
	case protocol.TypeError:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
		s.log.Warn("lobby error", zap.String("code", m.Code), zap.String("message", m.Message))
	default:
		return fmt.Errorf("unexpected message type %q", base.Type)
	}
	return nil
}

// Welcome handles a (re)connect to a lobby: a first join asks for stored
// progress, every connect resets puppets and registers the peers present.
func (s *Session) Welcome(m protocol.WelcomeMsg) {
	if m.Lobby != s.lobby {
		s.lobby = m.Lobby
		s.Joined()
	}
	s.self = m.PeerID
	s.Connected()
	for _, p := range m.Peers {
		if p.ID != s.self {
			s.PeerJoined(p.ID)
		}
	}
}
