package client

import (
	"go.uber.org/zap"

	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

// trackScene follows the player between maps. Entering a scene announces it,
// makes sure the store has records for it and schedules a despawn pass.
func (s *Session) trackScene(scene progress.SceneID) {
	if scene == s.scene {
		return
	}
	s.scene = scene

	if scene == progress.SceneUnknown {
		s.send(protocol.GroupSyncLocation, protocol.LocationPayload{})
		return
	}

	level, ok := progress.ResolveLevel(scene)
	if !ok {
		// The level stays at its previous value.
		s.log.Error("level not found for scene", zap.Uint16("scene", uint16(scene)))
		return
	}
	if level != s.level {
		s.level = level
		s.objectNotes = 0
	}

	s.store.EnsureScene(level, scene)
	s.sendLocation()
	s.log.Info("moved to scene", zap.Uint16("scene", uint16(scene)), zap.Stringer("level", level))

	// A set jinjo jiggy proves this level's jinjos were rescued in an earlier
	// session.
	if lvl := s.store.Level(level); lvl != nil && lvl.Jinjos != progress.JinjoAll {
		if bit, ok := progress.JinjoJiggyBit[level]; ok && progress.Bit(s.store.JiggyFlags, bit) {
			lvl.Jinjos = progress.JinjoAll
		}
	}

	s.needDeleteActors = true
	s.needDeleteVoxels = true
}
