package client

import (
	"bytes"

	"go.uber.org/zap"

	"bkonline.net/internal/emu"
	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

// reconcileGroup merges the game's copy of a flag group with the mirror. On
// disagreement the merged value is written to the game, stored and sent.
func (s *Session) reconcileGroup(g progress.Group, field emu.FieldName, name string) ([]byte, bool) {
	game, merged, dirty := progress.Reconcile(g, s.game.Bytes(field), s.store.Flags(g))
	if !dirty {
		return game, false
	}
	s.game.SetBytes(field, game)
	s.store.SetFlags(g, merged)
	s.send(name, protocol.BufferPayload{Value: merged})
	return game, true
}

func (s *Session) syncGameFlags() {
	flags, _ := s.reconcileGroup(progress.GroupGameFlags, emu.FieldGameFlags, protocol.GroupSyncGameFlags)

	placed, changed := progress.CompactPuzzles(flags, s.store.Jigsaws)
	s.placed = placed
	if changed {
		s.game.SetByteRange(emu.FieldGameFlags, flags, progress.PuzzleByteFirst, progress.PuzzleByteEnd)
		mirror := s.store.Flags(progress.GroupGameFlags)
		copy(mirror[progress.PuzzleByteFirst:progress.PuzzleByteEnd], flags[progress.PuzzleByteFirst:progress.PuzzleByteEnd])
		s.send(protocol.GroupSyncJigsaws, protocol.BufferPayload{Value: bytes.Clone(s.store.Jigsaws)})
		s.log.Debug("puzzles compacted", zap.Int("placed", placed))
	}
}

func (s *Session) tokensSpent() int {
	return progress.TokensSpent(s.store.Flags(progress.GroupGameFlags))
}

func (s *Session) syncHoneycombs() {
	flags, changed := s.reconcileGroup(progress.GroupHoneycombFlags, emu.FieldHoneycombFlags, protocol.GroupSyncHoneyCombFlags)
	if !changed {
		return
	}
	pieces, upgrades, health := progress.HoneycombTotals(flags)
	s.game.Set(emu.FieldHoneycombs, uint32(pieces))
	s.game.Set(emu.FieldHealthUpgrades, uint32(upgrades))
	s.game.Set(emu.FieldHealth, uint32(health))
}

// syncJiggies rewrites the jiggy counter every tick since placing a piece
// changes it without touching the flags.
func (s *Session) syncJiggies() {
	flags, _ := s.reconcileGroup(progress.GroupJiggyFlags, emu.FieldJiggyFlags, protocol.GroupSyncJiggyFlags)
	s.game.Set(emu.FieldJiggies, uint32(progress.JiggyTotal(flags, s.placed)))
}

func (s *Session) syncTokens() {
	flags, changed := s.reconcileGroup(progress.GroupTokenFlags, emu.FieldTokenFlags, protocol.GroupSyncMumboTokenFlags)
	if !changed {
		return
	}
	s.game.Set(emu.FieldMumboTokens, uint32(progress.TokenTotal(flags, s.tokensSpent())))
}

func (s *Session) syncNoteTotals() {
	s.reconcileGroup(progress.GroupNoteTotals, emu.FieldNoteTotals, protocol.GroupSyncNoteTotals)
}

func (s *Session) syncMoves() {
	// Furnace Fun takes moves away for its duration.
	if s.scene == progress.SceneFurnaceFun {
		return
	}
	val := s.game.Get(emu.FieldMoves)
	db := s.store.Moves

	for _, grant := range progress.MoveGrants {
		bit := uint32(1) << grant.Move
		if val&bit == 0 && db&bit != 0 {
			f := emu.FieldName(grant.Counter)
			s.game.Set(f, s.game.Get(f)+uint32(grant.Amount))
		}
	}

	if val == db {
		return
	}
	val |= db
	s.game.Set(emu.FieldMoves, val)
	s.store.Moves = val
	s.send(protocol.GroupSyncMoves, protocol.ValuePayload{Value: val})
	s.game.Set(emu.FieldHealth, uint32(progress.FullHealth(s.store.Flags(progress.GroupHoneycombFlags))))
}

func (s *Session) syncLevelEvents() {
	evt := s.game.Get(emu.FieldLevelEvents)
	if evt == s.store.LevelEvents {
		return
	}
	evt |= s.store.LevelEvents

	// Opening cutscenes replay if their bits are forced.
	for _, b := range progress.BlockingLevelEvents {
		if evt&(1<<b) != 0 {
			return
		}
	}

	s.store.LevelEvents = evt
	s.game.Set(emu.FieldLevelEvents, evt)
	crc1, crc2 := levelEventCRC(s.game.Bytes(emu.FieldLevelEventBlock))
	s.game.Set(emu.FieldLevelEventCRC1, crc1)
	s.game.Set(emu.FieldLevelEventCRC2, crc2)
	s.send(protocol.GroupSyncLevelEvents, protocol.ValuePayload{Value: evt})
}

// levelEventCRC computes the two checksums the game keeps over its level event
// block.
func levelEventCRC(block []byte) (crc1, crc2 uint32) {
	crc1, crc2 = 0x5c9ec23, 0x3f2f59a
	for i, b := range block {
		tmp := uint32(b)
		crc2 += uint32(i+7) * tmp
		crc1 = (tmp * 0x0d) ^ (((crc1 + tmp) & 0x7f) << 0x14) ^ (crc1 >> 7)
	}
	return crc1, crc2
}

// sceneEventCRC returns the three checksums written beside the scene events.
func sceneEventCRC(evt uint32) (uint32, uint32, uint32) {
	return evt ^ 0x1195e97, evt ^ 0xa84e38c8, evt ^ 0x3973e4d9
}

func (s *Session) syncSceneEvents() {
	rec := s.store.EnsureScene(s.level, s.scene)
	if rec == nil {
		return
	}
	runtime := s.game.Get(emu.FieldSceneEvents)
	evt := runtime | rec.Events | s.tutorialEvents()

	if evt == runtime && evt == rec.Events {
		return
	}
	rec.Events = evt
	s.game.Set(emu.FieldSceneEvents, evt)
	c1, c2, c3 := sceneEventCRC(evt)
	s.game.Set(emu.FieldSceneEventCRC1, c1)
	s.game.Set(emu.FieldSceneEventCRC2, c2)
	s.game.Set(emu.FieldSceneEventCRC3, c3)
	s.send(protocol.GroupSyncSceneEvents, protocol.SceneEventsPayload{
		Level: uint8(s.level),
		Scene: uint16(s.scene),
		Value: evt,
	})
}

// tutorialEvents are the Spiral Mountain scene events implied by shared
// progress, so a player joining late skips dialogue others already saw.
func (s *Session) tutorialEvents() uint32 {
	if s.scene != progress.SceneSMMain {
		return 0
	}
	var evt uint32
	moves := s.game.Get(emu.FieldMoves)
	if moves != 0 {
		evt |= 1 << progress.SceneEventSMBottlesFirstTalk
	}
	if moves >= progress.MovesTutorialDone {
		evt |= 1<<progress.SceneEventSMTutorialFinish | 1<<progress.SceneEventSMAllAttacks
	}
	if s.store.Level(progress.LevelGruntildasLair) != nil {
		evt |= 1<<progress.SceneEventSMFistTopBottlesTalk | 1<<progress.SceneEventSMEndTutorial
	}
	return evt
}
