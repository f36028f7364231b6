package client

import (
	"go.uber.org/zap"

	"bkonline.net/internal/emu"
	"bkonline.net/internal/progress"
	"bkonline.net/internal/protocol"
)

// Model ids the collision hook reports in the object mailbox.
const (
	ModelNote        = 0x06d6
	ModelJinjoBlue   = 0x03c0
	ModelJinjoGreen  = 0x03c2
	ModelJinjoOrange = 0x03bc
	ModelJinjoPink   = 0x03c1
	ModelJinjoYellow = 0x03bb
)

var jinjoModels = map[uint32]int{
	ModelJinjoBlue:   progress.JinjoBlue,
	ModelJinjoGreen:  progress.JinjoGreen,
	ModelJinjoOrange: progress.JinjoOrange,
	ModelJinjoPink:   progress.JinjoPink,
	ModelJinjoYellow: progress.JinjoYellow,
}

// Actor type ids found in the live actor array.
const (
	ActorMumboToken  = 0x2d
	ActorJiggy       = 0x46
	ActorHoneycomb   = 0x47
	ActorJinjoYellow = 0x5e
	ActorJinjoOrange = 0x5f
	ActorJinjoBlue   = 0x60
	ActorJinjoPink   = 0x61
	ActorJinjoGreen  = 0x62

	// VoxelNote is the type tag of a note stored in a voxel list.
	VoxelNote = 0x1640
)

// Actor and voxel struct layout.
const (
	mailboxCells = 5

	actorHeader     = 0x08
	actorStride     = 0x180
	actorFlagIDOff  = 0x7c
	actorJiggyIDOff = 0x80
	actorInfoOff    = 0x12c
	actorStateOff   = 0x47
	actorDeleteBit  = 0x08

	voxelListStride = 0x0c
	voxelItemsOff   = 0x08
	voxelItemStride = 0x0c
	voxelPosOff     = 0x04
	voxelVisibleOff = 0x0b
	voxelVisible    = 0x10
)

var jinjoActors = map[uint16]int{
	ActorJinjoBlue:   progress.JinjoBlue,
	ActorJinjoGreen:  progress.JinjoGreen,
	ActorJinjoOrange: progress.JinjoOrange,
	ActorJinjoPink:   progress.JinjoPink,
	ActorJinjoYellow: progress.JinjoYellow,
}

// collectMailboxes drains the two collision mailboxes the game-side hook fills
// when the player touches a note, a jinjo or a voxel note.
func (s *Session) collectMailboxes() {
	mem := s.game.Memory()
	lvl := s.store.EnsureLevel(s.level)

	base := s.game.Addr(emu.FieldObjectMailbox)
	foundJinjo := false
	for i := uint32(0); i < mailboxCells; i++ {
		addr := base + i*4
		model := mem.Read32(addr)
		if model == 0 {
			continue
		}
		mem.Write32(addr, 0)
		if lvl == nil {
			continue
		}
		if model == ModelNote {
			s.objectNotes++
			if lvl.MergeObjectNotes(s.objectNotes) {
				s.send(protocol.GroupSyncObjectNotes, protocol.LevelValuePayload{Level: uint8(s.level), Value: uint32(lvl.ObjectNotes)})
			}
			continue
		}
		if bit, ok := jinjoModels[model]; ok {
			lvl.Jinjos |= 1 << bit
			foundJinjo = true
		}
	}

	base = s.game.Addr(emu.FieldVoxelMailbox)
	for i := uint32(0); i < mailboxCells; i++ {
		addr := base + i*4
		ptr := emu.Deref(mem, addr)
		if mem.Read32(addr) != 0 {
			mem.Write32(addr, 0)
		}
		if ptr == 0 || mem.Read16(ptr) != VoxelNote {
			continue
		}
		rec := s.store.EnsureScene(s.level, s.scene)
		if rec == nil {
			continue
		}
		key := voxelKey(mem, ptr)
		if rec.MergeNotes([]int64{key}) == 0 {
			continue
		}
		s.send(protocol.GroupSyncVoxelNotes, protocol.VoxelNotesPayload{
			Level: uint8(s.level),
			Scene: uint16(s.scene),
			Notes: append([]int64(nil), rec.Notes...),
		})
	}

	if foundJinjo {
		s.send(protocol.GroupSyncJinjos, protocol.LevelValuePayload{Level: uint8(s.level), Value: uint32(lvl.Jinjos)})
	}
}

func voxelKey(mem emu.Memory, ptr uint32) int64 {
	return progress.VoxelKey(
		int16(mem.Read16(ptr+voxelPosOff)),
		int16(mem.Read16(ptr+voxelPosOff+2)),
		int16(mem.Read16(ptr+voxelPosOff+4)),
	)
}

// applyPermanence keeps the level HUD counters in line with shared progress.
func (s *Session) applyPermanence() {
	lvl := s.store.Level(s.level)
	if lvl == nil {
		return
	}
	s.game.Set(emu.FieldJinjos, uint32(lvl.Jinjos))

	if s.noteTotal() == progress.NoteCap {
		s.game.Set(emu.FieldNotes, progress.NoteCap)
		return
	}
	count := uint32(lvl.ObjectNotes + lvl.SceneNoteCount())
	if s.game.Get(emu.FieldNotes) != count {
		s.needDeleteVoxels = true
	}
	s.game.Set(emu.FieldNotes, count)
}

func (s *Session) noteTotal() int {
	totals := s.store.Flags(progress.GroupNoteTotals)
	if int(s.level) >= len(totals) {
		return 0
	}
	return int(totals[s.level])
}

// despawnActors hides collectibles the lobby already owns.
func (s *Session) despawnActors() {
	if !s.needDeleteActors {
		return
	}
	s.needDeleteActors = false

	mem := s.game.Memory()
	ptr := emu.Deref(mem, s.game.Addr(emu.FieldActorArray))
	if ptr == 0 {
		return
	}
	count := mem.Read32(ptr)
	ptr += actorHeader

	lvl := s.store.Level(s.level)
	deleted := 0
	for i := uint32(0); i < count; i++ {
		if !inRDRAM(ptr + actorStride) {
			s.log.Warn("actor array runs past RDRAM", zap.Uint32("count", count))
			break
		}
		if s.ownedActor(mem, ptr, lvl) {
			mem.Write8(ptr+actorStateOff, mem.Read8(ptr+actorStateOff)|actorDeleteBit)
			deleted++
		}
		ptr += actorStride
	}
	if deleted > 0 {
		s.log.Debug("despawned actors", zap.Int("count", deleted))
	}
}

func (s *Session) ownedActor(mem emu.Memory, ptr uint32, lvl *progress.LevelRecord) bool {
	info := emu.Deref(mem, ptr+actorInfoOff)
	if info == 0 {
		return false
	}
	id := mem.Read16(info + 2)
	switch id {
	case ActorHoneycomb:
		return progress.Bit(s.store.HoneycombFlags, int(mem.Read32(ptr+actorFlagIDOff)))
	case ActorJiggy:
		return progress.Bit(s.store.JiggyFlags, int(mem.Read32(ptr+actorJiggyIDOff)))
	case ActorMumboToken:
		return progress.Bit(s.store.TokenFlags, int(mem.Read32(ptr+actorFlagIDOff)))
	}
	if bit, ok := jinjoActors[id]; ok && lvl != nil {
		return lvl.Jinjos&(1<<bit) != 0
	}
	return false
}

// despawnVoxels hides voxel notes already collected and restores the rest.
func (s *Session) despawnVoxels() {
	if !s.needDeleteVoxels {
		return
	}
	s.needDeleteVoxels = false

	rec := s.store.Scene(s.level, s.scene)
	if rec == nil {
		return
	}
	capped := s.noteTotal() == progress.NoteCap

	mem := s.game.Memory()
	list := emu.Deref(mem, s.game.Addr(emu.FieldVoxelArray))
	if list == 0 {
		return
	}
	lists := s.game.Get(emu.FieldVoxelCount)
	for i := uint32(0); i < lists; i++ {
		n := (mem.Read32(list) >> 5) & 0x3f
		item := emu.Deref(mem, list+voxelItemsOff)
		for j := uint32(0); j < n && item != 0; j++ {
			if mem.Read16(item) == VoxelNote {
				visible := !capped && !rec.HasNote(voxelKey(mem, item))
				if visible {
					mem.Write8(item+voxelVisibleOff, voxelVisible)
				} else {
					mem.Write8(item+voxelVisibleOff, 0)
				}
			}
			item += voxelItemStride
		}
		list += voxelListStride
	}
}

func inRDRAM(addr uint32) bool {
	return emu.Physical(addr) < emu.RDRAMSize
}
