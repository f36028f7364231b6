package ram

import "bkonline.net/internal/emu"

const (
	heapStart = 0x600000
	heapEnd   = 0x7f0000
	modelSize = 0x40
	animSize  = 0x20
)

// PuppetHost plays the game's half of the puppet command buffer: each Step
// consumes pending SPAWN and DESPAWN commands the way the game does once per
// frame.
type PuppetHost struct {
	ram  *RAM
	base uint32
	next uint32
}

func NewPuppetHost(r *RAM, base uint32) *PuppetHost {
	return &PuppetHost{ram: r, base: base, next: heapStart}
}

func (h *PuppetHost) Step() {
	for i := 0; i < emu.PuppetSlots; i++ {
		cmd := emu.SlotCommandAddr(h.base, i)
		ptr := emu.SlotPointerAddr(h.base, i)
		switch h.ram.Read32(cmd) {
		case emu.CmdSpawn:
			h.ram.Write32(ptr, emu.Pointer(h.alloc()))
			h.ram.Write32(cmd, emu.CmdEmpty)
		case emu.CmdDespawn:
			h.ram.Write32(ptr, 0)
			h.ram.Write32(cmd, emu.CmdEmpty)
		}
	}
}

// Entity returns the physical address of the entity in slot i, or 0.
func (h *PuppetHost) Entity(i int) uint32 {
	return emu.Deref(h.ram, emu.SlotPointerAddr(h.base, i))
}

func (h *PuppetHost) alloc() uint32 {
	need := uint32(emu.EntitySize + modelSize + 2*animSize)
	if h.next+need > heapEnd {
		h.next = heapStart
	}
	ent := h.next
	model := ent + emu.EntitySize
	animCtl := model + modelSize
	animState := animCtl + animSize
	h.next += need

	h.ram.WriteBytes(ent, make([]byte, need))
	h.ram.Write32(ent+emu.EntityModel, emu.Pointer(model))
	h.ram.Write32(ent+emu.EntityAnim, emu.Pointer(animCtl))
	h.ram.Write32(animCtl, emu.Pointer(animState))
	return ent
}
