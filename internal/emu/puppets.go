package emu

// The mod's command buffer: a count word at the puppet base followed by
// PuppetSlots cells of {command u32, entity pointer u32}. The game consumes a
// command and resets the cell to CmdEmpty once the entity pointer is updated.
const (
	PuppetSlots = 16

	CmdEmpty   uint32 = 0x00000000
	CmdSpawn   uint32 = 0xffffffff
	CmdDespawn uint32 = 0xfffffffe

	slotStride = 0x08
)

// SlotCommandAddr is the command cell of slot i.
func SlotCommandAddr(base uint32, i int) uint32 {
	return base + 0x04 + uint32(i)*slotStride
}

// SlotPointerAddr is the entity pointer cell of slot i.
func SlotPointerAddr(base uint32, i int) uint32 {
	return SlotCommandAddr(base, i) + 0x04
}

// Puppet entity offsets.
const (
	EntityModel     = 0x000
	EntityPos       = 0x004
	EntityAnim      = 0x014
	EntitySentinel  = 0x01c
	EntityRotY      = 0x050
	EntityRotX      = 0x068
	EntityRotZ      = 0x110
	EntityScale     = 0x128
	EntitySize      = 0x180
	ModelIndexOff   = 0x03e
	AnimFrameOff    = 0x014
	AnimIDOff       = 0x010
	PuppetSentinel  = 0xdeadbeef
	ModelIndexShift = 2
)
