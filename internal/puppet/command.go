package puppet

import "bkonline.net/internal/emu"

// Command is a request the game consumes from a command slot.
type Command uint32

const (
	CmdEmpty   = Command(emu.CmdEmpty)
	CmdSpawn   = Command(emu.CmdSpawn)
	CmdDespawn = Command(emu.CmdDespawn)
)

func (c Command) String() string {
	switch c {
	case CmdEmpty:
		return "EMPTY"
	case CmdSpawn:
		return "SPAWN"
	case CmdDespawn:
		return "DESPAWN"
	default:
		return "CMD_?"
	}
}

// SlotState is Idle until a command is issued and Pending until the game
// clears the command cell.
type SlotState uint8

const (
	SlotIdle SlotState = iota
	SlotPending
)

// Completion runs on the tick that observes a slot's command consumed. entity
// is the slot's entity address at that moment, 0 when none.
type Completion func(entity uint32)

type slot struct {
	cmdAddr    uint32
	ptrAddr    uint32
	state      SlotState
	issued     Command
	onComplete Completion
	pendingFor int
}

// Commands drives the fixed command buffer shared with the game.
type Commands struct {
	mem   emu.Memory
	slots [emu.PuppetSlots]slot
}

func NewCommands(mem emu.Memory, base uint32) *Commands {
	c := &Commands{mem: mem}
	for i := range c.slots {
		c.slots[i] = slot{
			cmdAddr: emu.SlotCommandAddr(base, i),
			ptrAddr: emu.SlotPointerAddr(base, i),
		}
	}
	return c
}

// Current is the command sitting in slot i's cell.
func (c *Commands) Current(i int) Command {
	return Command(c.mem.Read32(c.slots[i].cmdAddr))
}

// Entity is the physical address of slot i's entity, 0 when none.
func (c *Commands) Entity(i int) uint32 {
	return emu.Deref(c.mem, c.slots[i].ptrAddr)
}

// PointerAddr is the cell holding slot i's entity pointer.
func (c *Commands) PointerAddr(i int) uint32 { return c.slots[i].ptrAddr }

func (c *Commands) State(i int) SlotState { return c.slots[i].state }

// PendingTicks is how many polls slot i has been waiting for the game.
func (c *Commands) PendingTicks(i int) int { return c.slots[i].pendingFor }

// Issue writes cmd to slot i and arms done to run once the game consumes it.
// EMPTY, or the command already in the cell, is a no-op. A SPAWN for a slot
// that already has an entity, or a DESPAWN for one that has none, cancels
// whatever sits in the cell instead and leaves the slot state unchanged.
// Issue reports whether the slot went pending.
func (c *Commands) Issue(i int, cmd Command, done Completion) bool {
	if cmd == CmdEmpty || c.Current(i) == cmd {
		return false
	}
	s := &c.slots[i]
	exists := c.Entity(i) != 0
	if (exists && cmd == CmdSpawn) || (!exists && cmd == CmdDespawn) {
		if c.Current(i) != CmdEmpty {
			c.mem.Write32(s.cmdAddr, uint32(CmdEmpty))
		}
		return false
	}
	c.mem.Write32(s.cmdAddr, uint32(cmd))
	s.state = SlotPending
	s.issued = cmd
	s.onComplete = done
	s.pendingFor = 0
	return true
}

// Poll completes every pending slot whose cell the game has cleared. It must
// run once per tick before anything issues new commands.
func (c *Commands) Poll() {
	for i := range c.slots {
		s := &c.slots[i]
		if s.state != SlotPending {
			continue
		}
		if c.Current(i) != CmdEmpty {
			s.pendingFor++
			continue
		}
		done := s.onComplete
		s.state = SlotIdle
		s.onComplete = nil
		s.issued = CmdEmpty
		s.pendingFor = 0
		if done != nil {
			done(c.Entity(i))
		}
	}
}

// Reset forgets pending completions and withdraws every command the game has
// not consumed yet.
func (c *Commands) Reset() {
	for i := range c.slots {
		if c.Current(i) != CmdEmpty {
			c.mem.Write32(c.slots[i].cmdAddr, uint32(CmdEmpty))
		}
		c.slots[i].state = SlotIdle
		c.slots[i].onComplete = nil
		c.slots[i].issued = CmdEmpty
		c.slots[i].pendingFor = 0
	}
}
