package puppet

import (
	"go.uber.org/zap"

	"bkonline.net/internal/emu"
	"bkonline.net/internal/protocol"
)

// Puppet is the local stand-in for one remote peer, bound to a command slot.
type Puppet struct {
	Peer  string
	Scene uint16

	slot      int
	spawned   bool
	canHandle bool
	queued    bool

	ent  *entity
	cmds *Commands
	log  *zap.Logger
}

func newPuppet(cmds *Commands, mem emu.Memory, slot int, log *zap.Logger) *Puppet {
	return &Puppet{
		slot: slot,
		ent:  newEntity(mem, cmds.PointerAddr(slot)),
		cmds: cmds,
		log:  log,
	}
}

func (p *Puppet) Slot() int       { return p.slot }
func (p *Puppet) Spawned() bool   { return p.spawned }
func (p *Puppet) CanHandle() bool { return p.canHandle }
func (p *Puppet) Broken() bool    { return p.ent.broken }

func (p *Puppet) spawn() {
	exists := p.cmds.Entity(p.slot) != 0
	p.spawned = exists
	p.canHandle = false
	if exists {
		p.canHandle = true
		return
	}
	p.cmds.Issue(p.slot, CmdSpawn, func(ptr uint32) {
		if ptr == 0 {
			p.log.Warn("spawn failed", zap.String("peer", p.Peer), zap.Int("slot", p.slot))
			return
		}
		p.ent.arm(ptr)
		p.spawned = true
		p.canHandle = true
		p.log.Debug("puppet spawned", zap.String("peer", p.Peer), zap.Int("slot", p.slot), zap.Uint32("entity", ptr))
	})
}

func (p *Puppet) despawn(reason string) {
	exists := p.cmds.Entity(p.slot) != 0
	p.spawned = exists
	p.canHandle = false
	if !exists {
		p.ent.clear()
		return
	}
	p.cmds.Issue(p.slot, CmdDespawn, func(ptr uint32) {
		if ptr != 0 {
			p.log.Warn("despawn failed", zap.String("peer", p.Peer), zap.Int("slot", p.slot))
			return
		}
		p.spawned = false
		p.ent.clear()
		p.log.Debug("puppet despawned", zap.String("peer", p.Peer), zap.Int("slot", p.slot), zap.String("reason", reason))
	})
}

// handle copies a remote pose onto the entity. A pose that trips the entity
// guard despawns the puppet.
func (p *Puppet) handle(pose protocol.Pose) {
	if !p.spawned || !p.canHandle || p.ent.broken {
		return
	}
	p.ent.apply(pose)
	if p.ent.broken {
		p.log.Info("puppet entity lost, despawning", zap.String("peer", p.Peer), zap.Int("slot", p.slot))
		p.despawn("broken entity")
	}
}
