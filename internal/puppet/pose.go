package puppet

import (
	"encoding/binary"
	"math"

	"bkonline.net/internal/emu"
	"bkonline.net/internal/protocol"
)

// ReadPose captures the local player's presentation state.
func ReadPose(g *emu.Game) protocol.Pose {
	var p protocol.Pose
	pos := g.Bytes(emu.FieldPlayerPos)
	for i := 0; i < 3 && 4*i+4 <= len(pos); i++ {
		p.Pos[i] = f32(binary.BigEndian.Uint32(pos[4*i:]))
	}
	p.Rot[0] = f32(g.Get(emu.FieldPlayerRotX))
	p.Rot[1] = f32(g.Get(emu.FieldPlayerRotY))
	p.Rot[2] = f32(g.Get(emu.FieldPlayerRotZ))
	anim := g.Bytes(emu.FieldPlayerAnim)
	if len(anim) >= 8 {
		p.Anim.Frame = binary.BigEndian.Uint32(anim[0:])
		p.Anim.ID = binary.BigEndian.Uint32(anim[4:])
	}
	p.Model = uint16(g.Get(emu.FieldPlayerModel))
	p.Scale = g.Get(emu.FieldPlayerScale)
	return p
}

// entity writes poses onto one puppet. It latches broken when the entity
// disappears or its sentinel is overwritten; a broken entity takes no writes
// until it is armed again.
type entity struct {
	mem     emu.Memory
	ptrAddr uint32
	broken  bool
	model   int32
}

func newEntity(mem emu.Memory, ptrAddr uint32) *entity {
	return &entity{mem: mem, ptrAddr: ptrAddr, model: -1}
}

// arm stamps the sentinel on a freshly spawned entity.
func (e *entity) arm(ptr uint32) {
	e.mem.Write32(ptr+emu.EntitySentinel, emu.PuppetSentinel)
	e.broken = false
	e.model = -1
}

func (e *entity) clear() {
	e.broken = false
	e.model = -1
}

// check returns the entity address if it is safe to write, else 0.
func (e *entity) check() uint32 {
	if e.broken {
		return 0
	}
	ptr := emu.Deref(e.mem, e.ptrAddr)
	if ptr == 0 {
		e.broken = true
		return 0
	}
	if e.mem.Read32(ptr+emu.EntitySentinel) != emu.PuppetSentinel {
		e.broken = true
		return 0
	}
	return ptr
}

// apply writes every pose field in order, stopping at the first failed check.
func (e *entity) apply(p protocol.Pose) {
	e.applyAnim(p.Anim)
	e.applyPos(p.Pos)
	e.applyRot(p.Rot)
	e.applyModel(p.Model)
	e.applyScale(p.Scale)
}

func (e *entity) applyAnim(a protocol.Anim) {
	ptr := e.check()
	if ptr == 0 {
		return
	}
	ctl := emu.Deref(e.mem, ptr+emu.EntityAnim)
	if ctl == 0 {
		e.broken = true
		return
	}
	state := emu.Deref(e.mem, ctl)
	if state == 0 {
		e.broken = true
		return
	}
	e.mem.Write32(state+emu.AnimFrameOff, a.Frame)
	e.mem.Write32(state+emu.AnimIDOff, a.ID)
}

func (e *entity) applyPos(pos [3]float32) {
	ptr := e.check()
	if ptr == 0 {
		return
	}
	var b [12]byte
	for i, v := range pos {
		binary.BigEndian.PutUint32(b[4*i:], u32(v))
	}
	e.mem.WriteBytes(ptr+emu.EntityPos, b[:])
}

func (e *entity) applyRot(rot [3]float32) {
	ptr := e.check()
	if ptr == 0 {
		return
	}
	emu.WriteF32(e.mem, ptr+emu.EntityRotX, rot[0])
	emu.WriteF32(e.mem, ptr+emu.EntityRotY, rot[1])
	emu.WriteF32(e.mem, ptr+emu.EntityRotZ, rot[2])
}

func (e *entity) applyModel(model uint16) {
	if e.model == int32(model) {
		return
	}
	ptr := e.check()
	if ptr == 0 {
		return
	}
	m := emu.Deref(e.mem, ptr+emu.EntityModel)
	if m == 0 {
		e.broken = true
		return
	}
	v := e.mem.Read16(m + emu.ModelIndexOff)
	v = v&0x0003 | model<<emu.ModelIndexShift
	e.mem.Write16(m+emu.ModelIndexOff, v)
	e.model = int32(model)
}

func (e *entity) applyScale(scale uint32) {
	ptr := e.check()
	if ptr == 0 {
		return
	}
	e.mem.Write32(ptr+emu.EntityScale, scale)
}

func f32(v uint32) float32 { return math.Float32frombits(v) }

func u32(f float32) uint32 { return math.Float32bits(f) }
