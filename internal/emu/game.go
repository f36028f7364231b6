package emu

import (
	"fmt"
	"math/bits"
)

// Game reads and writes named fields through a Layout.
type Game struct {
	mem    Memory
	layout Layout
}

func NewGame(mem Memory, layout Layout) *Game {
	if layout == nil {
		layout = DefaultLayout()
	}
	return &Game{mem: mem, layout: layout}
}

func (g *Game) Memory() Memory { return g.mem }

func (g *Game) Layout() Layout { return g.layout }

func (g *Game) field(name FieldName) Field {
	f, ok := g.layout[name]
	if !ok {
		panic(fmt.Sprintf("emu: field %q not in layout", name))
	}
	return f
}

// Addr returns the configured address of a field.
func (g *Game) Addr(name FieldName) uint32 { return g.field(name).Addr }

// Get reads a scalar field, shifted down to its mask.
func (g *Game) Get(name FieldName) uint32 {
	f := g.field(name)
	var v uint32
	switch f.Width {
	case W8:
		v = uint32(g.mem.Read8(f.Addr))
	case W16:
		v = uint32(g.mem.Read16(f.Addr))
	case W32:
		v = g.mem.Read32(f.Addr)
	default:
		panic(fmt.Sprintf("emu: field %q is %s, not scalar", name, f.Width))
	}
	if f.Mask != 0 {
		v = (v & f.Mask) >> bits.TrailingZeros32(f.Mask)
	}
	return v
}

// Set writes a scalar field. Masked fields keep the bits of the cell they do
// not own.
func (g *Game) Set(name FieldName, v uint32) {
	f := g.field(name)
	if f.Mask != 0 {
		cur := g.raw(f)
		v = (cur &^ f.Mask) | ((v << bits.TrailingZeros32(f.Mask)) & f.Mask)
	}
	switch f.Width {
	case W8:
		g.mem.Write8(f.Addr, uint8(v))
	case W16:
		g.mem.Write16(f.Addr, uint16(v))
	case W32:
		g.mem.Write32(f.Addr, v)
	default:
		panic(fmt.Sprintf("emu: field %q is %s, not scalar", name, f.Width))
	}
}

func (g *Game) raw(f Field) uint32 {
	switch f.Width {
	case W8:
		return uint32(g.mem.Read8(f.Addr))
	case W16:
		return uint32(g.mem.Read16(f.Addr))
	default:
		return g.mem.Read32(f.Addr)
	}
}

// Bytes reads a byte-run field.
func (g *Game) Bytes(name FieldName) []byte {
	f := g.field(name)
	if f.Width != WBytes {
		panic(fmt.Sprintf("emu: field %q is %s, not bytes", name, f.Width))
	}
	return g.mem.ReadBytes(f.Addr, f.Size)
}

// SetBytes writes up to the field's size from b.
func (g *Game) SetBytes(name FieldName, b []byte) {
	f := g.field(name)
	if f.Width != WBytes {
		panic(fmt.Sprintf("emu: field %q is %s, not bytes", name, f.Width))
	}
	if len(b) > f.Size {
		b = b[:f.Size]
	}
	g.mem.WriteBytes(f.Addr, b)
}

// SetByteRange writes b[from:to] to the same offsets of a byte-run field.
func (g *Game) SetByteRange(name FieldName, b []byte, from, to int) {
	f := g.field(name)
	if to > f.Size {
		to = f.Size
	}
	if to > len(b) {
		to = len(b)
	}
	if from < 0 || from >= to {
		return
	}
	g.mem.WriteBytes(f.Addr+uint32(from), b[from:to])
}

// Scene is the id of the map currently loaded.
func (g *Game) Scene() uint16 { return uint16(g.Get(FieldScene)) }

func (g *Game) TransitionState() uint8 { return uint8(g.Get(FieldTransitionState)) }

func (g *Game) Loading() bool { return g.Get(FieldLoading) != 0 }

func (g *Game) Playing() bool { return g.Get(FieldPlaying) != 0 }

func (g *Game) InCutscene() bool { return g.Get(FieldCutscene) != 0 }

// InTransit reports a map transition in progress. States 0 and 4 are settled.
func (g *Game) InTransit() bool {
	s := g.TransitionState()
	return s != 0 && s != 4
}
