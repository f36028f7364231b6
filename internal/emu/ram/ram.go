// Package ram is an in-process RDRAM image that stands in for an emulator host.
// The bot client drives a session with it and tests use it to observe writes.
package ram

import (
	"encoding/binary"

	"bkonline.net/internal/emu"
)

// RAM is a flat big-endian byte image of RDRAM. It is not safe for concurrent
// use; the owning session serializes access on its tick goroutine.
type RAM struct {
	buf    []byte
	writes map[uint32]int
}

func New() *RAM {
	return &RAM{buf: make([]byte, emu.RDRAMSize), writes: make(map[uint32]int)}
}

func (r *RAM) off(addr uint32, n int) (uint32, bool) {
	a := emu.Physical(addr)
	if int(a)+n > len(r.buf) {
		return 0, false
	}
	return a, true
}

func (r *RAM) touch(a uint32) { r.writes[a]++ }

func (r *RAM) Read8(addr uint32) uint8 {
	a, ok := r.off(addr, 1)
	if !ok {
		return 0
	}
	return r.buf[a]
}

func (r *RAM) Read16(addr uint32) uint16 {
	a, ok := r.off(addr, 2)
	if !ok {
		return 0
	}
	return binary.BigEndian.Uint16(r.buf[a:])
}

func (r *RAM) Read32(addr uint32) uint32 {
	a, ok := r.off(addr, 4)
	if !ok {
		return 0
	}
	return binary.BigEndian.Uint32(r.buf[a:])
}

func (r *RAM) Write8(addr uint32, v uint8) {
	a, ok := r.off(addr, 1)
	if !ok {
		return
	}
	r.buf[a] = v
	r.touch(a)
}

func (r *RAM) Write16(addr uint32, v uint16) {
	a, ok := r.off(addr, 2)
	if !ok {
		return
	}
	binary.BigEndian.PutUint16(r.buf[a:], v)
	r.touch(a)
}

func (r *RAM) Write32(addr uint32, v uint32) {
	a, ok := r.off(addr, 4)
	if !ok {
		return
	}
	binary.BigEndian.PutUint32(r.buf[a:], v)
	r.touch(a)
}

func (r *RAM) ReadBytes(addr uint32, n int) []byte {
	a, ok := r.off(addr, n)
	if !ok {
		return make([]byte, n)
	}
	out := make([]byte, n)
	copy(out, r.buf[a:])
	return out
}

func (r *RAM) WriteBytes(addr uint32, b []byte) {
	a, ok := r.off(addr, len(b))
	if !ok {
		return
	}
	copy(r.buf[a:], b)
	r.touch(a)
}

// Writes reports how many writes started at addr since the last ResetWrites.
func (r *RAM) Writes(addr uint32) int { return r.writes[emu.Physical(addr)] }

func (r *RAM) ResetWrites() { clear(r.writes) }

var _ emu.Memory = (*RAM)(nil)
