// Package emu is the typed view of the emulated console's RDRAM.
package emu

import "math"

// Memory is big-endian RDRAM access as exposed by the emulator host. Addresses
// may be physical (0x00xxxxxx) or KSEG0 (0x80xxxxxx); implementations mask them.
type Memory interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
	Write8(addr uint32, v uint8)
	Write16(addr uint32, v uint16)
	Write32(addr uint32, v uint32)
	ReadBytes(addr uint32, n int) []byte
	WriteBytes(addr uint32, b []byte)
}

const (
	RDRAMSize = 0x800000

	kseg0 = 0x80000000
)

// Physical strips the KSEG0 segment bits from an address.
func Physical(addr uint32) uint32 {
	return addr & 0x00ffffff
}

// Deref follows the pointer stored at addr and returns its physical address,
// or 0 when the cell holds null or points outside RDRAM.
func Deref(m Memory, addr uint32) uint32 {
	p := m.Read32(addr)
	if p < kseg0 || p >= kseg0+RDRAMSize {
		return 0
	}
	return Physical(p)
}

// Pointer converts a physical address into the KSEG0 form the game stores.
func Pointer(phys uint32) uint32 {
	if phys == 0 {
		return 0
	}
	return kseg0 | Physical(phys)
}

func ReadF32(m Memory, addr uint32) float32 {
	return math.Float32frombits(m.Read32(addr))
}

func WriteF32(m Memory, addr uint32, v float32) {
	m.Write32(addr, math.Float32bits(v))
}
