package progress

import "math/bits"

// Flag buffers are packed little-endian bitfields: bit n lives in byte n/8 under
// mask 1<<(n%8).

func Bit(buf []byte, n int) bool {
	i := n / 8
	if n < 0 || i >= len(buf) {
		return false
	}
	return buf[i]&(1<<(n%8)) != 0
}

func SetBit(buf []byte, n int) {
	i := n / 8
	if n < 0 || i >= len(buf) {
		return
	}
	buf[i] |= 1 << (n % 8)
}

func PopCount(buf []byte) int {
	n := 0
	for _, b := range buf {
		n += bits.OnesCount8(b)
	}
	return n
}

// Field reads width bits starting at offset as an unsigned counter, lowest bit first.
func Field(buf []byte, offset, width int) int {
	v := 0
	for i := 0; i < width; i++ {
		if Bit(buf, offset+i) {
			v |= 1 << i
		}
	}
	return v
}

// SetField writes the low width bits of val starting at offset.
func SetField(buf []byte, offset, width, val int) {
	for i := 0; i < width; i++ {
		n := offset + i
		idx := n / 8
		if n < 0 || idx >= len(buf) {
			continue
		}
		mask := byte(1 << (n % 8))
		if val&(1<<i) != 0 {
			buf[idx] |= mask
		} else {
			buf[idx] &^= mask
		}
	}
}
