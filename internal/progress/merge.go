package progress

// Policy is the join used when two copies of a group meet.
type Policy uint8

const (
	// PolicyOr unions bits under the group's participation mask.
	PolicyOr Policy = iota
	// PolicyMax keeps the per-byte maximum, capped at NoteCap.
	PolicyMax
	// PolicyCompletion treats each byte as a completed/not-completed boolean.
	PolicyCompletion
)

// PolicyFor returns the merge policy of a group.
func PolicyFor(g Group) Policy {
	switch g {
	case GroupNoteTotals:
		return PolicyMax
	case GroupJigsaws:
		return PolicyCompletion
	default:
		return PolicyOr
	}
}

// gameFlagsMask excludes the water level counter (byte 4) and the puzzle piece
// counters (bytes 11..16); those bits are driven locally and never OR-merged.
var gameFlagsMask = func() []byte {
	m := make([]byte, GameFlagsSize)
	for i := range m {
		m[i] = 0xff
	}
	m[4] = 0x3f
	m[11] = 0x1f
	for i := 12; i < 16; i++ {
		m[i] = 0x00
	}
	m[16] = 0xfc
	return m
}()

// MaskFor returns the per-byte participation mask of an OR group, or nil when
// every bit participates.
func MaskFor(g Group) []byte {
	if g == GroupGameFlags {
		return gameFlagsMask
	}
	return nil
}

func maskAt(mask []byte, i int) byte {
	if mask == nil {
		return 0xff
	}
	if i >= len(mask) {
		return 0
	}
	return mask[i]
}

// Merge folds an incoming copy of a group into the store and reports whether
// anything was gained. Short or long inputs are clipped to the group size.
func (s *Store) Merge(g Group, in []byte) bool {
	dst := s.Flags(g)
	switch PolicyFor(g) {
	case PolicyMax:
		return mergeMax(dst, in)
	case PolicyCompletion:
		return mergeCompletion(dst, in)
	default:
		return mergeOr(dst, in, MaskFor(g))
	}
}

func mergeOr(dst, in, mask []byte) bool {
	changed := false
	for i := 0; i < len(dst) && i < len(in); i++ {
		v := dst[i] | (in[i] & maskAt(mask, i))
		if v != dst[i] {
			dst[i] = v
			changed = true
		}
	}
	return changed
}

func mergeMax(dst, in []byte) bool {
	changed := false
	for i := 0; i < len(dst) && i < len(in); i++ {
		v := in[i]
		if v > NoteCap {
			v = NoteCap
		}
		if v > dst[i] {
			dst[i] = v
			changed = true
		}
	}
	return changed
}

func mergeCompletion(dst, in []byte) bool {
	changed := false
	for i := 0; i < len(dst) && i < len(in); i++ {
		if dst[i] >= in[i] {
			continue
		}
		if in[i] > 0 && dst[i] != 1 {
			dst[i] = 1
			changed = true
		}
	}
	return changed
}

// Reconcile compares the game's copy of a group against the mirror. It returns
// the bytes to write back to the game, the new mirror value and whether the two
// copies disagreed. Nothing needs writing or sending when dirty is false.
func Reconcile(g Group, sim, mirror []byte) (game, merged []byte, dirty bool) {
	n := g.Size()
	game = fit(append([]byte(nil), sim...), n)
	merged = fit(append([]byte(nil), mirror...), n)

	switch PolicyFor(g) {
	case PolicyMax:
		for i := 0; i < n; i++ {
			if game[i] == merged[i] {
				continue
			}
			dirty = true
			v := max(game[i], merged[i])
			if v > NoteCap {
				v = NoteCap
			}
			game[i], merged[i] = v, v
		}
	case PolicyCompletion:
		for i := 0; i < n; i++ {
			if (game[i] > 0) == (merged[i] > 0) {
				continue
			}
			dirty = true
			game[i], merged[i] = 1, 1
		}
	default:
		mask := MaskFor(g)
		for i := 0; i < n; i++ {
			m := maskAt(mask, i)
			if game[i]&m == merged[i]&m {
				continue
			}
			dirty = true
			game[i] |= merged[i] & m
			merged[i] |= game[i] & m
		}
	}
	return game, merged, dirty
}

// MergeBits ORs v into *dst and reports whether bits were gained.
func MergeBits(dst *uint32, v uint32) bool {
	next := *dst | v
	if next == *dst {
		return false
	}
	*dst = next
	return true
}

// MergeJinjos ORs a jinjo mask into the level.
func (r *LevelRecord) MergeJinjos(v uint8) bool {
	next := r.Jinjos | (v & JinjoAll)
	if next == r.Jinjos {
		return false
	}
	r.Jinjos = next
	return true
}

// MergeObjectNotes keeps the larger object-note count.
func (r *LevelRecord) MergeObjectNotes(v int) bool {
	if v <= r.ObjectNotes {
		return false
	}
	r.ObjectNotes = v
	return true
}

// MergeNotes adds voxel-note keys not yet recorded and returns how many were new.
func (r *SceneRecord) MergeNotes(keys []int64) int {
	added := 0
	for _, k := range keys {
		if r.HasNote(k) {
			continue
		}
		r.Notes = append(r.Notes, k)
		added++
	}
	return added
}

// VoxelKey packs a voxel note's integer position into a set key.
func VoxelKey(x, y, z int16) int64 {
	return int64(uint16(x))<<32 | int64(uint16(y))<<16 | int64(uint16(z))
}
