package progress

// CompactPuzzles reconciles the lair puzzle counters held in game flags with the
// jigsaw completion booleans. A counter that reached its threshold marks the
// puzzle complete; a puzzle completed elsewhere has its counter forced to the
// threshold. When either happens every partially filled counter is cleared so
// its pieces return to the jiggy total.
//
// flags and done are modified in place. placed is the number of pieces still
// sitting in puzzles afterwards.
func CompactPuzzles(flags, done []byte) (placed int, changed bool) {
	for i, p := range Puzzles {
		if i >= len(done) {
			break
		}
		v := Field(flags, p.Offset, p.Width)
		switch {
		case v == p.Threshold && done[i] == 0:
			done[i] = 1
			changed = true
		case v != p.Threshold && done[i] != 0:
			SetField(flags, p.Offset, p.Width, p.Threshold)
			changed = true
		}
	}

	if changed {
		for i, p := range Puzzles {
			if i < len(done) && done[i] != 0 {
				continue
			}
			SetField(flags, p.Offset, p.Width, 0)
		}
	}

	for _, p := range Puzzles {
		placed += Field(flags, p.Offset, p.Width)
	}
	return placed, changed
}
