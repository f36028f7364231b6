package progress

// Counters the game shows in its HUD, derived from the merged flag sets.

const (
	piecesPerUpgrade = 6
	baseHealth       = 5
)

// HoneycombTotals splits collected honeycomb pieces into loose pieces, health
// upgrades and the resulting full health.
func HoneycombTotals(flags []byte) (pieces, upgrades, health int) {
	n := PopCount(flags)
	upgrades = n / piecesPerUpgrade
	return n % piecesPerUpgrade, upgrades, upgrades + baseHealth
}

// FullHealth is the health a player heals to for a given honeycomb flag set.
func FullHealth(honeycombFlags []byte) int {
	_, _, h := HoneycombTotals(honeycombFlags)
	return h
}

// JiggyTotal is the number of jiggies in hand: all collected minus those placed
// in lair puzzles.
func JiggyTotal(jiggyFlags []byte, placed int) int {
	n := PopCount(jiggyFlags) - placed
	if n < 0 {
		return 0
	}
	return n
}

// TokensSpent sums the costs of every purchased transformation.
func TokensSpent(gameFlags []byte) int {
	n := 0
	for _, t := range TokenSpends {
		if Bit(gameFlags, t.Flag) {
			n += t.Cost
		}
	}
	return n
}

// TokenTotal is the number of mumbo tokens in hand.
func TokenTotal(tokenFlags []byte, spent int) int {
	n := PopCount(tokenFlags) - spent
	if n < 0 {
		return 0
	}
	return n
}
