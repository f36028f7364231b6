package progress

type LevelID uint8

type SceneID uint16

const (
	LevelUnknown           LevelID = 0x00
	LevelMumbosMountain    LevelID = 0x01
	LevelTreasureTroveCove LevelID = 0x02
	LevelClankersCavern    LevelID = 0x03
	LevelBubbleGloopSwamp  LevelID = 0x04
	LevelFreezeezyPeak     LevelID = 0x05
	LevelGruntildasLair    LevelID = 0x06
	LevelGobisValley       LevelID = 0x07
	LevelClickClockWood    LevelID = 0x08
	LevelRustyBucketBay    LevelID = 0x09
	LevelMadMonsterMansion LevelID = 0x0a
	LevelSpiralMountain    LevelID = 0x0b
	LevelBoss              LevelID = 0x0c
	LevelCutscene          LevelID = 0x0d
)

const (
	SceneUnknown    SceneID = 0x00
	SceneSMMain     SceneID = 0x01
	SceneFurnaceFun SceneID = 0x8e
	SceneFileSelect SceneID = 0x91
)

var levelNames = map[LevelID]string{
	LevelUnknown:           "UNKNOWN",
	LevelMumbosMountain:    "MUMBOS_MOUNTAIN",
	LevelTreasureTroveCove: "TREASURE_TROVE_COVE",
	LevelClankersCavern:    "CLANKERS_CAVERN",
	LevelBubbleGloopSwamp:  "BUBBLE_GLOOP_SWAMP",
	LevelFreezeezyPeak:     "FREEZEEZY_PEAK",
	LevelGruntildasLair:    "GRUNTILDAS_LAIR",
	LevelGobisValley:       "GOBIS_VALLEY",
	LevelClickClockWood:    "CLICK_CLOCK_WOOD",
	LevelRustyBucketBay:    "RUSTY_BUCKET_BAY",
	LevelMadMonsterMansion: "MAD_MONSTER_MANSION",
	LevelSpiralMountain:    "SPIRAL_MOUNTAIN",
	LevelBoss:              "BOSS",
	LevelCutscene:          "CUTSCENE",
}

func (l LevelID) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "LEVEL_?"
}

// sceneLevels reproduces the game's map→level lookup table.
var sceneLevels = map[SceneID]LevelID{
	0x01: LevelSpiralMountain,
	0x02: LevelMumbosMountain,
	0x05: LevelTreasureTroveCove,
	0x06: LevelTreasureTroveCove,
	0x07: LevelTreasureTroveCove,
	0x0a: LevelTreasureTroveCove,
	0x0b: LevelClankersCavern,
	0x0c: LevelMumbosMountain,
	0x0d: LevelBubbleGloopSwamp,
	0x0e: LevelMumbosMountain,
	0x10: LevelBubbleGloopSwamp,
	0x11: LevelBubbleGloopSwamp,
	0x12: LevelGobisValley,
	0x13: LevelGobisValley,
	0x14: LevelGobisValley,
	0x15: LevelGobisValley,
	0x16: LevelGobisValley,
	0x1a: LevelGobisValley,
	0x1b: LevelMadMonsterMansion,
	0x1c: LevelMadMonsterMansion,
	0x1d: LevelMadMonsterMansion,
	0x1e: LevelCutscene,
	0x1f: LevelCutscene,
	0x20: LevelCutscene,
	0x21: LevelClankersCavern,
	0x22: LevelClankersCavern,
	0x23: LevelClankersCavern,
	0x24: LevelMadMonsterMansion,
	0x25: LevelMadMonsterMansion,
	0x26: LevelMadMonsterMansion,
	0x27: LevelFreezeezyPeak,
	0x28: LevelMadMonsterMansion,
	0x29: LevelMadMonsterMansion,
	0x2a: LevelMadMonsterMansion,
	0x2b: LevelMadMonsterMansion,
	0x2c: LevelMadMonsterMansion,
	0x2d: LevelMadMonsterMansion,
	0x2e: LevelMadMonsterMansion,
	0x2f: LevelMadMonsterMansion,
	0x30: LevelMadMonsterMansion,
	0x31: LevelRustyBucketBay,
	0x34: LevelRustyBucketBay,
	0x35: LevelRustyBucketBay,
	0x36: LevelRustyBucketBay,
	0x37: LevelRustyBucketBay,
	0x38: LevelRustyBucketBay,
	0x39: LevelRustyBucketBay,
	0x3a: LevelRustyBucketBay,
	0x3b: LevelRustyBucketBay,
	0x3c: LevelRustyBucketBay,
	0x3d: LevelRustyBucketBay,
	0x3e: LevelRustyBucketBay,
	0x3f: LevelRustyBucketBay,
	0x40: LevelClickClockWood,
	0x41: LevelFreezeezyPeak,
	0x43: LevelClickClockWood,
	0x44: LevelClickClockWood,
	0x45: LevelClickClockWood,
	0x46: LevelClickClockWood,
	0x47: LevelBubbleGloopSwamp,
	0x48: LevelFreezeezyPeak,
	0x4a: LevelClickClockWood,
	0x4b: LevelClickClockWood,
	0x4c: LevelClickClockWood,
	0x4d: LevelClickClockWood,
	0x53: LevelFreezeezyPeak,
	0x5a: LevelClickClockWood,
	0x5b: LevelClickClockWood,
	0x5c: LevelClickClockWood,
	0x5e: LevelClickClockWood,
	0x5f: LevelClickClockWood,
	0x60: LevelClickClockWood,
	0x61: LevelClickClockWood,
	0x62: LevelClickClockWood,
	0x63: LevelClickClockWood,
	0x64: LevelClickClockWood,
	0x65: LevelClickClockWood,
	0x66: LevelClickClockWood,
	0x67: LevelClickClockWood,
	0x68: LevelClickClockWood,
	0x69: LevelGruntildasLair,
	0x6a: LevelGruntildasLair,
	0x6b: LevelGruntildasLair,
	0x6c: LevelGruntildasLair,
	0x6d: LevelGruntildasLair,
	0x6e: LevelGruntildasLair,
	0x6f: LevelGruntildasLair,
	0x70: LevelGruntildasLair,
	0x71: LevelGruntildasLair,
	0x72: LevelGruntildasLair,
	0x74: LevelGruntildasLair,
	0x75: LevelGruntildasLair,
	0x76: LevelGruntildasLair,
	0x77: LevelGruntildasLair,
	0x78: LevelGruntildasLair,
	0x79: LevelGruntildasLair,
	0x7a: LevelGruntildasLair,
	0x7b: LevelCutscene,
	0x7c: LevelCutscene,
	0x7d: LevelCutscene,
	0x7e: LevelCutscene,
	0x7f: LevelFreezeezyPeak,
	0x80: LevelGruntildasLair,
	0x81: LevelCutscene,
	0x82: LevelCutscene,
	0x83: LevelCutscene,
	0x84: LevelCutscene,
	0x85: LevelCutscene,
	0x86: LevelCutscene,
	0x87: LevelCutscene,
	0x88: LevelCutscene,
	0x89: LevelCutscene,
	0x8a: LevelCutscene,
	0x8b: LevelRustyBucketBay,
	0x8c: LevelSpiralMountain,
	0x8d: LevelMadMonsterMansion,
	0x8e: LevelGruntildasLair,
	0x8f: LevelTreasureTroveCove,
	0x90: LevelBoss,
	0x91: LevelCutscene,
	0x92: LevelGobisValley,
	0x93: LevelGruntildasLair,
	0x94: LevelCutscene,
	0x95: LevelCutscene,
	0x96: LevelCutscene,
	0x97: LevelCutscene,
	0x98: LevelCutscene,
	0x99: LevelCutscene,
}

// ResolveLevel maps a scene to the level that owns it.
func ResolveLevel(scene SceneID) (LevelID, bool) {
	l, ok := sceneLevels[scene]
	return l, ok
}

// JinjoJiggyBit is the jiggy flag awarded for rescuing all five jinjos of a level.
// Seeing it set implies the jinjos were collected earlier.
var JinjoJiggyBit = map[LevelID]int{
	LevelMumbosMountain:    0x01,
	LevelTreasureTroveCove: 0x0b,
	LevelClankersCavern:    0x15,
	LevelBubbleGloopSwamp:  0x1f,
	LevelFreezeezyPeak:     0x29,
	LevelGobisValley:       0x3d,
	LevelClickClockWood:    0x47,
	LevelRustyBucketBay:    0x51,
	LevelMadMonsterMansion: 0x5b,
}

// Jinjo colours as bit positions in LevelRecord.Jinjos.
const (
	JinjoBlue = iota
	JinjoGreen
	JinjoOrange
	JinjoPink
	JinjoYellow

	JinjoAll uint8 = 0x1f
)

// Puzzle is a lair jigsaw whose placed-piece counter lives inside GameFlags.
type Puzzle struct {
	Name      string
	Offset    int
	Width     int
	Threshold int
}

var Puzzles = [JigsawCount]Puzzle{
	{Name: "MM", Offset: 0x5d, Width: 1, Threshold: 1},
	{Name: "TTC", Offset: 0x5e, Width: 2, Threshold: 2},
	{Name: "CC", Offset: 0x60, Width: 3, Threshold: 5},
	{Name: "BGS", Offset: 0x63, Width: 3, Threshold: 7},
	{Name: "FP", Offset: 0x66, Width: 4, Threshold: 8},
	{Name: "GV", Offset: 0x6a, Width: 4, Threshold: 9},
	{Name: "MMM", Offset: 0x6e, Width: 4, Threshold: 10},
	{Name: "RBB", Offset: 0x72, Width: 4, Threshold: 12},
	{Name: "CCW", Offset: 0x76, Width: 4, Threshold: 15},
	{Name: "DOG", Offset: 0x7a, Width: 5, Threshold: 25},
	{Name: "DH", Offset: 0x7f, Width: 3, Threshold: 4},
}

// Puzzle piece counters occupy GameFlags bytes [PuzzleByteFirst, PuzzleByteEnd).
const (
	PuzzleByteFirst = 11
	PuzzleByteEnd   = 17
)

// TokenSpend is a transformation whose purchase flag consumes mumbo tokens.
type TokenSpend struct {
	Name string
	Flag int
	Cost int
}

var TokenSpends = []TokenSpend{
	{Name: "MM", Flag: 0xc9, Cost: 5},
	{Name: "MMM", Flag: 0xca, Cost: 20},
	{Name: "FP", Flag: 0xcb, Cost: 15},
	{Name: "BGS", Flag: 0xcc, Cost: 10},
	{Name: "CCW", Flag: 0xcd, Cost: 25},
}

// Moves bits that come with starting ammo.
const (
	MoveEggs       = 0x06
	MoveFlying     = 0x09
	MoveWonderwing = 0x12

	// MovesTutorialDone is the moves value once every Spiral Mountain move is known.
	MovesTutorialDone = 40377
)

// Ammo granted when an ability is first learned through a peer.
var MoveGrants = []struct {
	Move    int
	Counter string
	Amount  int
}{
	{Move: MoveEggs, Counter: "eggs", Amount: 50},
	{Move: MoveFlying, Counter: "red_feathers", Amount: 25},
	{Move: MoveWonderwing, Counter: "gold_feathers", Amount: 5},
}

// Level event bits that belong to opening cutscenes; level events are not
// forced while any of them is set.
const (
	EventTTCOpening           = 0x02
	EventBGSOpening           = 0x05
	EventRBBEngineRoomRight   = 0x0c
	EventTTCSandcastleLowered = 0x12
	EventGVMoatFilled         = 0x17
)

var BlockingLevelEvents = []int{
	EventTTCOpening,
	EventBGSOpening,
	EventRBBEngineRoomRight,
	EventTTCSandcastleLowered,
	EventGVMoatFilled,
}

// Spiral Mountain scene event bits derived from tutorial progress.
const (
	SceneEventSMBottlesFirstTalk   = 0x01
	SceneEventSMTutorialFinish     = 0x02
	SceneEventSMAllAttacks         = 0x03
	SceneEventSMFistTopBottlesTalk = 0x05
	SceneEventSMEndTutorial        = 0x06
)
