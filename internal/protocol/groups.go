package protocol

// SYNC group names.
const (
	GroupSyncStorage         = "SyncStorage"
	GroupSyncGameFlags       = "SyncGameFlags"
	GroupSyncHoneyCombFlags  = "SyncHoneyCombFlags"
	GroupSyncJiggyFlags      = "SyncJiggyFlags"
	GroupSyncMumboTokenFlags = "SyncMumboTokenFlags"
	GroupSyncJigsaws         = "SyncJigsaws"
	GroupSyncNoteTotals      = "SyncNoteTotals"
	GroupSyncMoves           = "SyncMoves"
	GroupSyncLevelEvents     = "SyncLevelEvents"
	GroupSyncSceneEvents     = "SyncSceneEvents"
	GroupSyncJinjos          = "SyncJinjos"
	GroupSyncObjectNotes     = "SyncObjectNotes"
	GroupSyncVoxelNotes      = "SyncVoxelNotes"
	GroupSyncLocation        = "SyncLocation"
	GroupSyncPuppet          = "SyncPuppet"
	GroupRequestStorage      = "Request_Storage"
	GroupRequestScene        = "Request_Scene"
)

// GroupInfo describes how a group travels.
type GroupInfo struct {
	// Reliable groups must not be dropped under backpressure.
	Reliable bool
	// Persist marks groups that change lobby progress.
	Persist bool
}

var groups = map[string]GroupInfo{
	GroupSyncStorage:         {Reliable: true},
	GroupSyncGameFlags:       {Reliable: true, Persist: true},
	GroupSyncHoneyCombFlags:  {Reliable: true, Persist: true},
	GroupSyncJiggyFlags:      {Reliable: true, Persist: true},
	GroupSyncMumboTokenFlags: {Reliable: true, Persist: true},
	GroupSyncJigsaws:         {Reliable: true, Persist: true},
	GroupSyncNoteTotals:      {Reliable: true, Persist: true},
	GroupSyncMoves:           {Reliable: true, Persist: true},
	GroupSyncLevelEvents:     {Reliable: true, Persist: true},
	GroupSyncSceneEvents:     {Reliable: true, Persist: true},
	GroupSyncJinjos:          {Reliable: true, Persist: true},
	GroupSyncObjectNotes:     {Reliable: true, Persist: true},
	GroupSyncVoxelNotes:      {Reliable: true, Persist: true},
	GroupSyncLocation:        {Reliable: true},
	GroupSyncPuppet:          {},
	GroupRequestStorage:      {Reliable: true},
	GroupRequestScene:        {Reliable: true},
}

// LookupGroup returns the group's transport properties.
func LookupGroup(name string) (GroupInfo, bool) {
	g, ok := groups[name]
	return g, ok
}

func IsKnownGroup(name string) bool {
	_, ok := groups[name]
	return ok
}

// GroupNames lists every group, for schema generation and tests.
func GroupNames() []string {
	out := make([]string, 0, len(groups))
	for k := range groups {
		out = append(out, k)
	}
	return out
}

// BufferPayload carries a whole flag group; Value is base64 on the wire.
type BufferPayload struct {
	Value []byte `json:"value"`
}

// ValuePayload carries a 32-bit bitmask such as moves or level events.
type ValuePayload struct {
	Value uint32 `json:"value"`
}

// LevelValuePayload carries a per-level scalar (jinjo mask, object-note count).
type LevelValuePayload struct {
	Level uint8  `json:"level"`
	Value uint32 `json:"value"`
}

type SceneEventsPayload struct {
	Level uint8  `json:"level"`
	Scene uint16 `json:"scene"`
	Value uint32 `json:"value"`
}

type VoxelNotesPayload struct {
	Level uint8   `json:"level"`
	Scene uint16  `json:"scene"`
	Notes []int64 `json:"notes"`
}

// LocationPayload announces the sender's current level and scene. Zero means
// the sender is between scenes.
type LocationPayload struct {
	Level uint8  `json:"level"`
	Scene uint16 `json:"scene"`
}

type PuppetPayload struct {
	Pose Pose `json:"pose"`
}

// Pose is the presentation state of a player, copied onto their puppet.
type Pose struct {
	Pos   [3]float32 `json:"pos"`
	Rot   [3]float32 `json:"rot"`
	Anim  Anim       `json:"anim"`
	Model uint16     `json:"model"`
	Scale uint32     `json:"scale"`
}

type Anim struct {
	Frame uint32 `json:"frame"`
	ID    uint32 `json:"id"`
}
