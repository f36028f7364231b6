package progress

import (
	"fmt"
	"slices"
)

// Buffer sizes of the flag groups as they exist in game memory.
const (
	GameFlagsSize      = 0x20
	HoneycombFlagsSize = 0x03
	JiggyFlagsSize     = 0x0d
	TokenFlagsSize     = 0x10
	NoteTotalsSize     = 0x0f
	JigsawCount        = 11

	// NoteCap is the number of notes a level holds.
	NoteCap = 100
)

// Group names one of the fixed-size flag buffers of a Store.
type Group uint8

const (
	GroupGameFlags Group = iota
	GroupHoneycombFlags
	GroupJiggyFlags
	GroupTokenFlags
	GroupNoteTotals
	GroupJigsaws
)

// Groups lists every flag buffer group in Store order.
var Groups = []Group{
	GroupGameFlags,
	GroupHoneycombFlags,
	GroupJiggyFlags,
	GroupTokenFlags,
	GroupNoteTotals,
	GroupJigsaws,
}

func (g Group) String() string {
	switch g {
	case GroupGameFlags:
		return "game_flags"
	case GroupHoneycombFlags:
		return "honeycomb_flags"
	case GroupJiggyFlags:
		return "jiggy_flags"
	case GroupTokenFlags:
		return "token_flags"
	case GroupNoteTotals:
		return "note_totals"
	case GroupJigsaws:
		return "jigsaws"
	default:
		return fmt.Sprintf("group(%d)", uint8(g))
	}
}

// Size is the fixed buffer length of the group.
func (g Group) Size() int {
	switch g {
	case GroupGameFlags:
		return GameFlagsSize
	case GroupHoneycombFlags:
		return HoneycombFlagsSize
	case GroupJiggyFlags:
		return JiggyFlagsSize
	case GroupTokenFlags:
		return TokenFlagsSize
	case GroupNoteTotals:
		return NoteTotalsSize
	case GroupJigsaws:
		return JigsawCount
	default:
		return 0
	}
}

// SceneRecord is the per-scene collection state.
type SceneRecord struct {
	// Notes holds packed voxel-note keys; it is a set kept in arrival order.
	Notes  []int64 `json:"notes"`
	Events uint32  `json:"events"`
}

func (r *SceneRecord) HasNote(key int64) bool {
	return slices.Contains(r.Notes, key)
}

// LevelRecord is the per-level collection state.
type LevelRecord struct {
	Scenes      map[SceneID]*SceneRecord `json:"scenes"`
	ObjectNotes int                      `json:"onotes"`
	Jinjos      uint8                    `json:"jinjos"`
}

// Store is the collected progress of one lobby. The server holds the canonical
// copy; each client holds a mirror that the reconciler compares against game
// memory.
type Store struct {
	GameFlags      []byte                   `json:"game_flags"`
	HoneycombFlags []byte                   `json:"honeycomb_flags"`
	JiggyFlags     []byte                   `json:"jiggy_flags"`
	TokenFlags     []byte                   `json:"token_flags"`
	NoteTotals     []byte                   `json:"note_totals"`
	Jigsaws        []byte                   `json:"jigsaws"`
	Levels         map[LevelID]*LevelRecord `json:"level_data"`
	LevelEvents    uint32                   `json:"level_events"`
	Moves          uint32                   `json:"moves"`
}

// NewStore returns an empty store with every buffer allocated at its fixed size.
func NewStore() *Store {
	s := &Store{}
	s.Normalize()
	return s
}

// Normalize resizes buffers to their fixed lengths and allocates missing maps.
// Decoded stores may carry short or long buffers; extra bytes are dropped.
func (s *Store) Normalize() {
	for _, g := range Groups {
		p := s.buf(g)
		*p = fit(*p, g.Size())
	}
	if s.Levels == nil {
		s.Levels = make(map[LevelID]*LevelRecord)
	}
	for id, lvl := range s.Levels {
		if lvl == nil {
			lvl = &LevelRecord{}
			s.Levels[id] = lvl
		}
		if lvl.Scenes == nil {
			lvl.Scenes = make(map[SceneID]*SceneRecord)
		}
		for sid, sc := range lvl.Scenes {
			if sc == nil {
				lvl.Scenes[sid] = &SceneRecord{}
			}
		}
	}
}

func fit(b []byte, n int) []byte {
	if len(b) == n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (s *Store) buf(g Group) *[]byte {
	switch g {
	case GroupGameFlags:
		return &s.GameFlags
	case GroupHoneycombFlags:
		return &s.HoneycombFlags
	case GroupJiggyFlags:
		return &s.JiggyFlags
	case GroupTokenFlags:
		return &s.TokenFlags
	case GroupNoteTotals:
		return &s.NoteTotals
	case GroupJigsaws:
		return &s.Jigsaws
	default:
		panic(fmt.Sprintf("progress: unknown group %d", uint8(g)))
	}
}

// Flags returns the live buffer of a group.
func (s *Store) Flags(g Group) []byte { return *s.buf(g) }

// SetFlags replaces a group's buffer with a copy of b sized to the group.
func (s *Store) SetFlags(g Group, b []byte) {
	*s.buf(g) = fit(slices.Clone(b), g.Size())
}

// Level returns the record for a level or nil.
func (s *Store) Level(id LevelID) *LevelRecord {
	return s.Levels[id]
}

// Scene returns the record for a scene or nil.
func (s *Store) Scene(level LevelID, scene SceneID) *SceneRecord {
	lvl := s.Levels[level]
	if lvl == nil {
		return nil
	}
	return lvl.Scenes[scene]
}

// EnsureLevel creates the level record on first use. Unknown levels have no record.
func (s *Store) EnsureLevel(id LevelID) *LevelRecord {
	if id == LevelUnknown {
		return nil
	}
	lvl := s.Levels[id]
	if lvl == nil {
		lvl = &LevelRecord{Scenes: make(map[SceneID]*SceneRecord)}
		s.Levels[id] = lvl
	}
	return lvl
}

// EnsureScene creates the level and scene records on first use.
func (s *Store) EnsureScene(level LevelID, scene SceneID) *SceneRecord {
	if scene == SceneUnknown {
		return nil
	}
	lvl := s.EnsureLevel(level)
	if lvl == nil {
		return nil
	}
	sc := lvl.Scenes[scene]
	if sc == nil {
		sc = &SceneRecord{}
		lvl.Scenes[scene] = sc
	}
	return sc
}

// Clone returns a deep copy.
func (s *Store) Clone() *Store {
	out := &Store{
		GameFlags:      slices.Clone(s.GameFlags),
		HoneycombFlags: slices.Clone(s.HoneycombFlags),
		JiggyFlags:     slices.Clone(s.JiggyFlags),
		TokenFlags:     slices.Clone(s.TokenFlags),
		NoteTotals:     slices.Clone(s.NoteTotals),
		Jigsaws:        slices.Clone(s.Jigsaws),
		Levels:         make(map[LevelID]*LevelRecord, len(s.Levels)),
		LevelEvents:    s.LevelEvents,
		Moves:          s.Moves,
	}
	for id, lvl := range s.Levels {
		if lvl == nil {
			continue
		}
		cl := &LevelRecord{
			Scenes:      make(map[SceneID]*SceneRecord, len(lvl.Scenes)),
			ObjectNotes: lvl.ObjectNotes,
			Jinjos:      lvl.Jinjos,
		}
		for sid, sc := range lvl.Scenes {
			if sc == nil {
				continue
			}
			cl.Scenes[sid] = &SceneRecord{Notes: slices.Clone(sc.Notes), Events: sc.Events}
		}
		out.Levels[id] = cl
	}
	out.Normalize()
	return out
}

// SceneNoteCount sums the voxel notes recorded across a level's scenes.
func (r *LevelRecord) SceneNoteCount() int {
	n := 0
	for _, sc := range r.Scenes {
		n += len(sc.Notes)
	}
	return n
}
