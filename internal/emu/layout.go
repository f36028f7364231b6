package emu

import (
	"fmt"
	"sort"
	"strings"
)

// Width is the access size of a field.
type Width uint8

const (
	W8 Width = iota + 1
	W16
	W32
	// WBytes is a fixed-length byte run, used for flag buffers and raw structs.
	WBytes
)

func (w Width) String() string {
	switch w {
	case W8:
		return "u8"
	case W16:
		return "u16"
	case W32:
		return "u32"
	case WBytes:
		return "bytes"
	default:
		return fmt.Sprintf("width(%d)", uint8(w))
	}
}

func ParseWidth(s string) (Width, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "u8", "8":
		return W8, nil
	case "u16", "16":
		return W16, nil
	case "u32", "32":
		return W32, nil
	case "bytes":
		return WBytes, nil
	default:
		return 0, fmt.Errorf("unknown width %q", s)
	}
}

func (w *Width) UnmarshalText(b []byte) error {
	v, err := ParseWidth(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

func (w Width) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

// Field describes one named location in game memory. Mask selects the bits of
// the cell owned by the field; zero means the whole cell.
type Field struct {
	Addr  uint32 `yaml:"addr" json:"addr"`
	Width Width  `yaml:"width" json:"width"`
	Size  int    `yaml:"size,omitempty" json:"size,omitempty"`
	Mask  uint32 `yaml:"mask,omitempty" json:"mask,omitempty"`
}

// FieldName identifies a Field in a Layout.
type FieldName string

const (
	FieldScene           FieldName = "scene"
	FieldTransitionState FieldName = "transition_state"
	FieldLoading         FieldName = "loading"
	FieldPlaying         FieldName = "playing"
	FieldCutscene        FieldName = "cutscene"
	FieldBetaMenu        FieldName = "beta_menu"

	FieldGameFlags      FieldName = "game_flags"
	FieldHoneycombFlags FieldName = "honeycomb_flags"
	FieldJiggyFlags     FieldName = "jiggy_flags"
	FieldTokenFlags     FieldName = "token_flags"
	FieldNoteTotals     FieldName = "note_totals"

	FieldMoves           FieldName = "moves"
	FieldLevelEvents     FieldName = "level_events"
	FieldLevelEventBlock FieldName = "level_event_block"
	FieldLevelEventCRC1  FieldName = "level_event_crc1"
	FieldLevelEventCRC2  FieldName = "level_event_crc2"
	FieldSceneEvents     FieldName = "scene_events"
	FieldSceneEventCRC1  FieldName = "scene_event_crc1"
	FieldSceneEventCRC2  FieldName = "scene_event_crc2"
	FieldSceneEventCRC3  FieldName = "scene_event_crc3"
	FieldCutsceneSkip0   FieldName = "cutscene_skip0"
	FieldCutsceneSkip1   FieldName = "cutscene_skip1"
	FieldCutsceneSkip2   FieldName = "cutscene_skip2"
	FieldCutsceneSkip3   FieldName = "cutscene_skip3"

	FieldHoneycombs     FieldName = "honeycombs"
	FieldHealthUpgrades FieldName = "health_upgrades"
	FieldHealth         FieldName = "health"
	FieldJiggies        FieldName = "jiggies"
	FieldMumboTokens    FieldName = "mumbo_tokens"
	FieldEggs           FieldName = "eggs"
	FieldRedFeathers    FieldName = "red_feathers"
	FieldGoldFeathers   FieldName = "gold_feathers"
	FieldNotes          FieldName = "notes"
	FieldJinjos         FieldName = "jinjos"

	FieldActorArray    FieldName = "actor_array"
	FieldVoxelArray    FieldName = "voxel_array"
	FieldVoxelCount    FieldName = "voxel_count"
	FieldPuppetBase    FieldName = "puppet_base"
	FieldObjectMailbox FieldName = "object_mailbox"
	FieldVoxelMailbox  FieldName = "voxel_mailbox"

	FieldPlayerPos   FieldName = "player_pos"
	FieldPlayerRotX  FieldName = "player_rot_x"
	FieldPlayerRotY  FieldName = "player_rot_y"
	FieldPlayerRotZ  FieldName = "player_rot_z"
	FieldPlayerAnim  FieldName = "player_anim"
	FieldPlayerModel FieldName = "player_model"
	FieldPlayerScale FieldName = "player_scale"
)

// CutsceneSkips are the four bytes that, set to CutsceneSkipValue, let a
// cutscene be skipped.
var CutsceneSkips = []FieldName{FieldCutsceneSkip0, FieldCutsceneSkip1, FieldCutsceneSkip2, FieldCutsceneSkip3}

const CutsceneSkipValue = 0x11

// Layout maps field names to their locations for one build of the game.
type Layout map[FieldName]Field

// DefaultLayout returns the NTSC-U 1.0 layout plus the mod's mailbox region.
func DefaultLayout() Layout {
	return Layout{
		FieldScene:           {Addr: 0x8037e8f4, Width: W16},
		FieldTransitionState: {Addr: 0x80382438, Width: W8},
		FieldLoading:         {Addr: 0x8037e8f7, Width: W8},
		FieldPlaying:         {Addr: 0x8037e8f6, Width: W8},
		FieldCutscene:        {Addr: 0x8037e8f8, Width: W8},
		FieldBetaMenu:        {Addr: 0x80383080, Width: W8},

		FieldGameFlags:      {Addr: 0x803831a8, Width: WBytes, Size: 0x20},
		FieldHoneycombFlags: {Addr: 0x803832e0, Width: WBytes, Size: 0x03},
		FieldJiggyFlags:     {Addr: 0x803832c0, Width: WBytes, Size: 0x0d},
		FieldTokenFlags:     {Addr: 0x803832f0, Width: WBytes, Size: 0x10},
		FieldNoteTotals:     {Addr: 0x80385ff0, Width: WBytes, Size: 0x0f},

		FieldMoves:           {Addr: 0x8037c3a0, Width: W32},
		FieldLevelEvents:     {Addr: 0x80383328, Width: W32},
		FieldLevelEventBlock: {Addr: 0x80383328, Width: WBytes, Size: 7},
		FieldLevelEventCRC1:  {Addr: 0x80383320, Width: W32},
		FieldLevelEventCRC2:  {Addr: 0x80383324, Width: W32},
		FieldSceneEvents:     {Addr: 0x8037ddf0, Width: W32},
		FieldSceneEventCRC1:  {Addr: 0x8037dde0, Width: W32},
		FieldSceneEventCRC2:  {Addr: 0x8037dde4, Width: W32},
		FieldSceneEventCRC3:  {Addr: 0x8037dde8, Width: W32},
		FieldCutsceneSkip0:   {Addr: 0x80383d20, Width: W8},
		FieldCutsceneSkip1:   {Addr: 0x80383d98, Width: W8},
		FieldCutsceneSkip2:   {Addr: 0x80383e10, Width: W8},
		FieldCutsceneSkip3:   {Addr: 0x80383e88, Width: W8},

		FieldHoneycombs:     {Addr: 0x80385f60, Width: W32},
		FieldHealthUpgrades: {Addr: 0x80385f64, Width: W32},
		FieldHealth:         {Addr: 0x80385f68, Width: W32},
		FieldJiggies:        {Addr: 0x80385f6c, Width: W32},
		FieldMumboTokens:    {Addr: 0x80385f70, Width: W32},
		FieldEggs:           {Addr: 0x80385f74, Width: W32},
		FieldRedFeathers:    {Addr: 0x80385f78, Width: W32},
		FieldGoldFeathers:   {Addr: 0x80385f7c, Width: W32},
		FieldNotes:          {Addr: 0x80385f80, Width: W32},
		FieldJinjos:         {Addr: 0x80385f84, Width: W32},

		FieldActorArray:    {Addr: 0x8036e560, Width: W32},
		FieldVoxelArray:    {Addr: 0x80381fa0, Width: W32},
		FieldVoxelCount:    {Addr: 0x80381fa4, Width: W32},
		FieldPuppetBase:    {Addr: 0x00401000, Width: W32},
		FieldObjectMailbox: {Addr: 0x00401180, Width: WBytes, Size: 5 * 4},
		FieldVoxelMailbox:  {Addr: 0x00401100, Width: WBytes, Size: 5 * 4},

		FieldPlayerPos:   {Addr: 0x8037c5a0, Width: WBytes, Size: 12},
		FieldPlayerRotX:  {Addr: 0x8037c690, Width: W32},
		FieldPlayerRotY:  {Addr: 0x8037c694, Width: W32},
		FieldPlayerRotZ:  {Addr: 0x8037c698, Width: W32},
		FieldPlayerAnim:  {Addr: 0x8037bf20, Width: WBytes, Size: 8},
		FieldPlayerModel: {Addr: 0x8037c4d4, Width: W8},
		FieldPlayerScale: {Addr: 0x8037c5b0, Width: W32},
	}
}

// Merge returns a copy of l with override entries replacing same-named fields.
func (l Layout) Merge(override Layout) Layout {
	out := make(Layout, len(l)+len(override))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Validate checks every field has a usable width and size.
func (l Layout) Validate() error {
	names := make([]string, 0, len(l))
	for k := range l {
		names = append(names, string(k))
	}
	sort.Strings(names)
	for _, n := range names {
		f := l[FieldName(n)]
		switch f.Width {
		case W8, W16, W32:
		case WBytes:
			if f.Size <= 0 {
				return fmt.Errorf("field %s: bytes field needs size > 0", n)
			}
		default:
			return fmt.Errorf("field %s: invalid width %d", n, f.Width)
		}
		if Physical(f.Addr) >= RDRAMSize {
			return fmt.Errorf("field %s: address %#x outside RDRAM", n, f.Addr)
		}
	}
	for _, req := range required {
		if _, ok := l[req]; !ok {
			return fmt.Errorf("missing field %s", req)
		}
	}
	return nil
}

var required = []FieldName{
	FieldScene, FieldTransitionState, FieldLoading, FieldPlaying,
	FieldGameFlags, FieldHoneycombFlags, FieldJiggyFlags, FieldTokenFlags, FieldNoteTotals,
	FieldMoves, FieldLevelEvents, FieldPuppetBase,
}
