package progress

import (
	"bytes"
	"testing"
)

func TestMergeOrIdempotentAndCommutative(t *testing.T) {
	a := []byte{0x01, 0x80, 0x00}
	b := []byte{0x02, 0x80, 0x10}

	s1 := NewStore()
	s1.Merge(GroupHoneycombFlags, a)
	s1.Merge(GroupHoneycombFlags, b)

	s2 := NewStore()
	s2.Merge(GroupHoneycombFlags, b)
	s2.Merge(GroupHoneycombFlags, a)

	if !bytes.Equal(s1.HoneycombFlags, s2.HoneycombFlags) {
		t.Fatalf("order dependent: %x vs %x", s1.HoneycombFlags, s2.HoneycombFlags)
	}
	if want := []byte{0x03, 0x80, 0x10}; !bytes.Equal(s1.HoneycombFlags, want) {
		t.Fatalf("merged=%x want %x", s1.HoneycombFlags, want)
	}
	if s1.Merge(GroupHoneycombFlags, a) {
		t.Fatalf("re-merging a subset must not report a change")
	}
}

func TestMergeGameFlagsHonorsMask(t *testing.T) {
	s := NewStore()
	in := make([]byte, GameFlagsSize)
	in[0] = 0xff
	in[4] = 0xff
	in[11] = 0xff
	in[13] = 0xff
	in[16] = 0xff
	if !s.Merge(GroupGameFlags, in) {
		t.Fatalf("expected change")
	}
	if s.GameFlags[0] != 0xff || s.GameFlags[4] != 0x3f || s.GameFlags[11] != 0x1f || s.GameFlags[13] != 0 || s.GameFlags[16] != 0xfc {
		t.Fatalf("mask not honored: % x", s.GameFlags[:17])
	}
}

func TestNoteTotalsMonotonic(t *testing.T) {
	s := NewStore()
	s.NoteTotals[3] = 40
	for _, v := range []byte{30, 55, 20} {
		in := make([]byte, NoteTotalsSize)
		in[3] = v
		s.Merge(GroupNoteTotals, in)
	}
	if s.NoteTotals[3] != 55 {
		t.Fatalf("note total=%d want 55", s.NoteTotals[3])
	}

	in := make([]byte, NoteTotalsSize)
	in[3] = 200
	s.Merge(GroupNoteTotals, in)
	if s.NoteTotals[3] != NoteCap {
		t.Fatalf("note total=%d want cap %d", s.NoteTotals[3], NoteCap)
	}
}

func TestMergeCompletion(t *testing.T) {
	s := NewStore()
	in := make([]byte, JigsawCount)
	in[2] = 1
	in[5] = 7
	if !s.Merge(GroupJigsaws, in) {
		t.Fatalf("expected change")
	}
	if s.Jigsaws[2] != 1 || s.Jigsaws[5] != 1 {
		t.Fatalf("jigsaws=%v", s.Jigsaws)
	}
	if s.Merge(GroupJigsaws, make([]byte, JigsawCount)) {
		t.Fatalf("zeros must not clear completion")
	}
}

func TestMergeClipsWrongLength(t *testing.T) {
	s := NewStore()
	s.Merge(GroupHoneycombFlags, []byte{0x01, 0x02, 0x03, 0x04, 0x05})
	if len(s.HoneycombFlags) != HoneycombFlagsSize {
		t.Fatalf("len=%d", len(s.HoneycombFlags))
	}
	s.Merge(GroupJiggyFlags, []byte{0x01})
	if s.JiggyFlags[0] != 0x01 || len(s.JiggyFlags) != JiggyFlagsSize {
		t.Fatalf("jiggy=%x", s.JiggyFlags)
	}
}

func TestReconcileOrPushesLocalAndPullsRemote(t *testing.T) {
	sim := []byte{0x01, 0x00, 0x00}
	mirror := []byte{0x00, 0x04, 0x00}
	game, merged, dirty := Reconcile(GroupHoneycombFlags, sim, mirror)
	if !dirty {
		t.Fatalf("expected dirty")
	}
	want := []byte{0x01, 0x04, 0x00}
	if !bytes.Equal(game, want) || !bytes.Equal(merged, want) {
		t.Fatalf("game=%x merged=%x want %x", game, merged, want)
	}

	_, _, dirty = Reconcile(GroupHoneycombFlags, want, want)
	if dirty {
		t.Fatalf("equal copies must be clean")
	}
}

func TestReconcileGameFlagsIgnoresMaskedBits(t *testing.T) {
	sim := make([]byte, GameFlagsSize)
	mirror := make([]byte, GameFlagsSize)
	sim[12] = 0x0f
	sim[4] = 0xc0
	if _, _, dirty := Reconcile(GroupGameFlags, sim, mirror); dirty {
		t.Fatalf("bits outside the mask must not mark the group dirty")
	}

	mirror[12] = 0xf0
	mirror[4] = 0x01
	game, merged, dirty := Reconcile(GroupGameFlags, sim, mirror)
	if !dirty {
		t.Fatalf("expected dirty")
	}
	if game[12] != 0x0f {
		t.Fatalf("puzzle byte forced: %x", game[12])
	}
	if game[4] != 0xc1 {
		t.Fatalf("water byte=%x want c1", game[4])
	}
	if merged[4] != 0x01 {
		t.Fatalf("mirror water byte=%x want 01", merged[4])
	}
}

func TestReconcileNoteTotals(t *testing.T) {
	sim := make([]byte, NoteTotalsSize)
	mirror := make([]byte, NoteTotalsSize)
	sim[1] = 20
	mirror[1] = 35
	mirror[2] = 120
	game, merged, dirty := Reconcile(GroupNoteTotals, sim, mirror)
	if !dirty {
		t.Fatalf("expected dirty")
	}
	if game[1] != 35 || merged[1] != 35 {
		t.Fatalf("slot 1: game=%d mirror=%d", game[1], merged[1])
	}
	if game[2] != NoteCap || merged[2] != NoteCap {
		t.Fatalf("slot 2 not capped: game=%d mirror=%d", game[2], merged[2])
	}
}

func TestMergeBitsAndRecords(t *testing.T) {
	var v uint32 = 0x1
	if !MergeBits(&v, 0x6) || v != 0x7 {
		t.Fatalf("v=%x", v)
	}
	if MergeBits(&v, 0x2) {
		t.Fatalf("subset must not change")
	}

	s := NewStore()
	lvl := s.EnsureLevel(LevelMumbosMountain)
	if !lvl.MergeJinjos(0x03) || lvl.MergeJinjos(0x01) {
		t.Fatalf("jinjo merge")
	}
	if !lvl.MergeObjectNotes(4) || lvl.MergeObjectNotes(2) || lvl.ObjectNotes != 4 {
		t.Fatalf("object notes=%d", lvl.ObjectNotes)
	}

	sc := s.EnsureScene(LevelMumbosMountain, 0x02)
	k1, k2 := VoxelKey(1, 2, 3), VoxelKey(-1, 0, 7)
	if n := sc.MergeNotes([]int64{k1, k2, k1}); n != 2 {
		t.Fatalf("added=%d want 2", n)
	}
	if n := sc.MergeNotes([]int64{k2}); n != 0 {
		t.Fatalf("duplicate added=%d", n)
	}
	if got := s.Level(LevelMumbosMountain).SceneNoteCount(); got != 2 {
		t.Fatalf("scene notes=%d", got)
	}
}

func TestEnsureSkipsUnknown(t *testing.T) {
	s := NewStore()
	if s.EnsureLevel(LevelUnknown) != nil {
		t.Fatalf("unknown level must not be materialized")
	}
	if s.EnsureScene(LevelMumbosMountain, SceneUnknown) != nil {
		t.Fatalf("unknown scene must not be materialized")
	}
	if len(s.Levels) != 0 {
		t.Fatalf("levels=%d", len(s.Levels))
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewStore()
	s.EnsureScene(LevelClankersCavern, 0x0b).MergeNotes([]int64{1})
	c := s.Clone()
	c.GameFlags[0] = 0xff
	c.EnsureScene(LevelClankersCavern, 0x0b).MergeNotes([]int64{2})
	if s.GameFlags[0] != 0 {
		t.Fatalf("game flags shared")
	}
	if len(s.Scene(LevelClankersCavern, 0x0b).Notes) != 1 {
		t.Fatalf("notes shared")
	}
}
