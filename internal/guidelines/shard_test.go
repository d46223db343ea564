package guidelines

import "testing"

func TestNewShardSeedsRange(t *testing.T) {
	sh := NewShard("cells", "Cells", "plant-cells", "Plant Cells", 12, "guideline text")
	if sh.SourcePageStart != 12 || sh.SourcePageEnd != 12 {
		t.Errorf("range = [%d, %d], want [12, 12]", sh.SourcePageStart, sh.SourcePageEnd)
	}
	if sh.Version != 0 {
		t.Errorf("unsaved shard version = %d, want 0", sh.Version)
	}
	if err := sh.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestAddPageExtendsRange(t *testing.T) {
	sh := NewShard("cells", "Cells", "plant-cells", "Plant Cells", 10, "g")

	sh.AddPage(14)
	if sh.SourcePageStart != 10 || sh.SourcePageEnd != 14 {
		t.Errorf("range = [%d, %d], want [10, 14]", sh.SourcePageStart, sh.SourcePageEnd)
	}

	// Non-contiguous membership is allowed; range is only a bound.
	sh.AddPage(12)
	sh.AddPage(12) // duplicate ignored
	if len(sh.SourcePages) != 3 {
		t.Errorf("SourcePages = %v, want 3 distinct pages", sh.SourcePages)
	}

	if err := sh.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsInvertedRange(t *testing.T) {
	sh := &Shard{TopicKey: "t", SubtopicKey: "s", SourcePageStart: 9, SourcePageEnd: 3}
	if err := sh.Validate(); err == nil {
		t.Error("Validate accepted inverted range")
	}
}

func TestValidateRejectsPageOutsideRange(t *testing.T) {
	sh := &Shard{
		TopicKey: "t", SubtopicKey: "s",
		SourcePageStart: 3, SourcePageEnd: 5,
		SourcePages: []int{3, 9},
	}
	if err := sh.Validate(); err == nil {
		t.Error("Validate accepted source page outside bounding range")
	}
}

func TestUnionRange(t *testing.T) {
	a := NewShard("t", "T", "a", "A", 5, "g")
	a.AddPage(8)
	b := NewShard("t", "T", "b", "B", 2, "g")
	b.AddPage(6)

	a.UnionRange(b)
	if a.SourcePageStart != 2 || a.SourcePageEnd != 8 {
		t.Errorf("union range = [%d, %d], want [2, 8]", a.SourcePageStart, a.SourcePageEnd)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate after union: %v", err)
	}
}
