package plan

import (
	"testing"

	"github.com/pithecene-io/ferry/types"
)

func TestPlan_ScenarioA(t *testing.T) {
	p := Plan(1_000_000, 4)

	want := []types.Range{
		{Index: 0, Start: 0, End: 249999},
		{Index: 1, Start: 250000, End: 499999},
		{Index: 2, Start: 500000, End: 749999},
		{Index: 3, Start: 750000, End: types.OpenEnd},
	}
	if len(p.Ranges) != len(want) {
		t.Fatalf("expected %d ranges, got %d", len(want), len(p.Ranges))
	}
	for i, r := range p.Ranges {
		if r != want[i] {
			t.Errorf("range %d = %v, want %v", i, r, want[i])
		}
	}
	if p.TotalSize != 1_000_000 {
		t.Errorf("TotalSize = %d", p.TotalSize)
	}
}

func TestPlan_UnknownOrZeroSize(t *testing.T) {
	for _, size := range []int64{types.UnknownSize, 0, -42} {
		p := Plan(size, 8)
		if len(p.Ranges) != 1 {
			t.Fatalf("size %d: expected 1 range, got %d", size, len(p.Ranges))
		}
		if !p.Ranges[0].IsWholeFile() {
			t.Errorf("size %d: expected whole-file range, got %v", size, p.Ranges[0])
		}
		if p.Known() {
			t.Errorf("size %d: plan should not be known", size)
		}
	}
}

func TestPlan_ClampsPartCount(t *testing.T) {
	p := Plan(3, 10)
	if len(p.Ranges) != 3 {
		t.Fatalf("expected 3 ranges, got %d", len(p.Ranges))
	}
	p = Plan(100, 0)
	if len(p.Ranges) != 1 || !p.Ranges[0].IsWholeFile() {
		t.Errorf("partCount 0 should behave like 1, got %v", p.Ranges)
	}
}

// coverage checks that the plan covers [0, total) with no gap and no overlap.
func coverage(t *testing.T, p types.RangePlan, total int64) {
	t.Helper()
	var cursor int64
	for i, r := range p.Ranges {
		if r.Index != i {
			t.Fatalf("total=%d: range %d has index %d", total, i, r.Index)
		}
		if r.Start != cursor {
			t.Fatalf("total=%d: range %d starts at %d, want %d", total, i, r.Start, cursor)
		}
		last := i == len(p.Ranges)-1
		if last {
			if !r.IsOpen() {
				t.Fatalf("total=%d: last range must be open, got %v", total, r)
			}
			if r.Start >= total {
				t.Fatalf("total=%d: last range starts past EOF at %d", total, r.Start)
			}
			cursor = total
			continue
		}
		if r.IsOpen() {
			t.Fatalf("total=%d: only the last range may be open", total)
		}
		if r.End < r.Start {
			t.Fatalf("total=%d: empty range %v", total, r)
		}
		cursor = r.End + 1
	}
	if cursor != total {
		t.Fatalf("total=%d: plan covers up to %d", total, cursor)
	}
}

func TestPlan_RangeCoverage(t *testing.T) {
	sizes := []int64{1, 2, 3, 7, 10, 99, 100, 1023, 1024, 1_000_000, 1_000_003, 50_331_649}
	for _, size := range sizes {
		for parts := 1; parts <= 17; parts++ {
			p := Plan(size, parts)
			coverage(t, p, size)
			wantParts := parts
			if int64(wantParts) > size {
				wantParts = int(size)
			}
			if len(p.Ranges) != wantParts {
				t.Errorf("size=%d parts=%d: got %d ranges", size, parts, len(p.Ranges))
			}
		}
	}
}

func TestPlan_Deterministic(t *testing.T) {
	a := Plan(123_456_789, 6)
	b := Plan(123_456_789, 6)
	if len(a.Ranges) != len(b.Ranges) {
		t.Fatal("plans differ in length")
	}
	for i := range a.Ranges {
		if a.Ranges[i] != b.Ranges[i] {
			t.Errorf("range %d differs: %v vs %v", i, a.Ranges[i], b.Ranges[i])
		}
	}
}

func TestWholeFile_KeepsKnownSize(t *testing.T) {
	p := WholeFile(5000)
	if p.TotalSize != 5000 {
		t.Errorf("TotalSize = %d, want 5000", p.TotalSize)
	}
	if len(p.Ranges) != 1 || !p.Ranges[0].IsWholeFile() {
		t.Errorf("unexpected ranges %v", p.Ranges)
	}
}
