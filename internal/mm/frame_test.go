package mm

import "testing"

func TestFrameIntoBasePagesCoversRangeWithNoGaps(t *testing.T) {
	f := NewFrame(0, 8*BasePageSize, 0)
	pages := f.IntoBasePages()
	if len(pages) != 8 {
		t.Fatalf("expected 8 pages, got %d", len(pages))
	}
	for i, p := range pages {
		wantBase := PAddr(i * BasePageSize)
		if p.Base != wantBase || p.Size != BasePageSize {
			t.Fatalf("page %d: got base=%#x size=%d, want base=%#x size=%d", i, p.Base, p.Size, wantBase, BasePageSize)
		}
	}
}

func TestFrameSplitAtPreservesTotalSize(t *testing.T) {
	f := NewFrame(0, 10*BasePageSize, 0)
	low, high := f.SplitAt(4 * BasePageSize)
	if low.Size+high.Size != f.Size {
		t.Fatalf("split did not preserve size: %d + %d != %d", low.Size, high.Size, f.Size)
	}
}

func TestFrameSplitAtBeyondSizeYieldsEmptyHigh(t *testing.T) {
	f := NewFrame(0, 4*BasePageSize, 0)
	low, high := f.SplitAt(100 * BasePageSize)
	if !high.IsEmpty() {
		t.Fatalf("expected empty high frame, got %v", high)
	}
	if low != f {
		t.Fatalf("expected low == f when split size exceeds frame size")
	}
}

func TestFrameSplitAtNearestLargePageBoundaryAlreadyAligned(t *testing.T) {
	f := NewFrame(LargePageSize, LargePageSize, 0)
	low, high := f.SplitAtNearestLargePageBoundary()
	if !low.IsEmpty() {
		t.Fatalf("expected empty low for an already-aligned frame")
	}
	if high != f {
		t.Fatalf("expected high == f for an already-aligned frame")
	}
}

func TestFrameSplitAtNearestLargePageBoundaryUnaligned(t *testing.T) {
	f := NewFrame(LargePageSize-BasePageSize, 2*LargePageSize, 0)
	_, high := f.SplitAtNearestLargePageBoundary()
	if high.Base != f.Base && uint64(high.Base)%LargePageSize != 0 {
		t.Fatalf("high.Base %#x is neither f.Base nor large-page aligned", high.Base)
	}
}

func TestFrameBasePages(t *testing.T) {
	f := NewFrame(0, 5*BasePageSize, 0)
	if f.BasePages() != 5 {
		t.Fatalf("expected 5 base pages, got %d", f.BasePages())
	}
}

func TestFrameEnd(t *testing.T) {
	f := NewFrame(BasePageSize, 3*BasePageSize, 0)
	if f.End() != PAddr(4*BasePageSize) {
		t.Fatalf("expected end %#x, got %#x", 4*BasePageSize, f.End())
	}
}

func TestFrameBadAlignmentPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on misaligned base")
		}
	}()
	NewFrame(1, BasePageSize, 0)
}

func TestFrameBadSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-multiple size")
		}
	}()
	NewFrame(0, BasePageSize+1, 0)
}

func TestFrameEmptyNeverOverlaps(t *testing.T) {
	e := Empty()
	if !e.IsEmpty() {
		t.Fatal("Empty() must report IsEmpty")
	}
	if e.Size != 0 {
		t.Fatalf("expected empty frame size 0, got %d", e.Size)
	}
}

func TestDataSizeFormatting(t *testing.T) {
	cases := []struct {
		bytes uint64
		want  string
	}{
		{512, "512 B"},
		{2048, "2.00 KiB"},
		{5 * 1024 * 1024, "5.00 MiB"},
		{3 * 1024 * 1024 * 1024, "3.00 GiB"},
	}
	for _, c := range cases {
		if got := DataSize(c.bytes); got != c.want {
			t.Errorf("DataSize(%d) = %q, want %q", c.bytes, got, c.want)
		}
	}
}
