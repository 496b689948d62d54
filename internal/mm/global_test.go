package mm

import "testing"

func TestNewGlobalMemorySingleNode(t *testing.T) {
	region := NewFrame(0, EarlyTCacheSize+16*BasePageSize, 0)
	gm, err := NewGlobalMemory([]Frame{region}, 64, 4)
	if err != nil {
		t.Fatalf("NewGlobalMemory: %v", err)
	}
	if gm.Nodes() != 1 {
		t.Fatalf("expected 1 node, got %d", gm.Nodes())
	}
	if gm.NodeCache(0) == nil {
		t.Fatal("expected a populated node cache for node 0")
	}
	if gm.EarlyCache(0) == nil {
		t.Fatal("expected an early cache for node 0")
	}
}

func TestNewGlobalMemoryMultiNode(t *testing.T) {
	regions := []Frame{
		NewFrame(0, EarlyTCacheSize+8*BasePageSize, 0),
		NewFrame(0x10_000_000, EarlyTCacheSize+8*BasePageSize, 1),
	}
	gm, err := NewGlobalMemory(regions, 64, 4)
	if err != nil {
		t.Fatalf("NewGlobalMemory: %v", err)
	}
	if gm.Nodes() != 2 {
		t.Fatalf("expected 2 nodes, got %d", gm.Nodes())
	}
	nodes := gm.NonEmptyNodes()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 non-empty nodes, got %d", len(nodes))
	}
}

// TestGlobalMemoryBytesOnHighBaseStackCapacity uses a base stack
// capacity large enough that no base page of the leftover region is
// dropped, drains every base page from the NCache, and dereferences the
// highest-addressed one through GlobalMemory.Bytes. Before the
// leftover frames' Base was rebased into the NCache's own 0-based
// arena coordinates, this panicked with a slice-bounds-out-of-range on
// any frame whose original region-relative Base exceeded the arena's
// (leftover-only) size.
func TestGlobalMemoryBytesOnHighBaseStackCapacity(t *testing.T) {
	region := NewFrame(0, EarlyTCacheSize+4096*BasePageSize, 0)
	gm, err := NewGlobalMemory([]Frame{region}, 8192, 64)
	if err != nil {
		t.Fatalf("NewGlobalMemory: %v", err)
	}
	nc := gm.NodeCache(0)

	var highest Frame
	for {
		f, err := nc.AllocateBasePage()
		if err != nil {
			break
		}
		if highest.IsEmpty() || f.Base > highest.Base {
			highest = f
		}
	}
	if highest.IsEmpty() {
		t.Fatal("expected at least one base page to have been populated")
	}
	b := gm.Bytes(highest)
	if len(b) != BasePageSize {
		t.Fatalf("got %d bytes, want %d", len(b), BasePageSize)
	}
	highest.Zero(b)
}

func TestEarlyTCacheAttachedToMatchingNodeCache(t *testing.T) {
	region := NewFrame(0, EarlyTCacheSize+4*BasePageSize, 0)
	gm, err := NewGlobalMemory([]Frame{region}, 64, 4)
	if err != nil {
		t.Fatalf("NewGlobalMemory: %v", err)
	}
	early := gm.EarlyCache(0)
	// exhaust the early cache's own base pages, forcing a refill from
	// the attached NCache, which was populated with the 4-page
	// leftover above.
	for i := 0; i < earlyTCacheBasePages; i++ {
		if _, err := early.AllocateBasePage(); err != nil {
			t.Fatalf("drain early cache page %d: %v", i, err)
		}
	}
	if _, err := early.AllocateBasePage(); err != nil {
		t.Fatalf("expected early cache to refill from attached NCache: %v", err)
	}
}
