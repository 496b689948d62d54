package kernel

import (
	"testing"

	"github.com/nros-project/corekernel/internal/heap"
	"github.com/nros-project/corekernel/internal/mm"
)

func TestDefaultBootConfigRegionsBuildGlobalMemory(t *testing.T) {
	cfg := DefaultBootConfig()
	global, err := mm.NewGlobalMemory(cfg.Regions(), cfg.BaseStackCapacity, cfg.LargeStackCapacity)
	if err != nil {
		t.Fatalf("NewGlobalMemory: %v", err)
	}
	if global.Nodes() != 1 {
		t.Fatalf("expected 1 node, got %d", global.Nodes())
	}
}

func TestBootKCBInstallsHeapContext(t *testing.T) {
	cfg := DefaultBootConfig()
	global, err := mm.NewGlobalMemory(cfg.Regions(), cfg.BaseStackCapacity, cfg.LargeStackCapacity)
	if err != nil {
		t.Fatalf("NewGlobalMemory: %v", err)
	}

	const coreID = 99
	kcb, err := BootKCB(coreID, 0, global)
	if err != nil {
		t.Fatalf("BootKCB: %v", err)
	}
	t.Cleanup(kcb.Shutdown)

	p := heap.Alloc(coreID, 32, 8)
	if p.IsNull() {
		t.Fatal("expected a non-null allocation once a KCB's core context is installed")
	}
	heap.Free(coreID, p, 32, 8)
}

func TestBootKCBUninstalledCoreAllocatesNull(t *testing.T) {
	if p := heap.Alloc(12345, 16, 8); !p.IsNull() {
		t.Fatal("expected Null() for a core with no installed context")
	}
}

func TestReaperReapsExcessFreeCapacity(t *testing.T) {
	cfg := DefaultBootConfig()
	global, err := mm.NewGlobalMemory(cfg.Regions(), cfg.BaseStackCapacity, cfg.LargeStackCapacity)
	if err != nil {
		t.Fatalf("NewGlobalMemory: %v", err)
	}

	r, err := NewReaper(global, "@every 1h", 10)
	if err != nil {
		t.Fatalf("NewReaper: %v", err)
	}
	// reapOnce is exercised directly rather than through the cron
	// scheduler, since the scheduler's own timing is robfig/cron's
	// concern, not this package's.
	before := global.NodeCache(0).BasePageCapacity()
	r.reapOnce()

	nc := global.NodeCache(0)
	if nc.BasePageCapacity() <= before {
		t.Fatalf("expected reapOnce to drain base pages: capacity before=%d after=%d", before, nc.BasePageCapacity())
	}
	if nc.Allocated() > nc.Size() {
		t.Fatalf("accounting invariant broken: allocated=%d size=%d", nc.Allocated(), nc.Size())
	}
}

func TestLoadBootConfigMissingFile(t *testing.T) {
	if _, err := LoadBootConfig("/nonexistent/kerneld.yaml"); err == nil {
		t.Fatal("expected an error reading a missing config file")
	}
}
