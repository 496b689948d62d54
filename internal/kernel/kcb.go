package kernel

import (
	"fmt"

	"github.com/nros-project/corekernel/internal/heap"
	"github.com/nros-project/corekernel/internal/mm"
	"github.com/nros-project/corekernel/internal/vspace"
)

// KCB is the kernel control block: the per-core handle the heap
// front-end and VSpace read from, tying one core to its TCache, the
// process-wide GlobalMemory, and the core's NUMA affinity. The
// original's KCB bootstrap sequence is out of this spec's scope
// (spec.md §1); its shape is not, since heap.Alloc and a VSpace both
// need a core-affine allocator handle to exist.
type KCB struct {
	CoreID   int
	Affinity mm.NodeID
	Global   *mm.GlobalMemory
	TCache   *mm.TCache
	VSpace   *vspace.VSpace
}

// BootKCB builds a KCB for coreID on the given node: its early TCache
// (already backed by the node's NCache via mm.NewGlobalMemory),
// a CoreContext installed into the heap package's registry so
// heap.Alloc/heap.Free can find it, and a fresh VSpace.
func BootKCB(coreID int, node mm.NodeID, global *mm.GlobalMemory) (*KCB, error) {
	tc := global.EarlyCache(node)
	if tc == nil {
		return nil, fmt.Errorf("kernel: no TCache for node %d", node)
	}

	ctx := heap.NewCoreContext(tc, global.Bytes)
	heap.InstallCore(coreID, ctx)

	vs, err := vspace.New(node, tc, global.Bytes)
	if err != nil {
		heap.UninstallCore(coreID)
		return nil, err
	}

	return &KCB{
		CoreID:   coreID,
		Affinity: node,
		Global:   global,
		TCache:   tc,
		VSpace:   vs,
	}, nil
}

// Shutdown removes this core's installed heap context. It does not
// tear down the VSpace or TCache; those outlive any one core's
// lifetime in this model.
func (k *KCB) Shutdown() {
	heap.UninstallCore(k.CoreID)
}
