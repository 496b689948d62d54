// Package corekernel wires a NUMA-aware multi-tier physical memory
// allocator to a replicated in-memory file system, presenting both as
// one bootable core.
//
// corekernel demonstrates the core of a research operating system
// kernel:
//   - A three-tier physical page allocator (GlobalMemory -> NCache ->
//     TCache) handing out base and large pages per NUMA node.
//   - A size-class heap front-end (internal/heap) built on top of the
//     page allocator, with a per-core allocation context.
//   - A 4-level page-table address space (internal/vspace) supporting
//     map/resolve/adjust/unmap with large-page collapse.
//   - A replicated in-memory file system (internal/vfs) driven through
//     a deterministic, totally-ordered write log (internal/replica),
//     so every replica that applies the same write-op sequence ends up
//     in the same state.
//
// # Basic Usage
//
// Boot a single-node kernel core and drive its file system through the
// replication log:
//
//	cfg := kernel.DefaultBootConfig()
//	k, err := corekernel.Boot(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer k.Shutdown()
//
//	pid := replica.Pid(1)
//	k.Log.Submit(replica.ProcessAdd{Pid: pid})
//	open, _ := k.Log.Submit(replica.FileOpen{
//		Pid: pid, Path: "/hello", Flags: vfs.ORdwr | vfs.OCreat,
//	})
//	k.Log.Submit(replica.FileWrite{
//		Pid: pid, Fd: open.FileFd, Payload: []byte("hi"), Len: 2, Offset: -1,
//	})
//
// # Heap and Virtual Memory
//
// Once a core's context is installed (which Boot does automatically
// for core 0), internal/heap's package-level Alloc/Free route through
// it:
//
//	p := heap.Alloc(0, 64, 8)
//	defer heap.Free(0, p, 64, 8)
//
// k.VSpace exposes the matching address-space operations:
//
//	frame, _ := k.GlobalMemory.NodeCache(k.KCB.Affinity).AllocateBasePage()
//	k.VSpace.MapFrame(vspace.VAddr(0x1000_0000), frame, vspace.ActionRead|vspace.ActionWrite)
//
// See SPEC_FULL.md for the full component breakdown and DESIGN.md for
// how each piece is grounded.
package corekernel

import (
	"github.com/nros-project/corekernel/internal/kernel"
	"github.com/nros-project/corekernel/internal/mm"
	"github.com/nros-project/corekernel/internal/replica"
	"github.com/nros-project/corekernel/internal/vspace"
)

// Kernel is the top-level handle returned by Boot: core 0's control
// block, the process-wide global memory it was carved from, and the
// replication log driving the file system and process registry.
type Kernel struct {
	GlobalMemory *mm.GlobalMemory
	KCB          *kernel.KCB
	VSpace       *vspace.VSpace
	Node         *replica.KernelNode
	Log          *replica.Log
	reaper       *kernel.Reaper
}

// Boot carves physical memory per cfg, installs core 0's heap
// context and VSpace, starts the background reaper, and opens a fresh
// KernelNode behind a replication log. Only core 0 is booted; booting
// additional cores is a matter of calling kernel.BootKCB again with a
// fresh core id against the same GlobalMemory.
func Boot(cfg kernel.BootConfig) (*Kernel, error) {
	global, err := mm.NewGlobalMemory(cfg.Regions(), cfg.BaseStackCapacity, cfg.LargeStackCapacity)
	if err != nil {
		return nil, err
	}

	const coreID = 0
	kcb, err := kernel.BootKCB(coreID, cfg.Regions()[0].Affinity, global)
	if err != nil {
		return nil, err
	}

	reaper, err := kernel.NewReaper(global, cfg.ReaperIntervalCron, cfg.ReaperTargetFreePct)
	if err != nil {
		kcb.Shutdown()
		return nil, err
	}
	reaper.Start()

	node := replica.NewKernelNode()
	log := replica.NewLog(node, 64)

	return &Kernel{
		GlobalMemory: global,
		KCB:          kcb,
		VSpace:       kcb.VSpace,
		Node:         node,
		Log:          log,
		reaper:       reaper,
	}, nil
}

// Shutdown stops the reaper, closes the replication log, and
// uninstalls core 0's heap context.
func (k *Kernel) Shutdown() {
	k.reaper.Stop()
	k.Log.Close()
	k.KCB.Shutdown()
}
