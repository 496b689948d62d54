// Command kerneld boots one kernel core end to end — physical memory,
// the heap front-end, a virtual address space, and a replicated
// in-memory file system — then runs a scripted walk over a subset of
// the external interfaces spec.md §6 describes (heap alloc/free;
// vspace map/resolve/unmap; file open/write/read/close/delete),
// logging what happened. The
// RPC transport that would normally front this is explicitly out of
// scope; this binary exists to prove the wiring, not to serve
// requests.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nros-project/corekernel/internal/heap"
	"github.com/nros-project/corekernel/internal/kernel"
	"github.com/nros-project/corekernel/internal/mm"
	"github.com/nros-project/corekernel/internal/replica"
	"github.com/nros-project/corekernel/internal/vfs"
	"github.com/nros-project/corekernel/internal/vspace"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML boot config (defaults to a single-node in-memory config)")
	flag.Parse()

	logger := log.New(os.Stderr, "[kerneld] ", log.LstdFlags)

	if err := mm.CheckHostPageSize(); err != nil {
		logger.Printf("warning: %v", err)
	}

	cfg := kernel.DefaultBootConfig()
	if configPath != "" {
		loaded, err := kernel.LoadBootConfig(configPath)
		if err != nil {
			logger.Fatalf("loading boot config: %v", err)
		}
		cfg = loaded
	}

	global, err := mm.NewGlobalMemory(cfg.Regions(), cfg.BaseStackCapacity, cfg.LargeStackCapacity)
	if err != nil {
		logger.Fatalf("booting global memory: %v", err)
	}

	const coreID = 0
	kcb, err := kernel.BootKCB(coreID, cfg.Regions()[0].Affinity, global)
	if err != nil {
		logger.Fatalf("booting core %d: %v", coreID, err)
	}
	defer kcb.Shutdown()

	reaper, err := kernel.NewReaper(global, cfg.ReaperIntervalCron, cfg.ReaperTargetFreePct)
	if err != nil {
		logger.Fatalf("starting reaper: %v", err)
	}
	reaper.Start()
	defer reaper.Stop()

	logger.Printf("booted %d node(s), core %d attached to node %d", global.Nodes(), coreID, kcb.Affinity)

	if err := demoHeap(logger, coreID); err != nil {
		logger.Fatalf("heap demo: %v", err)
	}
	if err := demoVSpace(logger, kcb.VSpace, kcb.TCache); err != nil {
		logger.Fatalf("vspace demo: %v", err)
	}
	if err := demoReplica(logger); err != nil {
		logger.Fatalf("replica demo: %v", err)
	}

	logger.Printf("all demo steps completed successfully")
}

func demoHeap(logger *log.Logger, coreID int) error {
	p := heap.Alloc(coreID, 64, 8)
	if p.IsNull() {
		return fmt.Errorf("heap.Alloc(64) returned null")
	}
	logger.Printf("heap: allocated 64 bytes at frame base %#x offset %d", p.Frame.Base, p.Offset)
	heap.Free(coreID, p, 64, 8)
	logger.Printf("heap: freed the allocation")
	return nil
}

func demoVSpace(logger *log.Logger, vs *vspace.VSpace, provider mm.PhysicalPageProvider) error {
	frame, err := provider.AllocateBasePage()
	if err != nil {
		return err
	}
	const vbase = vspace.VAddr(0x0000_1000_0000)
	if err := vs.MapFrame(vbase, frame, vspace.ActionRead|vspace.ActionWrite); err != nil {
		return err
	}
	paddr, action, err := vs.Resolve(vbase + 16)
	if err != nil {
		return err
	}
	logger.Printf("vspace: mapped %#x -> resolves to %#x, action=%v", vbase+16, paddr, action)

	handle, unmapped, err := vs.Unmap(vbase)
	if err != nil {
		return err
	}
	logger.Printf("vspace: unmapped, tlb flush handle %s covers %d bytes", handle.ID, handle.Size)
	return provider.ReleaseBasePage(unmapped)
}

func demoReplica(logger *log.Logger) error {
	node := replica.NewKernelNode()
	l := replica.NewLog(node, 16)
	defer l.Close()

	const pid = replica.Pid(1)
	if _, err := l.Submit(replica.ProcessAdd{Pid: pid}); err != nil {
		return err
	}

	open, err := l.Submit(replica.FileOpen{Pid: pid, Path: "/greeting", Flags: vfs.ORdwr | vfs.OCreat})
	if err != nil {
		return err
	}
	payload := []byte("hello, kernel")
	if _, err := l.Submit(replica.FileWrite{Pid: pid, Fd: open.FileFd, Payload: payload, Len: len(payload), Offset: -1}); err != nil {
		return err
	}

	buf := make([]byte, len(payload))
	read, err := l.Dispatch(replica.FileRead{Pid: pid, Fd: open.FileFd, Buf: buf, Len: len(buf), Offset: 0})
	if err != nil {
		return err
	}
	logger.Printf("replica: read back %q (%d bytes)", buf[:read.AccessedLen], read.AccessedLen)

	if _, err := l.Submit(replica.FileClose{Pid: pid, Fd: open.FileFd}); err != nil {
		return err
	}
	if _, err := l.Submit(replica.FileDelete{Pid: pid, Path: "/greeting"}); err != nil {
		return err
	}
	logger.Printf("replica: closed and deleted /greeting")
	return nil
}
