package corekernel

import (
	"testing"

	"github.com/nros-project/corekernel/internal/heap"
	"github.com/nros-project/corekernel/internal/kernel"
	"github.com/nros-project/corekernel/internal/replica"
	"github.com/nros-project/corekernel/internal/vfs"
)

func TestBootSingleCoreEndToEnd(t *testing.T) {
	k, err := Boot(kernel.DefaultBootConfig())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Shutdown()

	if k.GlobalMemory.Nodes() != 1 {
		t.Fatalf("expected 1 node, got %d", k.GlobalMemory.Nodes())
	}

	p := heap.Alloc(k.KCB.CoreID, 48, 8)
	if p.IsNull() {
		t.Fatal("expected heap allocation to succeed on the booted core")
	}
	heap.Free(k.KCB.CoreID, p, 48, 8)

	const pid = replica.Pid(7)
	if _, err := k.Log.Submit(replica.ProcessAdd{Pid: pid}); err != nil {
		t.Fatalf("ProcessAdd: %v", err)
	}

	open, err := k.Log.Submit(replica.FileOpen{Pid: pid, Path: "/hello", Flags: vfs.ORdwr | vfs.OCreat})
	if err != nil {
		t.Fatalf("FileOpen: %v", err)
	}
	payload := []byte("hi")
	if _, err := k.Log.Submit(replica.FileWrite{Pid: pid, Fd: open.FileFd, Payload: payload, Len: len(payload), Offset: -1}); err != nil {
		t.Fatalf("FileWrite: %v", err)
	}

	buf := make([]byte, 2)
	res, err := k.Log.Dispatch(replica.FileRead{Pid: pid, Fd: open.FileFd, Buf: buf, Len: 2, Offset: 0})
	if err != nil {
		t.Fatalf("FileRead: %v", err)
	}
	if res.AccessedLen != 2 || string(buf) != "hi" {
		t.Fatalf("got %q (%d bytes), want hi", buf[:res.AccessedLen], res.AccessedLen)
	}
}
