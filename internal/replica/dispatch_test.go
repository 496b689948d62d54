package replica

import (
	"testing"

	"github.com/nros-project/corekernel/internal/kerrors"
	"github.com/nros-project/corekernel/internal/vfs"
)

func newTestLog(t *testing.T) (*Log, Pid) {
	t.Helper()
	node := NewKernelNode()
	log := NewLog(node, 16)
	t.Cleanup(log.Close)

	const pid = Pid(1)
	if _, err := log.Submit(ProcessAdd{Pid: pid}); err != nil {
		t.Fatalf("ProcessAdd: %v", err)
	}
	return log, pid
}

func TestIncrementIsFetchAdd(t *testing.T) {
	log, _ := newTestLog(t)
	r1, err := log.Submit(Increment{Tid: 0})
	if err != nil {
		t.Fatalf("increment 1: %v", err)
	}
	r2, err := log.Submit(Increment{Tid: 0})
	if err != nil {
		t.Fatalf("increment 2: %v", err)
	}
	if r2.Incremented != r1.Incremented+1 {
		t.Fatalf("expected monotonically increasing prior values, got %d then %d", r1.Incremented, r2.Incremented)
	}
}

func TestProcessAddDuplicateFails(t *testing.T) {
	log, pid := newTestLog(t)
	if _, err := log.Submit(ProcessAdd{Pid: pid}); !kerrors.Is(err, kerrors.ProcessNotEnoughMemory) {
		t.Fatalf("expected ProcessNotEnoughMemory, got %v", err)
	}
}

// TestScenario3Permission is spec Scenario 3.
func TestScenario3Permission(t *testing.T) {
	log, pid := newTestLog(t)
	open, err := log.Submit(FileOpen{Pid: pid, Path: "/p", Flags: vfs.OWronly | vfs.OCreat})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = log.Dispatch(FileRead{Pid: pid, Fd: open.FileFd, Buf: make([]byte, 10), Len: 10, Offset: 0})
	if !kerrors.Is(err, kerrors.PermissionError) {
		t.Fatalf("expected PermissionError reading a write-only fd, got %v", err)
	}
}

// TestScenario4OpenMissingWithoutCreate is spec Scenario 4.
func TestScenario4OpenMissingWithoutCreate(t *testing.T) {
	log, pid := newTestLog(t)
	_, err := log.Submit(FileOpen{Pid: pid, Path: "/nope", Flags: vfs.ORdwr})
	if !kerrors.Is(err, kerrors.PermissionError) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
}

func TestFileOpenRollsBackFdOnCreateFailure(t *testing.T) {
	log, pid := newTestLog(t)
	if _, err := log.Submit(FileOpen{Pid: pid, Path: "/dup", Flags: vfs.ORdwr | vfs.OCreat}); err != nil {
		t.Fatalf("first open: %v", err)
	}
	// Opening the same path again without CREATE succeeds (it exists);
	// exercise the fd-rollback path indirectly by checking that a
	// failed open never leaks an fd: the first open keeps fd 0, so
	// open/close many times and verify fd 1 is reused instead of the fd
	// number monotonically growing.
	for i := 0; i < 5; i++ {
		r, err := log.Submit(FileOpen{Pid: pid, Path: "/dup", Flags: vfs.ORdwr})
		if err != nil {
			t.Fatalf("reopen %d: %v", i, err)
		}
		if r.FileFd != 1 {
			t.Fatalf("reopen %d: got fd %d, want reused fd 1", i, r.FileFd)
		}
		if _, err := log.Submit(FileClose{Pid: pid, Fd: r.FileFd}); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
}

func TestFileWriteAppendAdvancesOffset(t *testing.T) {
	log, pid := newTestLog(t)
	open, err := log.Submit(FileOpen{Pid: pid, Path: "/f", Flags: vfs.ORdwr | vfs.OCreat})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	payload := []byte("hello")
	if _, err := log.Submit(FileWrite{Pid: pid, Fd: open.FileFd, Payload: payload, Len: len(payload), Offset: -1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	more := []byte("world")
	if _, err := log.Submit(FileWrite{Pid: pid, Fd: open.FileFd, Payload: more, Len: len(more), Offset: -1}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	buf := make([]byte, 10)
	r, err := log.Dispatch(FileRead{Pid: pid, Fd: open.FileFd, Buf: buf, Len: 10, Offset: 0})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.AccessedLen != 10 || string(buf) != "helloworld" {
		t.Fatalf("got %q (%d bytes), want helloworld", buf[:r.AccessedLen], r.AccessedLen)
	}
}

func TestFileReadDoesNotAdvanceOffset(t *testing.T) {
	log, pid := newTestLog(t)
	open, err := log.Submit(FileOpen{Pid: pid, Path: "/g", Flags: vfs.ORdwr | vfs.OCreat})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	payload := []byte("abcdef")
	if _, err := log.Submit(FileWrite{Pid: pid, Fd: open.FileFd, Payload: payload, Len: len(payload), Offset: 0}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Offset -1 reads from the fd's stored offset, which the explicit
	// offset-0 write above left at 0.
	buf := make([]byte, 3)
	for i := 0; i < 3; i++ {
		if _, err := log.Dispatch(FileRead{Pid: pid, Fd: open.FileFd, Buf: buf, Len: 3, Offset: -1}); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if string(buf) != "abc" {
			t.Fatalf("read %d returned %q, want abc (offset must not have advanced)", i, buf)
		}
	}
}

func TestFileCloseDecrementsOpenRefsAllowingDelete(t *testing.T) {
	log, pid := newTestLog(t)
	open, err := log.Submit(FileOpen{Pid: pid, Path: "/q", Flags: vfs.ORdwr | vfs.OCreat})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := log.Submit(FileDelete{Pid: pid, Path: "/q"}); !kerrors.Is(err, kerrors.PermissionError) {
		t.Fatalf("expected PermissionError deleting while open, got %v", err)
	}
	if _, err := log.Submit(FileClose{Pid: pid, Fd: open.FileFd}); err != nil {
		t.Fatalf("close: %v", err)
	}
	r, err := log.Submit(FileDelete{Pid: pid, Path: "/q"})
	if err != nil || !r.Deleted {
		t.Fatalf("expected delete to succeed after close, got deleted=%v err=%v", r.Deleted, err)
	}
}

// TestReplicationDeterminism applies the same write-op sequence to two
// independent KernelNodes and checks the observable state matches.
func TestReplicationDeterminism(t *testing.T) {
	ops := []WriteOp{
		ProcessAdd{Pid: 1},
		FileOpen{Pid: 1, Path: "/a", Flags: vfs.ORdwr | vfs.OCreat},
		FileWrite{Pid: 1, Fd: 0, Payload: []byte("xyz"), Len: 3, Offset: -1},
		Increment{Tid: 0},
		Increment{Tid: 0},
	}

	run := func() (*KernelNode, NodeResult) {
		n := NewKernelNode()
		l := NewLog(n, 8)
		defer l.Close()
		var last NodeResult
		for _, op := range ops {
			r, err := l.Submit(op)
			if err != nil {
				t.Fatalf("op %#v: %v", op, err)
			}
			last = r
		}
		return n, last
	}

	n1, last1 := run()
	n2, last2 := run()

	if last1.Incremented != last2.Incremented {
		t.Fatalf("counters diverged: %d vs %d", last1.Incremented, last2.Incremented)
	}

	m1, ok1 := n1.fs.Lookup("/a")
	m2, ok2 := n2.fs.Lookup("/a")
	if !ok1 || !ok2 || m1 != m2 {
		t.Fatalf("mnode allocation diverged: %v(%v) vs %v(%v)", m1, ok1, m2, ok2)
	}

	info1, _ := n1.fs.FileInfo(m1)
	info2, _ := n2.fs.FileInfo(m2)
	if info1 != info2 {
		t.Fatalf("file info diverged: %+v vs %+v", info1, info2)
	}
}
