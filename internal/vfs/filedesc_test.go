package vfs

import (
	"testing"

	"github.com/nros-project/corekernel/internal/kerrors"
)

func TestFileDescAllocateLowestFreeIndex(t *testing.T) {
	fd := NewFileDesc()
	f0, err := fd.AllocateFd()
	if err != nil || f0 != 0 {
		t.Fatalf("expected fd 0, got %d (err=%v)", f0, err)
	}
	f1, err := fd.AllocateFd()
	if err != nil || f1 != 1 {
		t.Fatalf("expected fd 1, got %d (err=%v)", f1, err)
	}
	if err := fd.DeallocateFd(f0); err != nil {
		t.Fatalf("deallocate: %v", err)
	}
	f2, err := fd.AllocateFd()
	if err != nil || f2 != 0 {
		t.Fatalf("expected reused fd 0, got %d (err=%v)", f2, err)
	}
}

func TestFileDescDeallocateEmptySlotFails(t *testing.T) {
	fd := NewFileDesc()
	if err := fd.DeallocateFd(0); !kerrors.Is(err, kerrors.InternalError) {
		t.Fatalf("expected InternalError, got %v", err)
	}
}

func TestFileDescDeallocateOutOfRangeFails(t *testing.T) {
	fd := NewFileDesc()
	if err := fd.DeallocateFd(MaxFilesPerProcess); !kerrors.Is(err, kerrors.InternalError) {
		t.Fatalf("expected InternalError, got %v", err)
	}
}

func TestFileDescExhaustion(t *testing.T) {
	fd := NewFileDesc()
	for i := 0; i < MaxFilesPerProcess; i++ {
		if _, err := fd.AllocateFd(); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if _, err := fd.AllocateFd(); !kerrors.Is(err, kerrors.InternalError) {
		t.Fatalf("expected InternalError once exhausted, got %v", err)
	}
}

func TestFileDescUpdateAndFind(t *testing.T) {
	fd := NewFileDesc()
	f, err := fd.AllocateFd()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := fd.UpdateFd(f, Mnode(42), ORdwr); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok := fd.FindFd(Mnode(42))
	if !ok || got != f {
		t.Fatalf("expected FindFd to return %d, got %d (ok=%v)", f, got, ok)
	}
	if m, err := fd.GetMnode(f); err != nil || m != 42 {
		t.Fatalf("GetMnode: %d, %v", m, err)
	}
}

func TestFileDescOffsetUpdate(t *testing.T) {
	fd := NewFileDesc()
	f, _ := fd.AllocateFd()
	if err := fd.UpdateOffset(f, 128); err != nil {
		t.Fatalf("update offset: %v", err)
	}
	off, err := fd.GetOffset(f)
	if err != nil || off != 128 {
		t.Fatalf("GetOffset = %d, %v", off, err)
	}
}

func TestFlagsPredicates(t *testing.T) {
	cases := []struct {
		flags             Flags
		create, trunc, app, write bool
	}{
		{ORdonly, false, false, false, false},
		{OWronly | OCreat, true, false, false, true},
		{ORdwr | OAppend, false, false, true, true},
		{OWronly | OTrunc, false, true, false, true},
	}
	for _, c := range cases {
		if got := c.flags.IsCreate(); got != c.create {
			t.Errorf("IsCreate(%v) = %v, want %v", c.flags, got, c.create)
		}
		if got := c.flags.IsTruncate(); got != c.trunc {
			t.Errorf("IsTruncate(%v) = %v, want %v", c.flags, got, c.trunc)
		}
		if got := c.flags.IsAppend(); got != c.app {
			t.Errorf("IsAppend(%v) = %v, want %v", c.flags, got, c.app)
		}
		if got := c.flags.IsWrite(); got != c.write {
			t.Errorf("IsWrite(%v) = %v, want %v", c.flags, got, c.write)
		}
	}
}
