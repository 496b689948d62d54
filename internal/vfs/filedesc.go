package vfs

import "github.com/nros-project/corekernel/internal/kerrors"

// MaxFilesPerProcess bounds the fixed-capacity per-process fd table.
const MaxFilesPerProcess = 4096

// Flags is the POSIX-like open-flag bitset, bit-exact with the host
// syscall surface's O_* constants.
type Flags uint32

const (
	ORdonly Flags = 0
	OWronly Flags = 1 << 0
	ORdwr   Flags = 1 << 1
	OCreat  Flags = 1 << 2
	OAppend Flags = 1 << 3
	OTrunc  Flags = 1 << 4
)

// IsCreate reports whether the CREAT bit is set.
func (f Flags) IsCreate() bool { return f&OCreat != 0 }

// IsTruncate reports whether the TRUNC bit is set.
func (f Flags) IsTruncate() bool { return f&OTrunc != 0 }

// IsAppend reports whether the APPEND bit is set.
func (f Flags) IsAppend() bool { return f&OAppend != 0 }

// IsWrite reports whether the flags permit writing (WRONLY or RDWR).
func (f Flags) IsWrite() bool { return f&OWronly != 0 || f&ORdwr != 0 }

// IsRead reports whether the flags permit reading (RDONLY is the zero
// value, so absence of WRONLY implies read access unless RDWR also
// narrows nothing — RDONLY=0, RDWR sets both read and write).
func (f Flags) IsRead() bool { return f&OWronly == 0 || f&ORdwr != 0 }

// FType classifies a MemNode, bit-exact with the host surface.
type FType uint8

const (
	FTypeDirectory FType = 1
	FTypeFile      FType = 2
)

// FileInfo is the result of a getinfo/file_info query.
type FileInfo struct {
	Size  uint64
	FType FType
}

// Mnode is the 64-bit stable identifier for an in-memory file or
// directory.
type Mnode uint64

// fdSlot is one entry of a FileDesc table: either empty (bound == false)
// or bound to a mnode, a flag set, and a byte offset cursor.
type fdSlot struct {
	bound  bool
	mnode  Mnode
	flags  Flags
	offset uint64
}

// FileDesc is a process's fixed-capacity fd -> (mnode, flags, offset)
// table. It is not safe for concurrent use by itself; the replication
// dispatcher's single-writer / concurrent-reader split is what
// actually serializes access to it in the kernel (see
// internal/replica), matching the spec's framing of FileDesc as
// "conceptually owned by the replicated state, never by the calling
// core."
type FileDesc struct {
	slots [MaxFilesPerProcess]fdSlot
}

// NewFileDesc returns an empty fd table.
func NewFileDesc() *FileDesc {
	return &FileDesc{}
}

// AllocateFd reserves the lowest free fd index and returns it.
func (fd *FileDesc) AllocateFd() (int, error) {
	for i := range fd.slots {
		if !fd.slots[i].bound {
			fd.slots[i].bound = true
			fd.slots[i].mnode = 0
			fd.slots[i].flags = 0
			fd.slots[i].offset = 0
			return i, nil
		}
	}
	return 0, kerrors.New(kerrors.InternalError)
}

// DeallocateFd empties slot fd, erroring if it is already empty or out
// of range.
func (fd *FileDesc) DeallocateFd(f int) error {
	if f < 0 || f >= len(fd.slots) || !fd.slots[f].bound {
		return kerrors.New(kerrors.InternalError)
	}
	fd.slots[f] = fdSlot{}
	return nil
}

// UpdateFd binds fd's mnode and flags, called once right after
// AllocateFd succeeds.
func (fd *FileDesc) UpdateFd(f int, mnode Mnode, flags Flags) error {
	if f < 0 || f >= len(fd.slots) || !fd.slots[f].bound {
		return kerrors.New(kerrors.InternalError)
	}
	fd.slots[f].mnode = mnode
	fd.slots[f].flags = flags
	return nil
}

// GetMnode returns fd's bound mnode.
func (fd *FileDesc) GetMnode(f int) (Mnode, error) {
	if f < 0 || f >= len(fd.slots) || !fd.slots[f].bound {
		return 0, kerrors.New(kerrors.InternalError)
	}
	return fd.slots[f].mnode, nil
}

// GetFlags returns fd's bound flags.
func (fd *FileDesc) GetFlags(f int) (Flags, error) {
	if f < 0 || f >= len(fd.slots) || !fd.slots[f].bound {
		return 0, kerrors.New(kerrors.InternalError)
	}
	return fd.slots[f].flags, nil
}

// GetOffset returns fd's stored offset cursor.
func (fd *FileDesc) GetOffset(f int) (uint64, error) {
	if f < 0 || f >= len(fd.slots) || !fd.slots[f].bound {
		return 0, kerrors.New(kerrors.InternalError)
	}
	return fd.slots[f].offset, nil
}

// UpdateOffset advances fd's stored offset cursor. Only FileWrite (a
// write-op) ever calls this — FileRead must never mutate the offset.
func (fd *FileDesc) UpdateOffset(f int, newOffset uint64) error {
	if f < 0 || f >= len(fd.slots) || !fd.slots[f].bound {
		return kerrors.New(kerrors.InternalError)
	}
	fd.slots[f].offset = newOffset
	return nil
}

// FindFd linearly scans for a slot bound to mnode, returning its index
// if found.
func (fd *FileDesc) FindFd(mnode Mnode) (int, bool) {
	for i := range fd.slots {
		if fd.slots[i].bound && fd.slots[i].mnode == mnode {
			return i, true
		}
	}
	return 0, false
}
