// Package replica implements the replication dispatch contract: the
// read-op / write-op enum, the pure dispatch reducer, and the
// deterministic dispatch_mut reducer every replica applies in the
// same total order.
//
// What: a KernelNode exposing Dispatch (read) and a single ordered
// write pipeline (Log.Submit) wrapping dispatchMut.
// How: grounded on internal/storage/concurrency.go's worker-pool
// idiom, collapsed from a bounded pool down to exactly one writer
// goroutine — write-ops must linearize in submission order, so there
// can only ever be one.
// Why: this is the concurrency spine every other component in the
// kernel ultimately routes through; getting the read/write split wrong
// silently breaks replication (moving a side effect into Dispatch
// would make two replicas diverge).
package replica

import "github.com/nros-project/corekernel/internal/vfs"

// Pid identifies a process.
type Pid uint64

// Fd is a file-descriptor index, scoped to a Pid.
type Fd int

// ReadOp is the read-side of the log operation enum (§3). Every
// variant must be dispatched by a pure function of current state.
type ReadOp interface {
	isReadOp()
	Hash() int
}

// WriteOp is the write-side of the log operation enum (§3). Every
// variant must be dispatched deterministically and produce the same
// response on every replica.
type WriteOp interface {
	isWriteOp()
	Hash() int
}

// Get is a liveness probe: returns counter 0's current value.
type Get struct{}

func (Get) isReadOp()  {}
func (Get) Hash() int  { return 0 }

// FileRead reads up to Len bytes at Offset from Fd into Buf. It is a
// read-op and must never advance Fd's stored offset — see the open
// question in SPEC_FULL.md's design notes.
type FileRead struct {
	Pid    Pid
	Fd     Fd
	Buf    []byte
	Len    int
	Offset int
}

func (FileRead) isReadOp() {}
func (FileRead) Hash() int { return 0 }

// FileInfo reports {fsize, ftype} for path.
type FileInfo struct {
	Path string
}

func (FileInfo) isReadOp() {}
func (FileInfo) Hash() int { return 0 }

// Increment is a write-op liveness probe: atomic fetch_add(1) on
// counters[Tid].
type Increment struct {
	Tid int
}

func (Increment) isWriteOp() {}
func (Increment) Hash() int  { return 0 }

// ProcessAdd registers pid with a fresh, empty FileDesc table.
type ProcessAdd struct {
	Pid Pid
}

func (ProcessAdd) isWriteOp() {}
func (ProcessAdd) Hash() int  { return 0 }

// ProcessRemove unregisters pid's FileDesc table entirely.
type ProcessRemove struct {
	Pid Pid
}

func (ProcessRemove) isWriteOp() {}
func (ProcessRemove) Hash() int  { return 0 }

// FileOpen opens (and creates, if Flags carries OCreat) Path for pid,
// binding a fresh fd.
type FileOpen struct {
	Pid   Pid
	Path  string
	Flags vfs.Flags
	Modes vfs.Flags
}

func (FileOpen) isWriteOp() {}
func (FileOpen) Hash() int  { return 0 }

// FileWrite writes Payload (exactly Len bytes) at Offset (-1 meaning
// "use the fd's effective offset") to Fd.
type FileWrite struct {
	Pid     Pid
	Fd      Fd
	Payload []byte
	Len     int
	Offset  int
}

func (FileWrite) isWriteOp() {}
func (FileWrite) Hash() int  { return 0 }

// FileClose releases pid's binding of Fd, decrementing the bound
// mnode's open-reference count.
type FileClose struct {
	Pid Pid
	Fd  Fd
}

func (FileClose) isWriteOp() {}
func (FileClose) Hash() int  { return 0 }

// FileDelete removes Path from the registry, subject to the
// open-reference permission check.
type FileDelete struct {
	Pid  Pid
	Path string
}

func (FileDelete) isWriteOp() {}
func (FileDelete) Hash() int  { return 0 }

// FileRename moves Old's path binding to New.
type FileRename struct {
	Pid Pid
	Old string
	New string
}

func (FileRename) isWriteOp() {}
func (FileRename) Hash() int  { return 0 }

// NodeResult is the closed set of successful response payloads a
// dispatch/dispatchMut call can produce.
type NodeResult struct {
	Incremented uint64
	ProcessID   Pid
	FileFd      Fd
	AccessedLen int
	Info        vfs.FileInfo
	Deleted     bool
	Renamed     bool
}
