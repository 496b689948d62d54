package replica

import (
	"sync"
	"sync/atomic"

	"github.com/nros-project/corekernel/internal/kerrors"
	"github.com/nros-project/corekernel/internal/vfs"
)

// maxCores bounds the counters array Increment operates on; its
// entries are plain atomic.Int64 values, not padded to separate cache
// lines.
const maxCores = 192

// KernelNode is the single object the replication framework drives:
// Dispatch for read-ops, dispatchMut (through its Log) for write-ops.
// It owns the process registry and the file-system registry — every
// byte of mutable kernel state this spec's scope covers lives here.
type KernelNode struct {
	counters [maxCores]atomic.Int64

	processMu sync.RWMutex
	processes map[Pid]*vfs.FileDesc

	fs *vfs.MlnrFS
}

// NewKernelNode returns a KernelNode with a fresh MlnrFS (root
// directory pre-populated) and an empty process registry.
func NewKernelNode() *KernelNode {
	return &KernelNode{
		processes: make(map[Pid]*vfs.FileDesc),
		fs:        vfs.NewMlnrFS(),
	}
}

func (n *KernelNode) fileDesc(pid Pid) (*vfs.FileDesc, bool) {
	n.processMu.RLock()
	defer n.processMu.RUnlock()
	fd, ok := n.processes[pid]
	return fd, ok
}

// Dispatch is the pure read-side reducer: it must never mutate state.
func (n *KernelNode) Dispatch(op ReadOp) (NodeResult, error) {
	switch o := op.(type) {
	case Get:
		return NodeResult{Incremented: uint64(n.counters[0].Load())}, nil

	case FileRead:
		fdTable, ok := n.fileDesc(o.Pid)
		if !ok {
			return NodeResult{}, kerrors.New(kerrors.InternalError)
		}
		flags, err := fdTable.GetFlags(int(o.Fd))
		if err != nil {
			return NodeResult{}, err
		}
		if !flags.IsRead() {
			return NodeResult{}, kerrors.New(kerrors.PermissionError)
		}
		mnode, err := fdTable.GetMnode(int(o.Fd))
		if err != nil {
			return NodeResult{}, err
		}
		offset := o.Offset
		if offset == -1 {
			cur, err := fdTable.GetOffset(int(o.Fd))
			if err != nil {
				return NodeResult{}, err
			}
			offset = int(cur)
		}
		buf := o.Buf
		if len(buf) > o.Len {
			buf = buf[:o.Len]
		}
		read, err := n.fs.Read(mnode, buf, offset)
		if err != nil {
			return NodeResult{}, kerrors.Wrap(kerrors.InternalError, err)
		}
		return NodeResult{AccessedLen: read}, nil

	case FileInfo:
		mnode, ok := n.fs.Lookup(o.Path)
		if !ok {
			return NodeResult{}, kerrors.New(kerrors.InvalidFile)
		}
		info, err := n.fs.FileInfo(mnode)
		if err != nil {
			return NodeResult{}, err
		}
		return NodeResult{Info: info}, nil

	default:
		return NodeResult{}, kerrors.New(kerrors.NotSupported)
	}
}

// dispatchMut is the deterministic write-side reducer. It must only
// ever be called by the single writer goroutine in Log — calling it
// concurrently from two goroutines would violate the total-order
// guarantee every replica depends on.
func (n *KernelNode) dispatchMut(op WriteOp) (NodeResult, error) {
	switch o := op.(type) {
	case Increment:
		prev := n.counters[o.Tid].Add(1) - 1
		return NodeResult{Incremented: uint64(prev)}, nil

	case ProcessAdd:
		n.processMu.Lock()
		defer n.processMu.Unlock()
		if _, exists := n.processes[o.Pid]; exists {
			return NodeResult{}, kerrors.New(kerrors.ProcessNotEnoughMemory)
		}
		n.processes[o.Pid] = vfs.NewFileDesc()
		return NodeResult{ProcessID: o.Pid}, nil

	case ProcessRemove:
		n.processMu.Lock()
		defer n.processMu.Unlock()
		if _, exists := n.processes[o.Pid]; !exists {
			return NodeResult{}, kerrors.New(kerrors.InternalError)
		}
		delete(n.processes, o.Pid)
		return NodeResult{ProcessID: o.Pid}, nil

	case FileOpen:
		return n.fileOpen(o)

	case FileWrite:
		return n.fileWrite(o)

	case FileClose:
		return n.fileClose(o)

	case FileDelete:
		ok, err := n.fs.Delete(o.Path)
		if err != nil {
			return NodeResult{}, err
		}
		return NodeResult{Deleted: ok}, nil

	case FileRename:
		ok, err := n.fs.Rename(o.Old, o.New)
		if err != nil {
			return NodeResult{}, err
		}
		return NodeResult{Renamed: ok}, nil

	default:
		return NodeResult{}, kerrors.New(kerrors.NotSupported)
	}
}

func (n *KernelNode) fsOpenRef(mnode vfs.Mnode) error  { return n.fs.OpenRef(mnode) }
func (n *KernelNode) fsCloseRef(mnode vfs.Mnode) error { return n.fs.CloseRef(mnode) }

func (n *KernelNode) fileOpen(o FileOpen) (NodeResult, error) {
	mnode, exists := n.fs.Lookup(o.Path)
	if !exists && !o.Flags.IsCreate() {
		return NodeResult{}, kerrors.New(kerrors.PermissionError)
	}

	n.processMu.RLock()
	fdTable, ok := n.processes[o.Pid]
	n.processMu.RUnlock()
	if !ok {
		return NodeResult{}, kerrors.New(kerrors.InternalError)
	}

	fd, err := fdTable.AllocateFd()
	if err != nil {
		return NodeResult{}, kerrors.New(kerrors.NotSupported)
	}

	if !exists {
		m, err := n.fs.Create(o.Path, o.Modes)
		if err != nil {
			_ = fdTable.DeallocateFd(fd)
			return NodeResult{}, err
		}
		mnode = m
	} else if o.Flags.IsTruncate() {
		_ = n.fs.Truncate(o.Path)
	}

	if err := fdTable.UpdateFd(fd, mnode, o.Flags); err != nil {
		_ = fdTable.DeallocateFd(fd)
		return NodeResult{}, err
	}
	if err := n.fsOpenRef(mnode); err != nil {
		_ = fdTable.DeallocateFd(fd)
		return NodeResult{}, err
	}
	return NodeResult{FileFd: Fd(fd)}, nil
}

func (n *KernelNode) fileWrite(o FileWrite) (NodeResult, error) {
	n.processMu.RLock()
	fdTable, ok := n.processes[o.Pid]
	n.processMu.RUnlock()
	if !ok {
		return NodeResult{}, kerrors.New(kerrors.InternalError)
	}

	flags, err := fdTable.GetFlags(int(o.Fd))
	if err != nil {
		return NodeResult{}, err
	}
	if !flags.IsWrite() {
		return NodeResult{}, kerrors.New(kerrors.PermissionError)
	}
	mnode, err := fdTable.GetMnode(int(o.Fd))
	if err != nil {
		return NodeResult{}, err
	}

	currOffset := o.Offset
	if o.Offset == -1 {
		if flags.IsAppend() {
			info, err := n.fs.FileInfo(mnode)
			if err != nil {
				return NodeResult{}, err
			}
			currOffset = int(info.Size)
		} else {
			stored, err := fdTable.GetOffset(int(o.Fd))
			if err != nil {
				return NodeResult{}, err
			}
			currOffset = int(stored)
		}
	}

	written, err := n.fs.Write(mnode, o.Payload, currOffset)
	if err != nil {
		return NodeResult{}, err
	}
	if o.Offset == -1 {
		_ = fdTable.UpdateOffset(int(o.Fd), uint64(currOffset+written))
	}
	return NodeResult{AccessedLen: written}, nil
}

func (n *KernelNode) fileClose(o FileClose) (NodeResult, error) {
	n.processMu.RLock()
	fdTable, ok := n.processes[o.Pid]
	n.processMu.RUnlock()
	if !ok {
		return NodeResult{}, kerrors.New(kerrors.InternalError)
	}

	mnode, err := fdTable.GetMnode(int(o.Fd))
	if err != nil {
		return NodeResult{}, err
	}
	if err := n.fsCloseRef(mnode); err != nil {
		return NodeResult{}, err
	}
	if err := fdTable.DeallocateFd(int(o.Fd)); err != nil {
		return NodeResult{}, err
	}
	return NodeResult{}, nil
}
