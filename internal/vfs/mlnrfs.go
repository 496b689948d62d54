package vfs

import (
	"sync"
	"sync/atomic"

	"github.com/nros-project/corekernel/internal/kerrors"
)

// rootMnode and rootPath are the pre-populated root directory entry
// every MlnrFS starts with; mnode numbering resumes from 2.
const (
	rootMnode Mnode = 1
	rootPath        = "/"
)

// memNode is the registry's per-mnode record: its kind, its modes, its
// body if it is a File, and an explicit open-reference counter.
//
// The source this is ported from tracks "is anyone still holding a
// reference to this mnode" via Arc strong-count, which Go has no
// equivalent inspectable primitive for. openRefs plays the same role
// for the one case that matters here: delete() must refuse to
// actually reclaim a mnode while some fd still has it open.
type memNode struct {
	mnode    Mnode
	kind     FType
	modes    Flags
	body     *FileBody
	openRefs atomic.Int64
}

// MlnrFS is the replicated file-system registry: a path index and an
// mnode-keyed store, both guarded by their own RWMutex so concurrent
// reads never block each other while the single writer (the
// replication dispatcher) mutates one at a time.
type MlnrFS struct {
	pathsMu sync.RWMutex
	paths   map[string]Mnode

	nodesMu sync.RWMutex
	nodes   map[Mnode]*memNode

	nextMnode atomic.Uint64
}

// NewMlnrFS returns a registry pre-populated with the root directory
// at mnode 1, with the next allocated mnode starting at 2.
func NewMlnrFS() *MlnrFS {
	fs := &MlnrFS{
		paths: make(map[string]Mnode),
		nodes: make(map[Mnode]*memNode),
	}
	fs.paths[rootPath] = rootMnode
	fs.nodes[rootMnode] = &memNode{mnode: rootMnode, kind: FTypeDirectory}
	fs.nextMnode.Store(2)
	return fs
}

func (fs *MlnrFS) allocMnode() Mnode {
	return Mnode(fs.nextMnode.Add(1) - 1)
}

// Create allocates a fresh mnode for path, fails with AlreadyPresent
// if path is already bound.
func (fs *MlnrFS) Create(path string, modes Flags) (Mnode, error) {
	fs.pathsMu.Lock()
	defer fs.pathsMu.Unlock()

	if _, exists := fs.paths[path]; exists {
		return 0, kerrors.New(kerrors.AlreadyPresent)
	}

	m := fs.allocMnode()
	fs.nodesMu.Lock()
	fs.nodes[m] = &memNode{mnode: m, kind: FTypeFile, modes: modes, body: NewFileBody()}
	fs.nodesMu.Unlock()

	fs.paths[path] = m
	return m, nil
}

func (fs *MlnrFS) get(m Mnode) (*memNode, error) {
	fs.nodesMu.RLock()
	defer fs.nodesMu.RUnlock()
	n, ok := fs.nodes[m]
	if !ok {
		return nil, kerrors.New(kerrors.InvalidFile)
	}
	return n, nil
}

// Write forwards to mnode's body.
func (fs *MlnrFS) Write(mnode Mnode, buf []byte, off int) (int, error) {
	n, err := fs.get(mnode)
	if err != nil {
		return 0, err
	}
	if n.kind != FTypeFile {
		return 0, kerrors.New(kerrors.InvalidFile)
	}
	return n.body.Write(buf, off), nil
}

// Read forwards to mnode's body.
func (fs *MlnrFS) Read(mnode Mnode, buf []byte, off int) (int, error) {
	n, err := fs.get(mnode)
	if err != nil {
		return 0, err
	}
	if n.kind != FTypeFile {
		return 0, kerrors.New(kerrors.InvalidFile)
	}
	end := off + len(buf)
	size := n.body.Size()
	if end > size {
		end = size
	}
	if off > end {
		return 0, nil
	}
	return n.body.Read(buf, off, end), nil
}

// Lookup returns path's bound mnode, if any.
func (fs *MlnrFS) Lookup(path string) (Mnode, bool) {
	fs.pathsMu.RLock()
	defer fs.pathsMu.RUnlock()
	m, ok := fs.paths[path]
	return m, ok
}

// FileInfo reports {fsize, ftype} for mnode; a directory always
// reports size 0.
func (fs *MlnrFS) FileInfo(mnode Mnode) (FileInfo, error) {
	n, err := fs.get(mnode)
	if err != nil {
		return FileInfo{}, err
	}
	if n.kind == FTypeDirectory {
		return FileInfo{Size: 0, FType: FTypeDirectory}, nil
	}
	return FileInfo{Size: uint64(n.body.Size()), FType: FTypeFile}, nil
}

// OpenRef increments mnode's open-reference counter, called by
// FileOpen once it has decided to bind an fd to this mnode.
func (fs *MlnrFS) OpenRef(mnode Mnode) error {
	n, err := fs.get(mnode)
	if err != nil {
		return err
	}
	n.openRefs.Add(1)
	return nil
}

// CloseRef decrements mnode's open-reference counter, called by
// FileClose.
func (fs *MlnrFS) CloseRef(mnode Mnode) error {
	n, err := fs.get(mnode)
	if err != nil {
		return err
	}
	n.openRefs.Add(-1)
	return nil
}

// Delete removes path from the registry. If the bound mnode's
// open-reference count is zero after the path is removed, the mnode
// is reclaimed and Delete returns true. Otherwise the path binding is
// restored and Delete fails with PermissionError — deleting a file
// some fd still has open is forbidden.
func (fs *MlnrFS) Delete(path string) (bool, error) {
	fs.pathsMu.Lock()
	defer fs.pathsMu.Unlock()

	m, ok := fs.paths[path]
	if !ok {
		return false, kerrors.New(kerrors.InvalidFile)
	}
	delete(fs.paths, path)

	n, err := fs.get(m)
	if err != nil {
		return false, err
	}
	if n.openRefs.Load() == 0 {
		fs.nodesMu.Lock()
		delete(fs.nodes, m)
		fs.nodesMu.Unlock()
		return true, nil
	}

	fs.paths[path] = m
	return false, kerrors.New(kerrors.PermissionError)
}

// Rename moves path's binding from old to new. Neither truncate nor
// rename is implemented in the source this registry is ported from;
// rename is given a conservative reading here (AlreadyPresent if new
// exists, InvalidFile if old is missing) since nothing in the source
// specifies a permission model for it beyond that.
func (fs *MlnrFS) Rename(old, new string) (bool, error) {
	fs.pathsMu.Lock()
	defer fs.pathsMu.Unlock()

	if _, exists := fs.paths[new]; exists {
		return false, kerrors.New(kerrors.AlreadyPresent)
	}
	m, ok := fs.paths[old]
	if !ok {
		return false, kerrors.New(kerrors.InvalidFile)
	}
	delete(fs.paths, old)
	fs.paths[new] = m
	return true, nil
}

// Truncate resets path's file content to empty. Like Rename, the
// source leaves this unimplemented; here it simply resizes the body
// to zero, matching delete's data model without inventing new
// permission checks the source gives no basis for.
func (fs *MlnrFS) Truncate(path string) error {
	fs.pathsMu.RLock()
	m, ok := fs.paths[path]
	fs.pathsMu.RUnlock()
	if !ok {
		return kerrors.New(kerrors.InvalidFile)
	}
	n, err := fs.get(m)
	if err != nil {
		return err
	}
	if n.kind != FTypeFile {
		return kerrors.New(kerrors.InvalidFile)
	}
	n.body.Resize(0)
	return nil
}
