// Package mm implements the physical memory model: Frame, the
// per-NUMA-node NCache, and the per-core TCache. Every tier-to-tier
// transfer is a Frame move — split is the one primitive everything
// else composes from.
//
// What: a NUMA-aware, two-tier physical page allocator (NCache backed
// by a flat byte arena via modernc.org/memory, TCache as a lock-free
// per-core front).
// How: bounded stacks of base- and large-page Frames, grown and
// reaped in batches, guarded by a single mutex per node.
// Why: the kernel heap and VSpace both need a source of physical pages
// that never blocks longer than a stack push/pop and that respects
// NUMA locality.
package mm

import (
	"fmt"

	"github.com/nros-project/corekernel/internal/kerrors"
)

const (
	// BasePageSize is the base (4 KiB) page-size class.
	BasePageSize = 4096
	// LargePageSize is the large (2 MiB) page-size class.
	LargePageSize = 2 * 1024 * 1024

	// MaxPhysicalRegions bounds the number of disjoint physical
	// regions GlobalMemory can be constructed from.
	MaxPhysicalRegions = 64
	// AffinityRegions bounds the number of NUMA nodes supported.
	AffinityRegions = 16
)

// NodeID identifies a NUMA node.
type NodeID uint8

// PAddr is a physical address, modeled as a byte offset into the
// arena backing its NUMA node's frames (see ncache.go).
type PAddr uint64

// Frame is an owned, exclusive physical memory block: the triple
// (base, size, affinity). Transfers between tiers are moves — the
// caller that releases a Frame gives up any further use of it.
//
// The zero value is the empty frame; Empty() returns it.
type Frame struct {
	Base     PAddr
	Size     uint64
	Affinity NodeID
}

// Empty returns the sentinel empty frame (size 0), which never
// overlaps any other frame.
func Empty() Frame {
	return Frame{Base: 0, Size: 0, Affinity: 0}
}

// IsEmpty reports whether f is the empty sentinel.
func (f Frame) IsEmpty() bool {
	return f.Size == 0
}

// NewFrame constructs a Frame, panicking if base or size is not a
// multiple of BasePageSize — misalignment is a programming error in
// every caller of this constructor, never a runtime condition to
// recover from.
func NewFrame(base PAddr, size uint64, node NodeID) Frame {
	if uint64(base)%BasePageSize != 0 {
		panic(fmt.Sprintf("mm: frame base %#x not base-page aligned", base))
	}
	if size%BasePageSize != 0 {
		panic(fmt.Sprintf("mm: frame size %#x not a multiple of base page size", size))
	}
	return Frame{Base: base, Size: size, Affinity: node}
}

// FrameFromRange constructs a Frame covering [from, to), asserting
// both endpoints are base-page aligned and from < to.
func FrameFromRange(from, to PAddr, node NodeID) Frame {
	if from >= to {
		panic("mm: frame range from must be < to")
	}
	return NewFrame(from, uint64(to-from), node)
}

// BasePages returns the number of base pages this frame spans.
func (f Frame) BasePages() uint64 {
	return f.Size / BasePageSize
}

// End returns the address one past the frame's last byte.
func (f Frame) End() PAddr {
	return f.Base + PAddr(f.Size)
}

// IsLargePageAligned reports whether the frame's base is aligned to
// the large-page size.
func (f Frame) IsLargePageAligned() bool {
	return uint64(f.Base)%LargePageSize == 0
}

// SplitAt splits f into (low, high) where low has the given size and
// high holds the remainder. size must be a multiple of BasePageSize.
// If size >= f.Size, high is the empty frame and low is f unchanged.
func (f Frame) SplitAt(size uint64) (low, high Frame) {
	if size%BasePageSize != 0 {
		panic("mm: split size must be a multiple of the base page size")
	}
	if size >= f.Size {
		return f, Empty()
	}
	low = NewFrame(f.Base, size, f.Affinity)
	high = NewFrame(f.Base+PAddr(size), f.Size-size, f.Affinity)
	return low, high
}

// SplitAtNearestLargePageBoundary splits f at the first large-page
// boundary at or above f.Base. If f.Base is already large-page
// aligned, low is empty and high is f unchanged.
func (f Frame) SplitAtNearestLargePageBoundary() (low, high Frame) {
	if f.IsLargePageAligned() {
		return Empty(), f
	}
	newHighBase := roundUp(uint64(f.Base), LargePageSize)
	splitAt := newHighBase - uint64(f.Base)
	return f.SplitAt(splitAt)
}

func roundUp(v, multiple uint64) uint64 {
	if multiple == 0 {
		return v
	}
	rem := v % multiple
	if rem == 0 {
		return v
	}
	return v + (multiple - rem)
}

// IntoBasePages returns the exactly f.Size/BasePageSize base-page
// frames covering [f.Base, f.Base+f.Size) in order, with no gaps or
// overlaps.
func (f Frame) IntoBasePages() []Frame {
	if f.IsEmpty() {
		return nil
	}
	n := int(f.BasePages())
	pages := make([]Frame, 0, n)
	cur := f
	for cur.Size > BasePageSize {
		var page Frame
		page, cur = cur.SplitAt(BasePageSize)
		pages = append(pages, page)
	}
	if cur.Size == BasePageSize {
		pages = append(pages, cur)
	}
	return pages
}

// Zero fills the in-memory backing of f with zero bytes. Backing is
// provided by the caller's arena view (see ncache.go's Arena method);
// Frame itself carries no pointer to memory, only an address and size,
// matching the "Frame is a value, not a pointer" invariant from the
// source this is modeled on.
func (f Frame) Zero(arena []byte) {
	if f.IsEmpty() {
		return
	}
	clear(arena[f.Base : f.Base+PAddr(f.Size)])
}

// DataSize formats a byte count the way the source's DataSize enum
// does: the largest whole unit (GiB/MiB/KiB/B) that doesn't lose the
// leading digit.
func DataSize(bytes uint64) string {
	const (
		kib = 1024
		mib = 1024 * kib
		gib = 1024 * mib
	)
	switch {
	case bytes >= gib:
		return fmt.Sprintf("%.2f GiB", float64(bytes)/gib)
	case bytes >= mib:
		return fmt.Sprintf("%.2f MiB", float64(bytes)/mib)
	case bytes >= kib:
		return fmt.Sprintf("%.2f KiB", float64(bytes)/kib)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame { %#x -- %#x (size = %s, pages = %d, node#%d) }",
		f.Base, f.End(), DataSize(f.Size), f.BasePages(), f.Affinity)
}

// AllocationError kinds, mirrored onto kerrors.Kind for this package's
// callers; kept as named constructors so call sites read the same as
// the source's custom_error! variants.
func ErrOutOfMemory() error      { return kerrors.New(kerrors.OutOfMemory) }
func ErrCacheExhausted() error   { return kerrors.New(kerrors.CacheExhausted) }
func ErrCacheFull() error        { return kerrors.New(kerrors.CacheFull) }
func ErrCantGrow(n int) error    { return kerrors.CantGrow(n) }
