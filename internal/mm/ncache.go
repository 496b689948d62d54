package mm

import (
	"sync"

	"modernc.org/memory"

	"github.com/nros-project/corekernel/internal/kerrors"
)

// PhysicalPageProvider is the allocate/release contract consumed by
// the heap front-end and VSpace (spec §6's physical memory allocator
// contract).
type PhysicalPageProvider interface {
	AllocateBasePage() (Frame, error)
	ReleaseBasePage(Frame) error
	AllocateLargePage() (Frame, error)
	ReleaseLargePage(Frame) error
}

// GrowBackend accepts frames handed back by a higher layer and
// reports how many more it could currently absorb.
type GrowBackend interface {
	BasePageCapacity() int
	GrowBasePages(freeList []Frame) error
	LargePageCapacity() int
	GrowLargePages(freeList []Frame) error
}

// ReapBackend drains frames out of a cache into caller-provided slots.
// Unfilled slots are left as the zero Frame (IsEmpty); the caller
// counts non-empty entries, mirroring the source's Option<Frame> slice
// convention.
type ReapBackend interface {
	ReapBasePages(freeList []Frame) int
	ReapLargePages(freeList []Frame) int
}

// AllocatorStatistics reports capacity accounting. free = size -
// allocated always holds; capacity >= free + allocated always holds.
type AllocatorStatistics interface {
	Free() uint64
	Allocated() uint64
	Size() uint64
	Capacity() uint64
	InternalFragmentation() uint64
}

// cachePadLine is the assumed cache-line size used to pad each node's
// mutex-protected state onto its own line, so two nodes never
// false-share.
const cachePadLine = 64

// NCache is a per-NUMA-node bounded-stack cache of base- and
// large-page frames, sitting behind a single mutex. A frame in the
// large stack is always large-page-aligned and sized exactly one
// large page; analogously for the base stack.
type NCache struct {
	node NodeID

	// arena is the flat byte region this node's frames address into,
	// obtained once from a modernc.org/memory.Allocator at
	// construction time so Frame.Base offsets have real backing
	// storage for Zero() and VSpace content.
	alloc *memory.Allocator
	arena []byte

	mu         sync.Mutex
	_          [cachePadLine]byte // padding so mu's cache line doesn't share with neighbors
	baseStack  []Frame
	largeStack []Frame
	baseCap    int
	largeCap   int

	allocatedBase  uint64
	allocatedLarge uint64
	totalSize      uint64
}

// NewNCache builds an empty-but-provisioned NCache for node, backed by
// a freshly calloc'd arena of arenaSize bytes, with room for baseCap
// base-page frames and largeCap large-page frames in its stacks.
func NewNCache(node NodeID, arenaSize uint64, baseCap, largeCap int) (*NCache, error) {
	a := &memory.Allocator{}
	arena, err := a.Calloc(int(arenaSize))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.OutOfMemory, err)
	}
	return &NCache{
		node:       node,
		alloc:      a,
		arena:      arena,
		baseStack:  make([]Frame, 0, baseCap),
		largeStack: make([]Frame, 0, largeCap),
		baseCap:    baseCap,
		largeCap:   largeCap,
		totalSize:  arenaSize,
	}, nil
}

// Arena returns the byte region backing this node's frames, for use
// with Frame.Zero and VSpace content views.
func (c *NCache) Arena() []byte { return c.arena }

// Populate seeds the cache's stacks with a raw frame carved out of the
// region handed to GlobalMemory at boot, splitting it into base and
// large pages as capacity allows. The part of f below its first
// large-page boundary, and any tail shorter than a large page, become
// base pages; frames that fit in neither stack are not kept.
func (c *NCache) Populate(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	head, rem := Empty(), f
	if !rem.IsLargePageAligned() {
		head, rem = rem.SplitAtNearestLargePageBoundary()
	}
	for !rem.IsEmpty() && rem.IsLargePageAligned() && rem.Size >= LargePageSize && len(c.largeStack) < c.largeCap {
		var page Frame
		page, rem = rem.SplitAt(LargePageSize)
		c.largeStack = append(c.largeStack, page)
	}
	for _, page := range append(head.IntoBasePages(), rem.IntoBasePages()...) {
		if len(c.baseStack) >= c.baseCap {
			break
		}
		c.baseStack = append(c.baseStack, page)
	}
}

// AllocateBasePage implements PhysicalPageProvider. Refusal policy: an
// empty base stack fails with CacheExhausted rather than carving a
// large page to cover the miss.
func (c *NCache) AllocateBasePage() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.baseStack)
	if n == 0 {
		return Empty(), kerrors.New(kerrors.CacheExhausted)
	}
	f := c.baseStack[n-1]
	c.baseStack = c.baseStack[:n-1]
	c.allocatedBase += f.Size
	return f, nil
}

// ReleaseBasePage implements PhysicalPageProvider.
func (c *NCache) ReleaseBasePage(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.baseStack) >= c.baseCap {
		return kerrors.New(kerrors.CacheFull)
	}
	c.baseStack = append(c.baseStack, f)
	c.allocatedBase -= f.Size
	return nil
}

// AllocateLargePage implements PhysicalPageProvider.
func (c *NCache) AllocateLargePage() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.largeStack)
	if n == 0 {
		return Empty(), kerrors.New(kerrors.CacheExhausted)
	}
	f := c.largeStack[n-1]
	c.largeStack = c.largeStack[:n-1]
	c.allocatedLarge += f.Size
	return f, nil
}

// ReleaseLargePage implements PhysicalPageProvider.
func (c *NCache) ReleaseLargePage(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.largeStack) >= c.largeCap {
		return kerrors.New(kerrors.CacheFull)
	}
	c.largeStack = append(c.largeStack, f)
	c.allocatedLarge -= f.Size
	return nil
}

// BasePageCapacity implements GrowBackend.
func (c *NCache) BasePageCapacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseCap - len(c.baseStack)
}

// GrowBasePages implements GrowBackend: fills contiguously until
// internal capacity, reporting surplus via CantGrowFurther{count}.
func (c *NCache) GrowBasePages(freeList []Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	accepted := 0
	for _, f := range freeList {
		if len(c.baseStack) >= c.baseCap {
			break
		}
		c.baseStack = append(c.baseStack, f)
		accepted++
	}
	if surplus := len(freeList) - accepted; surplus > 0 {
		return kerrors.CantGrow(surplus)
	}
	return nil
}

// LargePageCapacity implements GrowBackend.
func (c *NCache) LargePageCapacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.largeCap - len(c.largeStack)
}

// GrowLargePages implements GrowBackend.
func (c *NCache) GrowLargePages(freeList []Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	accepted := 0
	for _, f := range freeList {
		if len(c.largeStack) >= c.largeCap {
			break
		}
		c.largeStack = append(c.largeStack, f)
		accepted++
	}
	if surplus := len(freeList) - accepted; surplus > 0 {
		return kerrors.CantGrow(surplus)
	}
	return nil
}

// ReapBasePages implements ReapBackend, draining up to len(freeList)
// base-page frames from the stack's bottom (oldest first, leaving the
// hottest frames in place) and returning the count drained.
func (c *NCache) ReapBasePages(freeList []Frame) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for n < len(freeList) && len(c.baseStack) > 0 {
		freeList[n] = c.baseStack[0]
		c.baseStack = c.baseStack[1:]
		n++
	}
	return n
}

// ReapLargePages implements ReapBackend.
func (c *NCache) ReapLargePages(freeList []Frame) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for n < len(freeList) && len(c.largeStack) > 0 {
		freeList[n] = c.largeStack[0]
		c.largeStack = c.largeStack[1:]
		n++
	}
	return n
}

// Free implements AllocatorStatistics.
func (c *NCache) Free() uint64 { return c.Size() - c.Allocated() }

// Allocated implements AllocatorStatistics.
func (c *NCache) Allocated() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocatedBase + c.allocatedLarge
}

// Size implements AllocatorStatistics.
func (c *NCache) Size() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

// Capacity implements AllocatorStatistics. This NCache has a fixed
// arena, so capacity equals size.
func (c *NCache) Capacity() uint64 { return c.Size() }

// InternalFragmentation implements AllocatorStatistics. This cache
// never carves a partial page, so there is no internal fragmentation
// to report.
func (c *NCache) InternalFragmentation() uint64 { return 0 }
