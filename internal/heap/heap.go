package heap

import (
	"sync"

	"github.com/nros-project/corekernel/internal/mm"
)

// Ptr is the heap front-end's allocation handle: a Frame plus a
// byte offset within it. The zero value (Frame.IsEmpty() true) is the
// null pointer returned whenever an allocation cannot be satisfied —
// before the per-core context is installed, or when the physical tier
// itself is exhausted. The front-end never panics on an allocation
// failure; callers must check IsNull.
type Ptr struct {
	Frame  mm.Frame
	Offset uint64
}

// Null is the sentinel "allocation failed" pointer.
func Null() Ptr { return Ptr{Frame: mm.Empty()} }

// IsNull reports whether p is the null sentinel.
func (p Ptr) IsNull() bool { return p.Frame.IsEmpty() }

// CoreContext bundles one core's slab zones and the physical
// allocator + byte-view it refills from. The heap front-end has no
// state of its own (per spec §4.D); every allocation call reads one of
// these out of the process-wide registry below.
type CoreContext struct {
	Provider mm.PhysicalPageProvider
	BytesOf  func(mm.Frame) []byte

	mu    sync.Mutex
	zones map[uint64]*SlabZone
}

// NewCoreContext builds a CoreContext over prov, using bytesOf to
// resolve a Frame to its backing bytes for zeroing freshly carved slab
// pages.
func NewCoreContext(prov mm.PhysicalPageProvider, bytesOf func(mm.Frame) []byte) *CoreContext {
	return &CoreContext{Provider: prov, BytesOf: bytesOf, zones: make(map[uint64]*SlabZone)}
}

func (c *CoreContext) zoneFor(class uint64) *SlabZone {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.zones[class]
	if !ok {
		z = newSlabZone(class)
		c.zones[class] = z
	}
	return z
}

// registry is the process-wide per-core context table the design
// notes call for: implementers should prefer passing context
// explicitly, reserving this global path for call sites the host
// allocator interface (Go's own runtime allocator, which this front
// end sits beside rather than replaces) gives no parameter to thread
// a context through.
var registry sync.Map // map[int]*CoreContext

// InstallCore registers ctx as the allocation context for coreID. Must
// be called before any Alloc/Free targeting that core; Alloc returns
// the null Ptr for any core without an installed context.
func InstallCore(coreID int, ctx *CoreContext) {
	registry.Store(coreID, ctx)
}

// UninstallCore removes coreID's context, for test teardown and core
// shutdown.
func UninstallCore(coreID int) {
	registry.Delete(coreID)
}

func contextFor(coreID int) *CoreContext {
	v, ok := registry.Load(coreID)
	if !ok {
		return nil
	}
	return v.(*CoreContext)
}

// Alloc dispatches a (size, align) request per the front-end's
// decision tree:
//
//  1. size <= MaxAllocSize && size != BasePageSize: slab zone, sized
//     up to the next size class, refilling from the physical tier on
//     exhaustion.
//  2. size == BasePageSize: a direct base page.
//  3. size <= LargePageSize: a direct large page.
//  4. size > LargePageSize: unreachable — callers must not request a
//     single contiguous allocation larger than one large page.
//
// align only affects slab-routed requests, where a larger align picks
// the size class from align instead of size (callers asking for
// natural alignment of a size class need nothing extra). The direct
// page paths ignore align, and no align value is rejected; only a size
// above one large page panics.
func Alloc(coreID int, size, align uint64) Ptr {
	if size > mm.LargePageSize {
		panic("heap: allocation request exceeds one large page")
	}
	ctx := contextFor(coreID)
	if ctx == nil {
		return Null()
	}

	switch {
	case size <= MaxAllocSize && size != mm.BasePageSize:
		class := roundToSizeClass(size)
		if align > class {
			class = roundToSizeClass(align)
		}
		zone := ctx.zoneFor(class)
		f, off, err := zone.Alloc(ctx.Provider, ctx.BytesOf)
		if err != nil {
			return Null()
		}
		return Ptr{Frame: f, Offset: off}
	case size == mm.BasePageSize:
		f, err := ctx.Provider.AllocateBasePage()
		if err != nil {
			return Null()
		}
		f.Zero(ctx.BytesOf(f))
		return Ptr{Frame: f}
	default:
		f, err := ctx.Provider.AllocateLargePage()
		if err != nil {
			return Null()
		}
		f.Zero(ctx.BytesOf(f))
		return Ptr{Frame: f}
	}
}

// Free mirrors Alloc's dispatch for the matching (size, align) the
// pointer was allocated with.
func Free(coreID int, p Ptr, size, align uint64) {
	if p.IsNull() {
		return
	}
	ctx := contextFor(coreID)
	if ctx == nil {
		return
	}
	switch {
	case size <= MaxAllocSize && size != mm.BasePageSize:
		class := roundToSizeClass(size)
		if align > class {
			class = roundToSizeClass(align)
		}
		ctx.zoneFor(class).Free(p.Frame, p.Offset)
	case size == mm.BasePageSize:
		_ = ctx.Provider.ReleaseBasePage(p.Frame)
	default:
		_ = ctx.Provider.ReleaseLargePage(p.Frame)
	}
}
