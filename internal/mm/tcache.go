package mm

import "github.com/nros-project/corekernel/internal/kerrors"

// tcacheCapacity is the small fixed per-class capacity of a TCache.
// Intended to be core-exclusive: TCache carries no lock, and
// cross-core access to the same instance is undefined behavior.
const tcacheCapacity = 16

// refillBatch is how many frames a miss pulls from the node cache (and
// how many a full push drains back to it) in one go, so a TCache miss
// doesn't degenerate into a single-frame round trip to NCache on every
// subsequent allocation.
const refillBatch = 8

// earlyTCacheBasePages and earlyTCacheLargePages size the bootstrap
// TCache carved directly from initial memory before any NCache exists:
// 2*LargePageSize + 64*BasePageSize per node.
const (
	earlyTCacheLargePages = 2
	earlyTCacheBasePages  = 64
)

// EarlyTCacheSize is the byte size of the slice of initial memory each
// node's bootstrap TCache is carved from.
const EarlyTCacheSize = earlyTCacheLargePages*LargePageSize + earlyTCacheBasePages*BasePageSize

// TCache is a per-core front cache for an NCache. It holds no lock by
// design; callers must ensure single-core ownership.
type TCache struct {
	node  NodeID
	back  *NCache // nil for an early, not-yet-attached TCache
	base  []Frame
	large []Frame
}

// NewTCache builds an empty TCache backed by back, for allocation
// requests originating on a core with the given NUMA affinity.
func NewTCache(node NodeID, back *NCache) *TCache {
	return &TCache{
		node:  node,
		back:  back,
		base:  make([]Frame, 0, tcacheCapacity),
		large: make([]Frame, 0, tcacheCapacity),
	}
}

// NewEarlyTCache bootstraps a TCache directly from a carved Frame of
// exactly EarlyTCacheSize bytes, before any NCache exists for this
// node. It has no back-end: once exhausted it reports CacheExhausted
// rather than refilling, until Attach is called.
func NewEarlyTCache(node NodeID, seed Frame) *TCache {
	t := &TCache{
		node:  node,
		base:  make([]Frame, 0, tcacheCapacity),
		large: make([]Frame, 0, tcacheCapacity),
	}
	rem := seed
	for i := 0; i < earlyTCacheLargePages && rem.Size >= LargePageSize; i++ {
		var page Frame
		page, rem = rem.SplitAt(LargePageSize)
		t.large = append(t.large, page)
	}
	for _, page := range rem.IntoBasePages() {
		if len(t.base) >= earlyTCacheBasePages {
			break
		}
		t.base = append(t.base, page)
	}
	return t
}

// Attach wires a not-yet-backed early TCache to its node's NCache once
// one has been constructed, so subsequent misses can refill.
func (t *TCache) Attach(back *NCache) { t.back = back }

// AllocateBasePage implements PhysicalPageProvider: try the local
// cache first, refilling a batch from the node cache on miss.
func (t *TCache) AllocateBasePage() (Frame, error) {
	if len(t.base) == 0 {
		if err := t.refillBase(); err != nil {
			return Empty(), err
		}
	}
	n := len(t.base)
	f := t.base[n-1]
	t.base = t.base[:n-1]
	return f, nil
}

// ReleaseBasePage implements PhysicalPageProvider: push locally until
// full, then drain a batch back to the node cache.
func (t *TCache) ReleaseBasePage(f Frame) error {
	if len(t.base) >= tcacheCapacity {
		if err := t.drainBase(); err != nil {
			return err
		}
	}
	t.base = append(t.base, f)
	return nil
}

// AllocateLargePage implements PhysicalPageProvider.
func (t *TCache) AllocateLargePage() (Frame, error) {
	if len(t.large) == 0 {
		if err := t.refillLarge(); err != nil {
			return Empty(), err
		}
	}
	n := len(t.large)
	f := t.large[n-1]
	t.large = t.large[:n-1]
	return f, nil
}

// ReleaseLargePage implements PhysicalPageProvider.
func (t *TCache) ReleaseLargePage(f Frame) error {
	if len(t.large) >= tcacheCapacity {
		if err := t.drainLarge(); err != nil {
			return err
		}
	}
	t.large = append(t.large, f)
	return nil
}

func (t *TCache) refillBase() error {
	if t.back == nil {
		return kerrors.New(kerrors.CacheExhausted)
	}
	for i := 0; i < refillBatch; i++ {
		f, err := t.back.AllocateBasePage()
		if err != nil {
			if i == 0 {
				return err
			}
			break
		}
		t.base = append(t.base, f)
	}
	return nil
}

func (t *TCache) refillLarge() error {
	if t.back == nil {
		return kerrors.New(kerrors.CacheExhausted)
	}
	for i := 0; i < refillBatch; i++ {
		f, err := t.back.AllocateLargePage()
		if err != nil {
			if i == 0 {
				return err
			}
			break
		}
		t.large = append(t.large, f)
	}
	return nil
}

func (t *TCache) drainBase() error {
	if t.back == nil {
		return kerrors.New(kerrors.CacheFull)
	}
	n := refillBatch
	if n > len(t.base) {
		n = len(t.base)
	}
	for i := 0; i < n; i++ {
		last := len(t.base) - 1
		if err := t.back.ReleaseBasePage(t.base[last]); err != nil {
			return err
		}
		t.base = t.base[:last]
	}
	return nil
}

func (t *TCache) drainLarge() error {
	if t.back == nil {
		return kerrors.New(kerrors.CacheFull)
	}
	n := refillBatch
	if n > len(t.large) {
		n = len(t.large)
	}
	for i := 0; i < n; i++ {
		last := len(t.large) - 1
		if err := t.back.ReleaseLargePage(t.large[last]); err != nil {
			return err
		}
		t.large = t.large[:last]
	}
	return nil
}
