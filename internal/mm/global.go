package mm

import (
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/sys/unix"
)

// GlobalMemory owns one NCache and one early (bootstrap) TCache per
// NUMA node. It is constructed once at boot from the raw physical
// regions the platform reports, grounded on the source's
// GlobalMemory::new: each node's early TCache is carved from a
// large-page-aligned slice of its own region before the node's NCache
// exists, and every remaining frame (including split leftovers) is
// then populated into that node's NCache.
type GlobalMemory struct {
	nodes       int
	earlyCaches []*TCache
	nodeCaches  []*NCache
}

// NewGlobalMemory builds a GlobalMemory from regions, one Frame per
// disjoint physical region reported at boot (up to
// MaxPhysicalRegions). baseStackCap and largeStackCap bound each
// node's NCache stack capacities.
func NewGlobalMemory(regions []Frame, baseStackCap, largeStackCap int) (*GlobalMemory, error) {
	if len(regions) > MaxPhysicalRegions {
		panic("mm: too many physical regions")
	}
	maxAffinity := 0
	for _, r := range regions {
		if int(r.Affinity) >= maxAffinity {
			maxAffinity = int(r.Affinity) + 1
		}
	}
	if maxAffinity == 0 {
		maxAffinity = 1
	}
	if maxAffinity > AffinityRegions {
		panic("mm: too many NUMA nodes")
	}

	gm := &GlobalMemory{
		nodes:       maxAffinity,
		earlyCaches: make([]*TCache, maxAffinity),
		nodeCaches:  make([]*NCache, maxAffinity),
	}

	leftovers := make([][]Frame, maxAffinity)
	carved := make([]Frame, maxAffinity)
	haveCarved := make([]bool, maxAffinity)

	for _, r := range regions {
		node := int(r.Affinity)
		if haveCarved[node] {
			leftovers[node] = append(leftovers[node], r)
			continue
		}
		low, aligned := r.SplitAtNearestLargePageBoundary()
		if !low.IsEmpty() {
			leftovers[node] = append(leftovers[node], low)
		}
		seed, rest := aligned.SplitAt(EarlyTCacheSize)
		carved[node] = seed
		haveCarved[node] = true
		if !rest.IsEmpty() {
			leftovers[node] = append(leftovers[node], rest)
		}
	}

	for node := 0; node < maxAffinity; node++ {
		if !haveCarved[node] {
			continue
		}

		nodeSize := carved[node].Size
		for _, f := range leftovers[node] {
			nodeSize += f.Size
		}
		if nodeSize == 0 {
			nodeSize = BasePageSize
		}
		nc, err := NewNCache(NodeID(node), nodeSize, baseStackCap, largeStackCap)
		if err != nil {
			return nil, err
		}
		gm.nodeCaches[node] = nc

		// Every frame carved for this node — the early-TCache seed
		// first, then each leftover region in turn — is rebased onto
		// one 0-based coordinate space sized to nodeSize, so
		// Frame.Base always lands inside this node's own NCache
		// arena (see BootConfig.Regions's documented invariant)
		// instead of keeping an address relative to the physical
		// region it was originally carved from.
		cursor := PAddr(0)
		seed := NewFrame(cursor, carved[node].Size, NodeID(node))
		cursor += PAddr(carved[node].Size)
		gm.earlyCaches[node] = NewEarlyTCache(NodeID(node), seed)

		for _, f := range leftovers[node] {
			rebased := NewFrame(cursor, f.Size, NodeID(node))
			cursor += PAddr(f.Size)
			nc.Populate(rebased)
		}
		gm.earlyCaches[node].Attach(nc)
	}

	return gm, nil
}

// Bytes resolves a Frame to the backing byte slice it addresses,
// drawn from its node's arena. Panics if the frame's node has no
// arena (never populated) — a caller holding a valid Frame for node N
// implies N's NCache exists.
func (gm *GlobalMemory) Bytes(f Frame) []byte {
	nc := gm.NodeCache(f.Affinity)
	if nc == nil {
		panic("mm: frame references a node with no arena")
	}
	return nc.Arena()[f.Base:f.End()]
}

// NodeCache returns the NCache for node, or nil if node is out of
// range or was never carved a region.
func (gm *GlobalMemory) NodeCache(node NodeID) *NCache {
	if int(node) >= len(gm.nodeCaches) {
		return nil
	}
	return gm.nodeCaches[node]
}

// EarlyCache returns the bootstrap TCache for node.
func (gm *GlobalMemory) EarlyCache(node NodeID) *TCache {
	if int(node) >= len(gm.earlyCaches) {
		return nil
	}
	return gm.earlyCaches[node]
}

// Nodes returns the number of NUMA nodes this GlobalMemory was built
// with.
func (gm *GlobalMemory) Nodes() int { return gm.nodes }

// NonEmptyNodes returns the node IDs that were actually carved a
// region (as opposed to slots reserved by AffinityRegions but never
// populated).
func (gm *GlobalMemory) NonEmptyNodes() []NodeID {
	return lo.FilterMap(gm.nodeCaches, func(nc *NCache, i int) (NodeID, bool) {
		return NodeID(i), nc != nil
	})
}

// CheckHostPageSize logs (via the returned error, if mismatched) a
// sanity check between this simulator's BasePageSize and the host
// kernel's real page size, grounded on the source's reliance on a
// target-specific PAGE_SIZE constant — here confirmed at boot instead
// of assumed at compile time.
func CheckHostPageSize() error {
	hostSize := unix.Getpagesize()
	if hostSize != BasePageSize {
		return fmt.Errorf("mm: host page size %d does not match simulated base page size %d", hostSize, BasePageSize)
	}
	return nil
}
