package vspace

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nros-project/corekernel/internal/kerrors"
	"github.com/nros-project/corekernel/internal/mm"
)

// TlbFlushHandle describes a virtual range that was just unmapped and
// therefore may still be cached in some core's TLB. The caller — not
// this package — is responsible for issuing the shootdown before the
// underlying frames are reused.
type TlbFlushHandle struct {
	ID    uuid.UUID
	Base  VAddr
	Size  uint64
	Cores []int
}

// VSpace is a 4-level page table address space: PML4 -> PDPT -> PD ->
// PT. It owns its root table and every intermediate table it
// allocates; none of them are freed until the VSpace itself is
// dropped. Every operation holds the VSpace's own mutex for its whole
// duration, so concurrent calls are serialized against each other.
type VSpace struct {
	node     mm.NodeID
	provider mm.PhysicalPageProvider
	bytesOf  func(mm.Frame) []byte

	mu   sync.Mutex
	pml4 *pageTable
}

// New constructs an empty VSpace whose intermediate tables are
// allocated from provider (which must hand out frames on node), with
// bytesOf resolving a Frame to its backing bytes.
func New(node mm.NodeID, provider mm.PhysicalPageProvider, bytesOf func(mm.Frame) []byte) (*VSpace, error) {
	root, err := provider.AllocateBasePage()
	if err != nil {
		return nil, err
	}
	root.Zero(bytesOf(root))
	return &VSpace{
		node:     node,
		provider: provider,
		bytesOf:  bytesOf,
		pml4:     newPageTableView(root, bytesOf(root)),
	}, nil
}

// tableFrame reconstructs a fully affinity-qualified Frame for a
// stored table-pointer address. Every intermediate table in this
// VSpace was allocated from the same node-local provider, so the
// address alone (plus the known node) is enough to dereference it.
func (v *VSpace) tableFrame(addr uint64) mm.Frame {
	return mm.Frame{Base: mm.PAddr(addr), Size: mm.BasePageSize, Affinity: v.node}
}

func (v *VSpace) tableAt(parent *pageTable, i int) (*pageTable, error) {
	if !parent.present(i) {
		f, err := v.provider.AllocateBasePage()
		if err != nil {
			return nil, err
		}
		f.Zero(v.bytesOf(f))
		parent.setTablePointer(i, uint64(f.Base))
		return newPageTableView(f, v.bytesOf(f)), nil
	}
	f := v.tableFrame(parent.addr(i))
	return newPageTableView(f, v.bytesOf(f)), nil
}

func (v *VSpace) tableAtIfPresent(parent *pageTable, i int) (*pageTable, bool) {
	if !parent.present(i) {
		return nil, false
	}
	f := v.tableFrame(parent.addr(i))
	return newPageTableView(f, v.bytesOf(f)), true
}

// MapFrame installs present leaf entries for every base page of frame
// starting at vbase, allocating intermediate tables on demand. A
// 2 MiB-aligned, 2 MiB-sized frame collapses into a single PD entry
// with the large-page bit instead of walking to the PT level;
// anything else maps base page by base page. If any contained leaf is
// already present, MapFrame fails with AlreadyMapped and leaves
// already-installed entries from this call in place (callers are
// expected to treat a failed MapFrame as fatal to the whole request,
// mirroring the source's all-or-nothing framing).
func (v *VSpace) MapFrame(vbase VAddr, frame mm.Frame, action MapAction) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if frame.Size == mm.LargePageSize && uint64(vbase)%mm.LargePageSize == 0 && frame.IsLargePageAligned() {
		return v.mapLarge(vbase, frame, action)
	}

	cur := vbase
	for _, page := range frame.IntoBasePages() {
		if err := v.mapBasePage(cur, page, action); err != nil {
			return err
		}
		cur += VAddr(mm.BasePageSize)
	}
	return nil
}

func (v *VSpace) mapBasePage(vaddr VAddr, frame mm.Frame, action MapAction) error {
	i4, i3, i2, i1 := indices(vaddr)
	pdpt, err := v.tableAt(v.pml4, i4)
	if err != nil {
		return err
	}
	pd, err := v.tableAt(pdpt, i3)
	if err != nil {
		return err
	}
	if pd.present(i2) && pd.flags(i2)&flagLargePage != 0 {
		return kerrors.New(kerrors.AlreadyMapped)
	}
	pt, err := v.tableAt(pd, i2)
	if err != nil {
		return err
	}
	if pt.present(i1) {
		return kerrors.New(kerrors.AlreadyMapped)
	}
	pt.setLeaf(i1, uint64(frame.Base), action, false)
	return nil
}

func (v *VSpace) mapLarge(vaddr VAddr, frame mm.Frame, action MapAction) error {
	i4, i3, i2, _ := indices(vaddr)
	pdpt, err := v.tableAt(v.pml4, i4)
	if err != nil {
		return err
	}
	pd, err := v.tableAt(pdpt, i3)
	if err != nil {
		return err
	}
	if pd.present(i2) {
		return kerrors.New(kerrors.AlreadyMapped)
	}
	pd.setLeaf(i2, uint64(frame.Base), action, true)
	return nil
}

// MapFrameShared mirrors MapFrame exactly, except the installed leaf
// entries carry the shared-mapping bit instead of an exclusive one:
// the frame may later be mapped into more than one VSpace at once.
// Declassify is the only operation that clears the bit this call sets.
func (v *VSpace) MapFrameShared(vbase VAddr, frame mm.Frame, action MapAction) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if frame.Size == mm.LargePageSize && uint64(vbase)%mm.LargePageSize == 0 && frame.IsLargePageAligned() {
		return v.mapLargeShared(vbase, frame, action)
	}

	cur := vbase
	for _, page := range frame.IntoBasePages() {
		if err := v.mapBasePageShared(cur, page, action); err != nil {
			return err
		}
		cur += VAddr(mm.BasePageSize)
	}
	return nil
}

func (v *VSpace) mapBasePageShared(vaddr VAddr, frame mm.Frame, action MapAction) error {
	i4, i3, i2, i1 := indices(vaddr)
	pdpt, err := v.tableAt(v.pml4, i4)
	if err != nil {
		return err
	}
	pd, err := v.tableAt(pdpt, i3)
	if err != nil {
		return err
	}
	if pd.present(i2) && pd.flags(i2)&flagLargePage != 0 {
		return kerrors.New(kerrors.AlreadyMapped)
	}
	pt, err := v.tableAt(pd, i2)
	if err != nil {
		return err
	}
	if pt.present(i1) {
		return kerrors.New(kerrors.AlreadyMapped)
	}
	pt.setLeafShared(i1, uint64(frame.Base), action, false)
	return nil
}

func (v *VSpace) mapLargeShared(vaddr VAddr, frame mm.Frame, action MapAction) error {
	i4, i3, i2, _ := indices(vaddr)
	pdpt, err := v.tableAt(v.pml4, i4)
	if err != nil {
		return err
	}
	pd, err := v.tableAt(pdpt, i3)
	if err != nil {
		return err
	}
	if pd.present(i2) {
		return kerrors.New(kerrors.AlreadyMapped)
	}
	pd.setLeafShared(i2, uint64(frame.Base), action, true)
	return nil
}

// Declassify walks the nframes leaf entries starting at vaddr (one
// per base page, or one per large page if the leaf found there is
// large-page-backed) and clears the shared-mapping bit MapFrameShared
// set, restoring each to an ordinary exclusive mapping. It fails
// NotMapped, with no entries touched, if any one of the nframes
// entries is absent along the way.
func (v *VSpace) Declassify(vaddr VAddr, nframes int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur := vaddr
	leaves := make([]func(), 0, nframes)
	for i := 0; i < nframes; i++ {
		clearFn, step, err := v.declassifyLeaf(cur)
		if err != nil {
			return err
		}
		leaves = append(leaves, clearFn)
		cur += VAddr(step)
	}
	for _, clearFn := range leaves {
		clearFn()
	}
	return nil
}

// declassifyLeaf locates the leaf entry covering vaddr and returns a
// closure that clears its shared bit, plus the byte stride to the next
// frame of the same kind. It does not mutate anything itself, so a
// Declassify call that fails partway through never leaves some frames
// declassified and others not.
func (v *VSpace) declassifyLeaf(vaddr VAddr) (clear func(), step uint64, err error) {
	i4, i3, i2, i1 := indices(vaddr)
	pdpt, ok := v.tableAtIfPresent(v.pml4, i4)
	if !ok {
		return nil, 0, kerrors.New(kerrors.NotMapped)
	}
	pd, ok := v.tableAtIfPresent(pdpt, i3)
	if !ok {
		return nil, 0, kerrors.New(kerrors.NotMapped)
	}
	if pd.present(i2) && pd.flags(i2)&flagLargePage != 0 {
		idx := i2
		return func() { pd.clearShared(idx) }, mm.LargePageSize, nil
	}
	pt, ok := v.tableAtIfPresent(pd, i2)
	if !ok {
		return nil, 0, kerrors.New(kerrors.NotMapped)
	}
	if !pt.present(i1) {
		return nil, 0, kerrors.New(kerrors.NotMapped)
	}
	idx := i1
	return func() { pt.clearShared(idx) }, mm.BasePageSize, nil
}

// Resolve walks PML4 -> PDPT -> PD -> PT for vaddr, returning the
// physical address and rights of the mapping that contains it, or
// NotMapped if any level of the chain is absent.
func (v *VSpace) Resolve(vaddr VAddr) (mm.PAddr, MapAction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	i4, i3, i2, i1 := indices(vaddr)
	pdpt, ok := v.tableAtIfPresent(v.pml4, i4)
	if !ok {
		return 0, 0, kerrors.New(kerrors.NotMapped)
	}
	pd, ok := v.tableAtIfPresent(pdpt, i3)
	if !ok {
		return 0, 0, kerrors.New(kerrors.NotMapped)
	}
	if pd.present(i2) && pd.flags(i2)&flagLargePage != 0 {
		offset := uint64(vaddr) & (mm.LargePageSize - 1)
		return mm.PAddr(pd.addr(i2) + offset), actionFromFlags(pd.flags(i2)), nil
	}
	pt, ok := v.tableAtIfPresent(pd, i2)
	if !ok {
		return 0, 0, kerrors.New(kerrors.NotMapped)
	}
	if !pt.present(i1) {
		return 0, 0, kerrors.New(kerrors.NotMapped)
	}
	offset := uint64(vaddr) & (mm.BasePageSize - 1)
	return mm.PAddr(pt.addr(i1) + offset), actionFromFlags(pt.flags(i1)), nil
}

// Adjust rewrites the rights of the leaf mapping containing vaddr,
// returning the mapping's base and size. A shared leaf stays shared.
func (v *VSpace) Adjust(vaddr VAddr, rights MapAction) (VAddr, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	i4, i3, i2, i1 := indices(vaddr)
	pdpt, ok := v.tableAtIfPresent(v.pml4, i4)
	if !ok {
		return 0, 0, kerrors.New(kerrors.NotMapped)
	}
	pd, ok := v.tableAtIfPresent(pdpt, i3)
	if !ok {
		return 0, 0, kerrors.New(kerrors.NotMapped)
	}
	if pd.present(i2) && pd.flags(i2)&flagLargePage != 0 {
		addr := pd.addr(i2)
		if pd.flags(i2)&flagShared != 0 {
			pd.setLeafShared(i2, addr, rights, true)
		} else {
			pd.setLeaf(i2, addr, rights, true)
		}
		base := VAddr(uint64(vaddr) &^ (mm.LargePageSize - 1))
		return base, mm.LargePageSize, nil
	}
	pt, ok := v.tableAtIfPresent(pd, i2)
	if !ok {
		return 0, 0, kerrors.New(kerrors.NotMapped)
	}
	if !pt.present(i1) {
		return 0, 0, kerrors.New(kerrors.NotMapped)
	}
	addr := pt.addr(i1)
	if pt.flags(i1)&flagShared != 0 {
		pt.setLeafShared(i1, addr, rights, false)
	} else {
		pt.setLeaf(i1, addr, rights, false)
	}
	base := VAddr(uint64(vaddr) &^ (mm.BasePageSize - 1))
	return base, mm.BasePageSize, nil
}

// Unmap clears the single leaf entry containing vaddr (one base page,
// or one large page for a large-page leaf) and returns a
// TlbFlushHandle describing that range, plus the Frame that was mapped
// there. The other pages of a multi-page MapFrame call stay mapped;
// Unmap does not know which leaves one MapFrame call installed
// (ownership of the frame's content
// passes back to the caller, who is responsible for releasing it to
// the physical tier after the shootdown completes).
func (v *VSpace) Unmap(vaddr VAddr) (TlbFlushHandle, mm.Frame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	i4, i3, i2, i1 := indices(vaddr)
	pdpt, ok := v.tableAtIfPresent(v.pml4, i4)
	if !ok {
		return TlbFlushHandle{}, mm.Empty(), kerrors.New(kerrors.NotMapped)
	}
	pd, ok := v.tableAtIfPresent(pdpt, i3)
	if !ok {
		return TlbFlushHandle{}, mm.Empty(), kerrors.New(kerrors.NotMapped)
	}
	if pd.present(i2) && pd.flags(i2)&flagLargePage != 0 {
		addr := pd.addr(i2)
		pd.clear(i2)
		base := VAddr(uint64(vaddr) &^ (mm.LargePageSize - 1))
		frame := mm.Frame{Base: mm.PAddr(addr), Size: mm.LargePageSize, Affinity: v.node}
		return TlbFlushHandle{ID: uuid.New(), Base: base, Size: mm.LargePageSize}, frame, nil
	}
	pt, ok := v.tableAtIfPresent(pd, i2)
	if !ok {
		return TlbFlushHandle{}, mm.Empty(), kerrors.New(kerrors.NotMapped)
	}
	if !pt.present(i1) {
		return TlbFlushHandle{}, mm.Empty(), kerrors.New(kerrors.NotMapped)
	}
	addr := pt.addr(i1)
	pt.clear(i1)
	base := VAddr(uint64(vaddr) &^ (mm.BasePageSize - 1))
	frame := mm.Frame{Base: mm.PAddr(addr), Size: mm.BasePageSize, Affinity: v.node}
	return TlbFlushHandle{ID: uuid.New(), Base: base, Size: mm.BasePageSize}, frame, nil
}
