// Package vspace implements the 4-level page table address-space
// abstraction: map_frame / resolve / adjust / unmap plus the
// TlbFlushHandle returned by unmap.
//
// What: PML4 -> PDPT -> PD -> PT, each table a single base page of 512
// 8-byte entries, encoded the way internal/storage/pager/page.go
// encodes its on-disk headers (binary.LittleEndian, fixed layout).
// How: tables are allocated on demand from the PhysicalPageProvider
// passed to the VSpace's constructor and never freed until the VSpace
// itself goes away.
// Why: this is the one piece of kernel state every mapped page,
// process, and device driver depends on, so its ownership rules (who
// may free a table, who may mutate a leaf) have to be airtight.
package vspace

import (
	"encoding/binary"

	"github.com/nros-project/corekernel/internal/mm"
)

const entriesPerTable = 512
const entrySize = 8

// entryFlags are the present/rights bits packed into the low 12 bits
// of each 8-byte entry; the address occupies the remaining
// page-aligned bits.
type entryFlags uint64

const (
	flagPresent entryFlags = 1 << iota
	flagWrite
	flagUser
	flagExecuteDisable
	flagDevice
	flagLargePage
	// flagShared marks a leaf installed by MapFrameShared rather than
	// MapFrame: the frame it addresses may be concurrently mapped by
	// more than one VSpace. Declassify is the only operation that
	// clears it, restoring the leaf to an ordinary exclusive mapping.
	flagShared
)

const addrMask = ^uint64(0xFFF)

// MapAction is the subset of {read, write, execute, user, kernel,
// device} rights a mapping carries.
type MapAction uint8

const (
	ActionRead MapAction = 1 << iota
	ActionWrite
	ActionExecute
	ActionUser
	ActionKernel
	ActionDevice
)

func (a MapAction) toFlags() entryFlags {
	f := flagPresent
	if a&ActionWrite != 0 {
		f |= flagWrite
	}
	if a&ActionUser != 0 {
		f |= flagUser
	}
	if a&ActionExecute == 0 {
		f |= flagExecuteDisable
	}
	if a&ActionDevice != 0 {
		f |= flagDevice
	}
	return f
}

func actionFromFlags(f entryFlags) MapAction {
	var a MapAction
	a |= ActionRead
	if f&flagWrite != 0 {
		a |= ActionWrite
	}
	if f&flagUser != 0 {
		a |= ActionUser
	} else {
		a |= ActionKernel
	}
	if f&flagExecuteDisable == 0 {
		a |= ActionExecute
	}
	if f&flagDevice != 0 {
		a |= ActionDevice
	}
	return a
}

// pageTable is a view over one base page of backing bytes, read and
// written as 512 little-endian 8-byte entries.
type pageTable struct {
	frame mm.Frame
	bytes []byte
}

func newPageTableView(frame mm.Frame, bytes []byte) *pageTable {
	return &pageTable{frame: frame, bytes: bytes}
}

func (t *pageTable) entryRaw(i int) uint64 {
	return binary.LittleEndian.Uint64(t.bytes[i*entrySize : (i+1)*entrySize])
}

func (t *pageTable) setEntryRaw(i int, v uint64) {
	binary.LittleEndian.PutUint64(t.bytes[i*entrySize:(i+1)*entrySize], v)
}

func (t *pageTable) present(i int) bool {
	return entryFlags(t.entryRaw(i))&flagPresent != 0
}

func (t *pageTable) addr(i int) uint64 {
	return t.entryRaw(i) & addrMask
}

func (t *pageTable) flags(i int) entryFlags {
	return entryFlags(t.entryRaw(i)) &^ entryFlags(addrMask)
}

func (t *pageTable) setLeaf(i int, addr uint64, action MapAction, large bool) {
	f := action.toFlags()
	if large {
		f |= flagLargePage
	}
	t.setEntryRaw(i, (addr&addrMask)|uint64(f))
}

// setLeafShared is setLeaf plus flagShared, used by MapFrameShared.
func (t *pageTable) setLeafShared(i int, addr uint64, action MapAction, large bool) {
	f := action.toFlags() | flagShared
	if large {
		f |= flagLargePage
	}
	t.setEntryRaw(i, (addr&addrMask)|uint64(f))
}

// clearShared drops the flagShared bit from entry i in place, leaving
// its address, rights, and large-page bit untouched.
func (t *pageTable) clearShared(i int) {
	raw := t.entryRaw(i) &^ uint64(flagShared)
	t.setEntryRaw(i, raw)
}

func (t *pageTable) setTablePointer(i int, addr uint64) {
	t.setEntryRaw(i, (addr&addrMask)|uint64(flagPresent|flagWrite|flagUser))
}

func (t *pageTable) clear(i int) {
	t.setEntryRaw(i, 0)
}

// indices splits a canonical virtual address into its four table
// indices (PML4, PDPT, PD, PT).
func indices(v VAddr) (pml4, pdpt, pd, pt int) {
	u := uint64(v)
	pml4 = int((u >> 39) & 0x1FF)
	pdpt = int((u >> 30) & 0x1FF)
	pd = int((u >> 21) & 0x1FF)
	pt = int((u >> 12) & 0x1FF)
	return
}

// VAddr is a virtual address.
type VAddr uint64

// PAddr is a physical address (re-exported shape matches mm.PAddr so
// resolve() results compose cleanly with the physical allocator).
type PAddr = mm.PAddr
