package vmm

import (
	"unsafe"

	"wombatos/kernel"
	"wombatos/kernel/mm"
)

// pageTableEntry describes a single second-level page table entry. Entries
// encode a physical frame address together with the FlagValid and FlagDirty
// bits; the zero entry means that no mapping exists.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.FrameFromAddress(uintptr(pte) & pteFrameMask)
}

// SetFrame updates the page table entry to point to the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ pteFrameMask) | frame.Address())
}

// pageTable is the sparse two-level table mapping virtual page numbers to
// page table entries. The first level is allocated together with the owning
// address space; a nil slot indicates that the corresponding second-level
// table has not been needed yet. A non-nil slot always holds exactly
// tableEntries entries.
//
// All access to a pageTable must happen while holding the owning address
// space's lock.
type pageTable [tableEntries][]pageTableEntry

// tableIndices splits a virtual address into its first- and second-level
// table indices, discarding the in-page offset bits.
func tableIndices(virtAddr uintptr) (i1, i2 int) {
	return int((virtAddr >> firstLevelShift) & levelIndexMask),
		int((virtAddr >> mm.PageShift) & levelIndexMask)
}

// growFirstLevel installs a second-level table at first-level slot i1 with
// every entry set to the unmapped sentinel.
func (pt *pageTable) growFirstLevel(i1 int) {
	pt[i1] = make([]pageTableEntry, tableEntries)
}

// populate maps the slot at (i1, i2) to a freshly allocated, zero-filled
// physical frame. The dirty argument controls whether the mapping permits
// writes. On allocation failure the slot keeps the unmapped sentinel.
func (pt *pageTable) populate(i1, i2 int, dirty bool) *kernel.Error {
	frame, err := mm.AllocFrame()
	if err != nil {
		return ErrOutOfMemory
	}

	// A new page must never leak the frame's prior contents.
	contents := mm.MapFrame(frame)
	kernel.Memset(uintptr(unsafe.Pointer(&contents[0])), 0, mm.PageSize)

	entry := &pt[i1][i2]
	*entry = 0
	entry.SetFrame(frame)
	if dirty {
		entry.SetFlags(FlagDirty)
	}
	entry.SetFlags(FlagValid)

	return nil
}

// cloneInto eagerly copies every resident mapping of this table into dst:
// for each mapped page a fresh frame is allocated, the full page contents
// are byte-copied through the frames' kernel-mapped aliases and the dirty
// flag is carried over. Unmapped slots stay unmapped.
//
// On allocation failure the copy is aborted; the caller is expected to tear
// down dst, which releases the frames cloned so far.
func (pt *pageTable) cloneInto(dst *pageTable) *kernel.Error {
	for i1 := range pt {
		if pt[i1] == nil {
			continue
		}

		dst.growFirstLevel(i1)
		for i2, entry := range pt[i1] {
			if !entry.HasFlags(FlagValid) {
				continue
			}

			frame, err := mm.AllocFrame()
			if err != nil {
				return ErrOutOfMemory
			}

			src := mm.MapFrame(entry.Frame())
			cloned := mm.MapFrame(frame)
			kernel.Memcopy(uintptr(unsafe.Pointer(&src[0])), uintptr(unsafe.Pointer(&cloned[0])), mm.PageSize)

			newEntry := &dst[i1][i2]
			newEntry.SetFrame(frame)
			newEntry.SetFlags(FlagValid)
			if entry.HasFlags(FlagDirty) {
				newEntry.SetFlags(FlagDirty)
			}
		}
	}

	return nil
}

// clearDirtyRange downgrades every resident mapping inside [base, base+size)
// to read-only.
func (pt *pageTable) clearDirtyRange(base, size uintptr) {
	for virtAddr := base; virtAddr < base+size; virtAddr += mm.PageSize {
		i1, i2 := tableIndices(virtAddr)
		if pt[i1] == nil {
			continue
		}
		if pt[i1][i2].HasFlags(FlagValid) {
			pt[i1][i2].ClearFlags(FlagDirty)
		}
	}
}

// release returns every resident frame to the provider and drops all
// second-level tables. Each slot is cleared before its frame is freed so a
// partially torn down table never contains a dangling mapping.
func (pt *pageTable) release() {
	for i1 := range pt {
		if pt[i1] == nil {
			continue
		}

		for i2 := range pt[i1] {
			if entry := pt[i1][i2]; entry.HasFlags(FlagValid) {
				pt[i1][i2] = 0
				mm.FreeFrame(entry.Frame())
			}
		}
		pt[i1] = nil
	}
}
