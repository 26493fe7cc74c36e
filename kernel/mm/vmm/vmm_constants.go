package vmm

import "wombatos/kernel/mm"

const (
	// pageLevels indicates the number of levels in the software-walked
	// page table.
	pageLevels = 2

	// tableEntries defines the number of slots in each page-table level.
	// Each level consumes 10 bits of a user virtual address; the low 12
	// bits select the byte offset inside a page.
	tableEntries = 1024

	// firstLevelShift is the shift required to extract the first-level
	// table index from a virtual address.
	firstLevelShift = uintptr(22)

	// levelIndexMask extracts a level's table index after shifting.
	levelIndexMask = uintptr(tableEntries - 1)

	// UserTop marks the exclusive upper bound of the user address space.
	// Addresses at or above it belong to the kernel and can never be
	// declared or faulted by user code.
	UserTop = uintptr(0x80000000)

	// UserStackBase is the initial user stack pointer. The stack region
	// occupies the StackPages pages directly below it.
	UserStackBase = UserTop

	// StackPages defines the fixed size of the user stack region.
	StackPages = uintptr(16)
)

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry.
type PageTableEntryFlag uintptr

const (
	// FlagValid is set when the entry maps a physical frame. Validity is
	// an explicit flag bit rather than a non-zero frame number, so a
	// mapping to frame 0 would still be distinguishable from the zero
	// "unmapped" entry.
	FlagValid PageTableEntryFlag = 1 << 9

	// FlagDirty is set when the mapped page may be written. The hardware
	// raises a read-only fault on writes through translations that lack
	// it.
	FlagDirty PageTableEntryFlag = 1 << 10
)

// pteFrameMask extracts the physical frame address from a page table entry.
// The flag bits live inside the low in-page bits so the two never collide.
const pteFrameMask = ^(mm.PageSize - 1)
