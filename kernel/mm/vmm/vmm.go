// Package vmm implements per-process virtual address spaces: the declared
// memory regions, the software-walked two-level page table that lazily backs
// them with physical frames, and the fault handler that populates the table
// and programs the translation cache.
package vmm

import (
	"wombatos/kernel"
	"wombatos/kernel/cpu"
	"wombatos/kernel/tlb"
)

var (
	// currentSpaceFn returns the address space of the currently running
	// task. The process subsystem registers the real implementation via
	// SetCurrentSpaceProvider; until then no task has an address space.
	currentSpaceFn = func() *AddressSpace { return nil }

	// the following functions are mocked by tests.
	criticalFn         = cpu.WithInterruptsDisabled
	tlbInvalidateAllFn = tlb.InvalidateAll
	tlbInsertRandomFn  = tlb.InsertRandom
)

var (
	// ErrOutOfMemory is returned when a physical frame or page-table
	// allocation fails. The failed operation is fully undone, so callers
	// can recover.
	ErrOutOfMemory = &kernel.Error{Module: "vmm", Message: "out of memory"}

	// ErrInvalidArgument is returned for overlapping region declarations
	// and unrecognized fault kinds; nothing is mutated.
	ErrInvalidArgument = &kernel.Error{Module: "vmm", Message: "invalid argument"}

	// ErrFault is returned when an address lies outside every declared
	// region or outside the user address space, or when no address space
	// is active. It is terminal for the faulting task.
	ErrFault = &kernel.Error{Module: "vmm", Message: "bad address"}

	// ErrProtectionViolation is returned for writes forbidden by a
	// mapping's permissions. No frame is ever shared between mappings so
	// such a write can never be satisfied later; it is always terminal.
	ErrProtectionViolation = &kernel.Error{Module: "vmm", Message: "write to read-only page"}
)

// SetCurrentSpaceProvider registers the function the vmm code consults for
// the address space of the currently running task.
func SetCurrentSpaceProvider(fn func() *AddressSpace) {
	currentSpaceFn = fn
}

// Activate makes the current task's address space effective on this
// execution unit by discarding every cached translation. Cached entries
// carry no address-space tag, so translations installed on behalf of a
// different space would otherwise be reused verbatim. A task without an
// address space (a kernel-only task) leaves the cache in place.
func Activate() {
	if currentSpaceFn() == nil {
		return
	}

	criticalFn(tlbInvalidateAllFn)
}

// Deactivate is invoked when the current task is about to lose the
// processor. Stale translations are dealt with on activation, so this design
// simply performs the same full invalidation.
func Deactivate() {
	Activate()
}
