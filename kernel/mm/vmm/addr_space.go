package vmm

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"wombatos/kernel"
	"wombatos/kernel/mm"
)

// AddressSpace owns the declared memory regions and the two-level page table
// of a single process. It is the unit of duplication on fork and of teardown
// on exit.
type AddressSpace struct {
	// mu serializes all page-table access: fault resolution, cloning,
	// the load-window permission scrub and destruction. The region list
	// is deliberately outside its protection: regions are declared
	// before the address space is shared across tasks and, apart from
	// the transient writable toggle around image loading, never change
	// afterwards. Loading an image and faulting on the same address
	// space concurrently is not supported.
	mu sync.Mutex

	regions *region
	table   pageTable
}

// NewAddressSpace returns an empty address space: no declared regions and a
// first-level page table with every slot absent.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{}
}

// Clone builds an independent copy of this address space: the same region
// declarations plus a freshly allocated, byte-identical copy of every
// resident page. No frame is ever shared between the two spaces.
//
// The source is locked for the entire page walk, so cloning a space with
// many resident pages delays concurrent faults on it for the full copy.
// The clone itself is not visible to any other task until Clone returns.
func (as *AddressSpace) Clone() (*AddressSpace, *kernel.Error) {
	clone := NewAddressSpace()

	// Copy the region declarations preserving their relative order.
	var tail *region
	for r := as.regions; r != nil; r = r.next {
		regionCopy := *r
		regionCopy.next = nil

		if tail == nil {
			clone.regions = &regionCopy
		} else {
			tail.next = &regionCopy
		}
		tail = &regionCopy
	}

	as.mu.Lock()
	err := as.table.cloneInto(&clone.table)
	as.mu.Unlock()

	if err != nil {
		// A half-built clone must not keep its frames; tear it down
		// before surfacing the error.
		clone.Destroy()
		return nil, err
	}

	return clone, nil
}

// Destroy returns every physical frame owned by this address space to the
// frame provider and drops the page table and region list. The caller
// guarantees that no other task can fault on, clone or activate the space
// concurrently; Destroy still takes the lock so the table is torn down from
// a quiesced state.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	as.table.release()
	as.regions = nil
	as.mu.Unlock()
}

// DefineRegion declares a memory region spanning size bytes starting at
// virtAddr with the supplied permissions. The range is normalized to page
// boundaries by rounding the base down and extending the size to cover the
// original range.
//
// DefineRegion returns ErrFault if the normalized range extends past the
// user address space and ErrInvalidArgument if it overlaps an existing
// region; sharing a boundary with one counts as overlap.
func (as *AddressSpace) DefineRegion(virtAddr, size uintptr, readable, writable, executable bool) *kernel.Error {
	if size == 0 {
		return ErrInvalidArgument
	}

	size += virtAddr & (mm.PageSize - 1)
	virtAddr &= ^(mm.PageSize - 1)
	size = (size + mm.PageSize - 1) & ^(mm.PageSize - 1)

	if virtAddr+size > UserTop {
		return ErrFault
	}

	for r := as.regions; r != nil; r = r.next {
		if r.overlaps(virtAddr, size) {
			return ErrInvalidArgument
		}
	}

	as.regions = &region{
		base:          virtAddr,
		size:          size,
		readable:      readable,
		writable:      writable,
		executable:    executable,
		savedWritable: writable,
		next:          as.regions,
	}

	log.WithFields(log.Fields{
		"base":       virtAddr,
		"size":       size,
		"readable":   readable,
		"writable":   writable,
		"executable": executable,
	}).Debug("declared region")

	return nil
}

// DefineStack declares the fixed-size user stack region directly below the
// top of the user address space and returns the initial stack pointer. It
// must be called at most once per address space; a second call fails the
// region overlap check.
func (as *AddressSpace) DefineStack() (uintptr, *kernel.Error) {
	stackSize := StackPages * mm.PageSize
	if err := as.DefineRegion(UserStackBase-stackSize, stackSize, true, true, false); err != nil {
		return 0, err
	}

	return UserStackBase, nil
}

// PrepareLoad opens the load-time permission window: each region's current
// writability is saved and the region is forced writable so a program image
// can be copied into normally read-only segments. Every PrepareLoad must be
// paired with a CompleteLoad once loading finishes.
func (as *AddressSpace) PrepareLoad() {
	for r := as.regions; r != nil; r = r.next {
		r.savedWritable = r.writable
		r.writable = true
	}
}

// CompleteLoad closes the window opened by PrepareLoad: every region gets
// its saved writability back, mappings populated writable inside regions
// that returned to read-only are downgraded, and the address space is
// re-activated so no writable translation outlives the window.
func (as *AddressSpace) CompleteLoad() {
	for r := as.regions; r != nil; r = r.next {
		r.writable = r.savedWritable
	}

	// Pages faulted in while the window was open carry the dirty flag.
	// Downgrade them for regions that are read-only again so a later
	// write faults instead of silently succeeding.
	as.mu.Lock()
	for r := as.regions; r != nil; r = r.next {
		if !r.writable {
			as.table.clearDirtyRange(r.base, r.size)
		}
	}
	as.mu.Unlock()

	Activate()
}

// findRegion returns the first declared region containing virtAddr, if any.
// It runs without the page-table lock; see the AddressSpace.mu documentation
// for why that is safe.
func (as *AddressSpace) findRegion(virtAddr uintptr) *region {
	for r := as.regions; r != nil; r = r.next {
		if r.contains(virtAddr) {
			return r
		}
	}

	return nil
}
