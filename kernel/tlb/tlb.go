// Package tlb drives the hardware translation cache: a fixed-size
// associative array of hi/lo entry pairs. The hi word of an entry holds a
// page-aligned virtual address and the lo word holds the matching page-table
// entry value.
//
// The driver assumes a single processor. Callers are responsible for
// disabling interrupts on the current execution unit around mutations; the
// internal spinlock only protects the entry array itself.
package tlb

import (
	"math/rand"

	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"

	"wombatos/kernel"
	"wombatos/kernel/mm"
	"wombatos/kernel/sync"
)

// NumEntries defines the number of entry pairs the translation cache holds.
const NumEntries = 64

// invalidHiBase is the first of NumEntries page-aligned addresses inside the
// kernel segment that are used to mark entries as invalid. Lookups always
// target user-space addresses so an invalidated entry can never match.
const invalidHiBase = uintptr(0x80000000)

// Entry describes a single hi/lo translation pair.
type Entry struct {
	Hi uintptr
	Lo uintptr
}

var (
	lock    sync.Spinlock
	entries [NumEntries]Entry

	// randSlotFn picks the entry slot that a call to InsertRandom
	// replaces. It is overridable by tests.
	randSlotFn = func() int { return rand.Intn(NumEntries) }

	errShootdownUnsupported = &kernel.Error{Module: "tlb", Message: "tlb shootdown invoked on a single-processor configuration"}
)

func init() {
	InvalidateAll()
}

// invalidHi returns the invalidation address for the given entry slot. Each
// slot uses a distinct address so that duplicate hi values never coexist in
// the array.
func invalidHi(index int) uintptr {
	return invalidHiBase + uintptr(index)<<mm.PageShift
}

// InvalidateAll discards every cached translation.
func InvalidateAll() {
	lock.Acquire()
	for i := 0; i < NumEntries; i++ {
		entries[i] = Entry{Hi: invalidHi(i)}
	}
	lock.Release()
}

// InsertRandom writes the supplied hi/lo pair into a randomly selected entry
// slot, evicting whatever translation the slot held before.
func InsertRandom(hi, lo uintptr) {
	lock.Acquire()
	entries[randSlotFn()] = Entry{Hi: hi, Lo: lo}
	lock.Release()
}

// Probe searches the array for an entry whose hi word matches the supplied
// page-aligned virtual address and returns its lo word.
func Probe(hi uintptr) (lo uintptr, ok bool) {
	lock.Acquire()
	defer lock.Release()

	for i := 0; i < NumEntries; i++ {
		if entries[i].Hi == hi {
			return entries[i].Lo, true
		}
	}

	return 0, false
}

// ReadEntry returns the contents of the given entry slot.
func ReadEntry(index int) Entry {
	lock.Acquire()
	defer lock.Release()

	return entries[index]
}

// Shootdown handles a cross-processor invalidation request. The design
// targets a single processor and keeps no per-processor state to reconcile,
// so receiving one means the system is misconfigured; the kernel aborts
// rather than silently dropping the request.
func Shootdown() {
	wrapped := errors.Wrap(errShootdownUnsupported, 0)
	log.WithFields(log.Fields{"stack": wrapped.ErrorStack()}).Error("tlb shootdown is not supported")
	panic(wrapped)
}
