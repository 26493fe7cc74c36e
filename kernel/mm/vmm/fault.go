package vmm

import (
	log "github.com/sirupsen/logrus"

	"wombatos/kernel"
	"wombatos/kernel/mm"
)

// FaultKind identifies the hardware condition that raised a translation
// fault.
type FaultKind uint8

const (
	// FaultRead is raised when a read misses the translation cache.
	FaultRead FaultKind = iota

	// FaultWrite is raised when a write misses the translation cache.
	FaultWrite

	// FaultReadOnly is raised when a write goes through a cached
	// translation whose dirty flag is clear.
	FaultReadOnly
)

// String returns a human-readable name for the fault kind.
func (kind FaultKind) String() string {
	switch kind {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// HandleFault resolves a translation fault at faultAddr on behalf of the
// currently running task. It is invoked synchronously by the trap dispatcher
// and always runs to completion: on success a translation for the faulting
// page has been installed in the TLB, on failure the page table is exactly
// as it was before the fault and the returned error classifies the outcome
// for the dispatcher.
func HandleFault(kind FaultKind, faultAddr uintptr) *kernel.Error {
	switch kind {
	case FaultRead, FaultWrite:
	case FaultReadOnly:
		// Frames are never shared between mappings, so a write through
		// a read-only translation can never be satisfied by copying;
		// it is terminal for the faulting task.
		return ErrProtectionViolation
	default:
		return ErrInvalidArgument
	}

	as := currentSpaceFn()
	if as == nil {
		return ErrFault
	}

	if faultAddr >= UserTop {
		return ErrFault
	}

	i1, i2 := tableIndices(faultAddr)

	as.mu.Lock()
	defer as.mu.Unlock()

	// Remember whether this fault grew the first level so error paths can
	// undo it: empty second-level tables must not accumulate for
	// addresses that turn out to be invalid. The slot is cleared before
	// the table becomes unreachable.
	grewFirstLevel := false
	if as.table[i1] == nil {
		as.table.growFirstLevel(i1)
		grewFirstLevel = true
	}

	rollbackFirstLevel := func() {
		if grewFirstLevel {
			as.table[i1] = nil
		}
	}

	entry := as.table[i1][i2]
	switch {
	case !entry.HasFlags(FlagValid):
		r := as.findRegion(faultAddr)
		if r == nil {
			rollbackFirstLevel()
			return ErrFault
		}

		if kind == FaultWrite && !r.writable {
			rollbackFirstLevel()
			return ErrProtectionViolation
		}

		if err := as.table.populate(i1, i2, r.writable); err != nil {
			rollbackFirstLevel()
			return err
		}
		entry = as.table[i1][i2]

		log.WithFields(log.Fields{
			"kind":  kind,
			"addr":  faultAddr,
			"frame": entry.Frame(),
			"dirty": entry.HasFlags(FlagDirty),
		}).Debug("populated mapping")

	case kind == FaultWrite && !entry.HasFlags(FlagDirty):
		// The page is resident but its mapping is read-only. Writes
		// are only permissible while the load window holds the owning
		// region writable; upgrade the mapping in that case.
		if r := as.findRegion(faultAddr); r == nil || !r.writable {
			return ErrProtectionViolation
		}

		as.table[i1][i2].SetFlags(FlagDirty)
		entry = as.table[i1][i2]
	}

	// Program the hardware translation pair. Interrupts stay disabled for
	// the write so no trap can observe a half-written entry.
	entryHi := faultAddr & ^(mm.PageSize - 1)
	entryLo := uintptr(entry)
	criticalFn(func() { tlbInsertRandomFn(entryHi, entryLo) })

	return nil
}
