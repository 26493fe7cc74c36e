package vmm

import (
	"testing"

	"wombatos/kernel/mm"
	"wombatos/kernel/mm/pmm"
)

// installTestPool registers a frame pool as the system's frame provider for
// the duration of a test.
func installTestPool(t *testing.T, frameCount int) *pmm.FramePool {
	t.Helper()

	pool, err := pmm.NewFramePool(frameCount)
	if err != nil {
		t.Fatal(err)
	}
	pool.Install()

	t.Cleanup(func() {
		mm.SetFrameAllocator(nil)
		mm.SetFrameFreer(nil)
		mm.SetFrameMapper(nil)
	})

	return pool
}

// setCurrentSpace points the current-space provider at as for the duration
// of a test.
func setCurrentSpace(t *testing.T, as *AddressSpace) {
	t.Helper()

	SetCurrentSpaceProvider(func() *AddressSpace { return as })
	t.Cleanup(func() {
		SetCurrentSpaceProvider(func() *AddressSpace { return nil })
	})
}

// tlbRecorder captures the TLB and critical-section calls issued by the code
// under test.
type tlbRecorder struct {
	criticalCount   int
	invalidateCount int
	inserts         [][2]uintptr
}

// lastInsert returns the most recent (hi, lo) pair handed to the TLB.
func (rec *tlbRecorder) lastInsert() (hi, lo uintptr) {
	if len(rec.inserts) == 0 {
		return 0, 0
	}
	last := rec.inserts[len(rec.inserts)-1]
	return last[0], last[1]
}

// installTLBRecorder swaps the TLB hooks with recording fakes for the
// duration of a test.
func installTLBRecorder(t *testing.T) *tlbRecorder {
	t.Helper()

	rec := &tlbRecorder{}

	origCriticalFn := criticalFn
	origInvalidateFn := tlbInvalidateAllFn
	origInsertFn := tlbInsertRandomFn

	criticalFn = func(fn func()) {
		rec.criticalCount++
		fn()
	}
	tlbInvalidateAllFn = func() { rec.invalidateCount++ }
	tlbInsertRandomFn = func(hi, lo uintptr) {
		rec.inserts = append(rec.inserts, [2]uintptr{hi, lo})
	}

	t.Cleanup(func() {
		criticalFn = origCriticalFn
		tlbInvalidateAllFn = origInvalidateFn
		tlbInsertRandomFn = origInsertFn
	})

	return rec
}

func TestActivateWithoutAddressSpace(t *testing.T) {
	rec := installTLBRecorder(t)
	setCurrentSpace(t, nil)

	Activate()

	if rec.invalidateCount != 0 {
		t.Fatalf("expected Activate without an address space to leave the TLB untouched; got %d invalidations", rec.invalidateCount)
	}
}

func TestActivateFlushesTLB(t *testing.T) {
	rec := installTLBRecorder(t)
	setCurrentSpace(t, NewAddressSpace())

	Activate()

	if rec.invalidateCount != 1 {
		t.Fatalf("expected Activate to invalidate the TLB once; got %d invalidations", rec.invalidateCount)
	}

	if rec.criticalCount != 1 {
		t.Fatalf("expected the TLB flush to run inside a critical section; got %d critical sections", rec.criticalCount)
	}
}

func TestDeactivateFlushesTLB(t *testing.T) {
	rec := installTLBRecorder(t)
	setCurrentSpace(t, NewAddressSpace())

	Deactivate()

	if rec.invalidateCount != 1 {
		t.Fatalf("expected Deactivate to invalidate the TLB once; got %d invalidations", rec.invalidateCount)
	}
}
