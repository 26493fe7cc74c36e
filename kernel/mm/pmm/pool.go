// Package pmm provides the physical frame provider used by the vmm code: a
// fixed-size pool of page-aligned frames carved out of a contiguous arena.
package pmm

import (
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"

	"wombatos/kernel"
	"wombatos/kernel/mm"
	"wombatos/kernel/sync"
)

var (
	errPoolExhausted = &kernel.Error{Module: "pmm", Message: "out of physical memory"}
	errBadFrameCount = &kernel.Error{Module: "pmm", Message: "frame count must be positive"}
	errBadFrame      = &kernel.Error{Module: "pmm", Message: "frame does not belong to this pool"}
	errDoubleFree    = &kernel.Error{Module: "pmm", Message: "frame is already free"}
)

// FramePool implements a physical memory allocator over a contiguous arena
// carved into PageSize frames. Usable frames are numbered 1 to frameCount;
// frame 0 is permanently reserved because the page-table entry encoding
// treats a zero entry as the absence of a mapping.
//
// Freed frames are kept on a LIFO free list and handed back verbatim; the
// pool does not clear frame contents on either allocation or release.
type FramePool struct {
	lock sync.Spinlock

	// arena backs the pool's frames. A frame's physical address doubles
	// as its byte offset into the arena.
	arena []byte

	freeList []mm.Frame
	inUse    []bool

	// allocCount tracks the number of currently allocated frames.
	allocCount uint64
}

// NewFramePool returns a pool managing frameCount usable frames.
func NewFramePool(frameCount int) (*FramePool, *kernel.Error) {
	if frameCount <= 0 {
		return nil, errBadFrameCount
	}

	pool := &FramePool{
		arena:    make([]byte, uintptr(frameCount+1)*mm.PageSize),
		freeList: make([]mm.Frame, 0, frameCount),
		inUse:    make([]bool, frameCount+1),
	}

	// Push frames in descending order so allocations proceed from the
	// bottom of the arena upwards.
	for frame := mm.Frame(frameCount); frame >= 1; frame-- {
		pool.freeList = append(pool.freeList, frame)
	}

	log.WithFields(log.Fields{
		"frames": frameCount,
		"bytes":  len(pool.arena),
	}).Info("physical frame pool initialised")

	return pool, nil
}

// AllocFrame reserves the next available frame. The contents of the returned
// frame are undefined; zero-filling is the caller's responsibility.
//
// AllocFrame returns an error if no more frames can be allocated.
func (pool *FramePool) AllocFrame() (mm.Frame, *kernel.Error) {
	pool.lock.Acquire()
	defer pool.lock.Release()

	if len(pool.freeList) == 0 {
		return mm.InvalidFrame, errPoolExhausted
	}

	frame := pool.freeList[len(pool.freeList)-1]
	pool.freeList = pool.freeList[:len(pool.freeList)-1]
	pool.inUse[frame] = true
	pool.allocCount++

	return frame, nil
}

// FreeFrame returns a previously allocated frame to the pool. Returning a
// frame that does not belong to the pool or that is already free indicates
// corrupted frame bookkeeping and aborts the system.
func (pool *FramePool) FreeFrame(frame mm.Frame) {
	pool.lock.Acquire()
	defer pool.lock.Release()

	switch {
	case frame < 1 || frame >= mm.Frame(len(pool.inUse)):
		panic(errors.Wrap(errBadFrame, 0))
	case !pool.inUse[frame]:
		panic(errors.Wrap(errDoubleFree, 0))
	}

	pool.inUse[frame] = false
	pool.allocCount--
	pool.freeList = append(pool.freeList, frame)
}

// MapFrame returns the kernel-mapped alias of the given frame's contents.
func (pool *FramePool) MapFrame(frame mm.Frame) []byte {
	if frame < 1 || frame >= mm.Frame(len(pool.inUse)) {
		panic(errors.Wrap(errBadFrame, 0))
	}

	return pool.arena[frame.Address() : frame.Address()+mm.PageSize]
}

// AllocCount returns the number of currently allocated frames.
func (pool *FramePool) AllocCount() uint64 {
	pool.lock.Acquire()
	defer pool.lock.Release()

	return pool.allocCount
}

// Install registers the pool as the system's frame provider.
func (pool *FramePool) Install() {
	mm.SetFrameAllocator(pool.AllocFrame)
	mm.SetFrameFreer(pool.FreeFrame)
	mm.SetFrameMapper(pool.MapFrame)
}
