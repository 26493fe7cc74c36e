// Package mm defines the index types for physical frames and virtual pages
// together with the registration points through which a physical frame
// provider is attached to the memory-management code.
package mm

import (
	"math"

	"wombatos/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame providers when they fail to
	// reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to the given physical
// address. This function can handle both page-aligned and not aligned
// addresses. In the latter case, the input address will be rounded down to
// the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. In the latter case, the input address will be rounded down to
// the page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

// FrameAllocatorFn is a function that can allocate physical frames. The
// contents of a newly allocated frame are undefined; zero-filling is the
// caller's responsibility. Frame 0 is never a legal allocation target as the
// page-table code treats a zero entry as the absence of a mapping.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameFreerFn is a function that returns a previously allocated physical
// frame to its provider.
type FrameFreerFn func(Frame)

// FrameMapperFn is a function that returns the kernel-mapped alias of a
// physical frame's contents. The returned slice is always PageSize bytes
// long.
type FrameMapperFn func(Frame) []byte

var (
	// frameAllocator points to the frame allocator function registered
	// using SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// frameFreer points to the frame free function registered using
	// SetFrameFreer.
	frameFreer FrameFreerFn

	// frameMapper points to the frame mapping function registered using
	// SetFrameMapper.
	frameMapper FrameMapperFn
)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// SetFrameFreer registers a frame free function that will be used by the vmm
// code when physical frames are released back to the provider.
func SetFrameFreer(freeFn FrameFreerFn) { frameFreer = freeFn }

// SetFrameMapper registers a function that exposes the kernel-mapped alias of
// a physical frame so the vmm code can fill or copy page contents.
func SetFrameMapper(mapFn FrameMapperFn) { frameMapper = mapFn }

// AllocFrame allocates a new physical frame using the currently registered
// physical frame provider.
func AllocFrame() (Frame, *kernel.Error) { return frameAllocator() }

// FreeFrame returns a physical frame to the currently registered physical
// frame provider.
func FreeFrame(frame Frame) { frameFreer(frame) }

// MapFrame returns the kernel-mapped alias of the given physical frame's
// contents.
func MapFrame(frame Frame) []byte { return frameMapper(frame) }
