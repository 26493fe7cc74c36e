package vmm

// region describes a contiguous, permission-tagged range of user virtual
// addresses declared as part of a process's layout (code, data, stack). A
// region is immutable in extent after declaration; only its writable bit is
// toggled, and only during the load-time permission window.
type region struct {
	// base and size are always page-aligned; size is never zero.
	base uintptr
	size uintptr

	readable   bool
	writable   bool
	executable bool

	// savedWritable holds the pre-load writability of the region while
	// PrepareLoad forces it writable.
	savedWritable bool

	next *region
}

// end returns the exclusive upper bound of the region.
func (r *region) end() uintptr {
	return r.base + r.size
}

// contains reports whether virtAddr falls inside the region.
func (r *region) contains(virtAddr uintptr) bool {
	return virtAddr >= r.base && virtAddr < r.end()
}

// overlaps reports whether the page-aligned range [base, base+size) overlaps
// this region. Ranges that merely touch at a shared boundary count as
// overlapping; fault resolution relies on declared regions never abutting.
func (r *region) overlaps(base, size uintptr) bool {
	return base <= r.end() && base+size >= r.base
}
