package wasmmemory

// PageShift is log2 of the WebAssembly page size.
const PageShift = 16

// PageSize is the fixed WebAssembly page size in bytes.
const PageSize = 1 << PageShift

// MemoryType describes the limits of a WASM memory in pages.
// Max is nil when the module declares no upper bound.
type MemoryType struct {
	Max *uint32
	Min uint32
}

// LinearMemory is a growable WASM linear memory that never moves.
type LinearMemory interface {
	// Size returns the accessible size in pages.
	Size() uint32
	// Maximum returns the configured page limit, if any.
	Maximum() (uint32, bool)
	// Grow adds delta pages and returns the new page count.
	// false means growth was denied and nothing changed.
	Grow(delta uint32) (uint32, bool)
	// Base returns the address of the first byte. It is stable for the
	// lifetime of the memory.
	Base() uintptr
}

// MemoryCreator produces linear memories for an engine.
// reserved is the requested reservation in bytes; nil reserves only
// the minimum. guard is the size of the trailing no-access region.
type MemoryCreator interface {
	NewMemory(ty MemoryType, reserved *uint64, guard uint64) (LinearMemory, error)
}

// ResidentProbe reports physically backed bytes of the virtual memory
// region containing addr.
type ResidentProbe interface {
	ResidentBytes(addr uintptr) uint64
}

// PagesToBytes converts a page count to bytes.
func PagesToBytes(pages uint32) uint64 {
	return uint64(pages) << PageShift
}

// BytesToPages converts a byte count to pages, rounding up.
func BytesToPages(n uint64) uint64 {
	return (n + PageSize - 1) >> PageShift
}
