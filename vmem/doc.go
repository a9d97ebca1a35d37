// Package vmem implements guarded, non-moving linear memories on top of
// raw virtual memory mappings.
//
// # Layout
//
// Each memory owns one anonymous mapping:
//
//	base                 base+accessible          base+capacity     base+mapped
//	│ read/write pages   │ no-access (growable)    │ guard (never)    │
//	└────────────────────┴─────────────────────────┴──────────────────┘
//
// Grow flips protection of the growable part in place, so the base address
// handed to the engine never changes. Growth past the maximum or past the
// capacity is refused, never relocated.
//
// # Types
//
//	Allocator    - immutable capability holding the host page size
//	Reservation  - one mapped range, with bounds-checked protect/decommit
//	Memory       - a guarded linear memory (Size, Maximum, Grow, Base)
//	Creator      - the MemoryCreator handed to the engine
//
// # Failure Model
//
// Reservation problems (size overflow, mmap refused) are returned as
// *errors.Error. A failing mprotect on a range that mmap already granted
// is treated as a broken platform contract: it is logged at fatal level and
// the process exits, since continuing would leave guard pages writable.
//
// # Platforms
//
// linux and darwin are supported through golang.org/x/sys/unix. Other
// platforms compile, but every reservation fails with KindUnsupported.
package vmem
