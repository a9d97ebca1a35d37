// Package wasmmemory provides guarded, non-moving virtual memory for
// WebAssembly linear memories hosted by wazero.
//
// Each linear memory gets its own virtual address reservation sized for its
// maximum plus a trailing guard region. Pages past the accessible size are
// mapped with no access, so out-of-bounds accesses fault instead of
// touching neighbouring memory. Growth flips protections in place; the base
// address never changes.
//
// # Architecture Overview
//
//	wasmmemory/          Root package with LinearMemory, MemoryCreator, ResidentProbe
//	├── vmem/            Reservation, guarded memory and the memory creator
//	├── engine/          wazero experimental.MemoryAllocator bridge
//	├── runtime/         High-level API: load, instantiate, call, reclaim
//	├── residency/       Resident-size probe (linux /proc/self/smaps)
//	├── errors/          Structured error types
//	├── storage/         Counted key-value map on bbolt
//	├── internal/        Diagnostic module encoder
//	└── cmd/vmemdiag     Diagnostics CLI and watch TUI
//
// # Quick Start
//
//	rt, err := runtime.NewWithConfig(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.LoadWASM(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	_, err = inst.Call(ctx, "dirty_memory", 1024, 16)
//
// # Failure Model
//
// Reservation failures are returned as errors and fail instantiation.
// Growth beyond the maximum or the reservation is denied and surfaces in
// the guest as memory.grow returning -1. A protection change that the kernel
// rejects on a range it already granted terminates the process.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. The runtime decommits
// the accessible pages after every call by default, so resident memory
// returns to zero between calls while the address space stays reserved.
package wasmmemory
