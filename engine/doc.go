// Package engine runs WebAssembly core modules on wazero with guarded,
// non-moving linear memories.
//
// # Architecture
//
//	WazeroEngine   - owns the wazero runtime and the vmem creator
//	WazeroModule   - a compiled module, can create instances
//	WazeroInstance - a running module with its guarded memory
//	Allocator      - experimental.MemoryAllocator backed by vmem
//
// # Memory Flow
//
// Every instantiation installs a fresh Allocator on the context through
// experimental.WithMemoryAllocator. wazero then calls:
//
//  1. Allocate(cap, max) once, which reserves a vmem.Memory
//  2. Reallocate(size) on init and on every memory.grow, which maps to Grow
//  3. Free() when the instance closes, which unmaps the reservation
//
// A refused grow returns nil from Reallocate, and the guest sees
// memory.grow return -1. A refused reservation aborts instantiation with
// the *errors.Error produced by vmem.
package engine
