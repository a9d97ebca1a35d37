// Package runtime provides the high-level API for running WebAssembly core
// modules in guarded, non-moving linear memory.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
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
//	results, err := inst.Call(ctx, "run", 42)
//
// # Memory
//
// Each instance's memory is a single reservation sized to its declared
// maximum plus Config.GuardBytes. Growth changes protections in place and
// never moves the memory. Growth beyond the reservation makes
// memory.grow return -1.
//
// With Config.ReclaimAfterCall the physical pages behind the memory are
// discarded after every Call. Address space stays reserved; only resident
// memory is returned to the OS. Instance.ResidentBytes reports what is
// still resident, given a probe from the residency package.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. You can call
// Module.Instantiate() from multiple goroutines concurrently.
//
// Instance is NOT thread-safe. Each goroutine should have its own
// Instance, or access must be synchronized externally.
//
// # Resource Management
//
// Always close instances when done. Closing unmaps the reservation.
package runtime
