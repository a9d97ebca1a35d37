// Package errors provides structured error types for the wasm-memory module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the failing OS operation and address range, plus a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseProtect, errors.KindProtocolViolation).
//		Op("mprotect", base, size).
//		Cause(errno).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ReservationFailed(mapped, errno)
//	err := errors.SizeOverflow(errors.PhaseReserve, "accessible + guard", guard)
//
// Growth refusals are not errors at the LinearMemory boundary (Grow returns
// false), but GrowthDenied is used to describe them in logs.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
