package vmem

import (
	"math"
	"math/bits"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-memory/errors"
)

// Allocator reserves guarded address ranges. It is an immutable value
// created once per process and safe for concurrent use.
type Allocator struct {
	pageSize uint64
}

// NewAllocator returns an allocator bound to the host's page size.
func NewAllocator() *Allocator {
	return &Allocator{pageSize: hostPageSize()}
}

// PageSize returns the host page size in bytes.
func (a *Allocator) PageSize() uint64 {
	return a.pageSize
}

// Supported reports whether this platform has a reservation backend.
func (a *Allocator) Supported() bool {
	return supported
}

// Reserve maps accessible+guard bytes and makes the trailing guard bytes
// inaccessible.
func (a *Allocator) Reserve(accessible, guard uint64) (*Reservation, error) {
	return a.ReserveCapacity(accessible, accessible, guard)
}

// ReserveCapacity maps capacity+guard bytes, of which only the first
// accessible bytes are readable and writable. The remainder is no-access
// and becomes available through growth.
func (a *Allocator) ReserveCapacity(accessible, capacity, guard uint64) (*Reservation, error) {
	if !supported {
		return nil, errors.Unsupported(errors.PhaseReserve, "guarded virtual memory on this platform")
	}
	if capacity < accessible {
		return nil, errors.New(errors.PhaseReserve, errors.KindInvalidInput).
			Detail("capacity %d is smaller than accessible size %d", capacity, accessible).
			Build()
	}

	mapped, carry := bits.Add64(capacity, guard, 0)
	if carry != 0 {
		return nil, errors.SizeOverflow(errors.PhaseReserve, "capacity + guard", guard)
	}
	if mapped == 0 {
		// Keep a valid base for empty memories; the page acts as guard.
		mapped = a.pageSize
	}
	if mapped > math.MaxInt {
		return nil, errors.SizeOverflow(errors.PhaseReserve, "mapping size", mapped)
	}

	mem, err := sysReserve(mapped)
	if err != nil {
		reservationFailuresTotal.Inc()
		return nil, errors.ReservationFailed(mapped, err)
	}

	r := newReservation(mem, accessible, guard)
	if err := r.protect(accessible, mapped-accessible, protNone); err != nil {
		abort(err)
		_ = sysUnmap(mem)
		return nil, err
	}

	reservationsTotal.Inc()
	reservedBytes.Add(float64(mapped))
	accessibleBytes.Add(float64(accessible))

	Logger().Debug("reserved linear memory",
		zap.Uintptr("base", r.Base()),
		zap.Uint64("mapped", mapped),
		zap.Uint64("accessible", accessible),
		zap.Uint64("guard", guard),
	)
	return r, nil
}
