package vmem

import (
	"unsafe"

	"github.com/wippyai/wasm-memory/errors"
)

type protection uint8

const (
	protNone protection = iota
	protReadWrite
)

func newReservation(mem []byte, accessible, guard uint64) *Reservation {
	return &Reservation{
		mem:        mem,
		base:       uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		mapped:     uint64(len(mem)),
		accessible: accessible,
		guard:      guard,
	}
}

func (p protection) String() string {
	if p == protReadWrite {
		return "rw"
	}
	return "none"
}

// Reservation owns one contiguous range of virtual address space.
// The range is never moved or resized; it is returned to the OS by release.
type Reservation struct {
	// mem is the exact slice returned by the mapping call. It spans
	// accessible and guard bytes, and is nil after release.
	mem    []byte
	base   uintptr
	mapped uint64
	// accessible is the readable/writable prefix at reservation time.
	accessible uint64
	// guard is the configured trailing no-access size. The reservation
	// may hold more than accessible+guard when a capacity was requested.
	guard uint64
}

// Base returns the first address of the range.
func (r *Reservation) Base() uintptr {
	return r.base
}

// MappedBytes returns the size of the whole range.
func (r *Reservation) MappedBytes() uint64 {
	return r.mapped
}

// GuardBytes returns the configured guard size.
func (r *Reservation) GuardBytes() uint64 {
	return r.guard
}

// span returns mem[off:off+n] after checking the bounds.
func (r *Reservation) span(phase errors.Phase, op string, off, n uint64) ([]byte, error) {
	end := off + n
	if r.mem == nil {
		return nil, errors.Closed(phase, "reservation")
	}
	if end < off || end > r.mapped {
		return nil, errors.New(phase, errors.KindInvalidInput).
			Op(op, r.Base()+uintptr(off), n).
			Detail("range exceeds reservation of %d bytes", r.MappedBytes()).
			Build()
	}
	return r.mem[off:end:end], nil
}

// protect changes the protection of [off, off+n). Empty ranges are a no-op.
func (r *Reservation) protect(off, n uint64, p protection) error {
	if n == 0 {
		return nil
	}
	b, err := r.span(errors.PhaseProtect, "mprotect", off, n)
	if err != nil {
		return err
	}
	if err := sysProtect(b, p); err != nil {
		return errors.ProtocolViolation(errors.PhaseProtect, "mprotect", r.Base()+uintptr(off), n, err)
	}
	return nil
}

// decommit discards the physical pages behind [off, off+n) while keeping
// the range reserved and its protections intact.
func (r *Reservation) decommit(off, n uint64) error {
	if n == 0 {
		return nil
	}
	b, err := r.span(errors.PhaseRelease, "madvise", off, n)
	if err != nil {
		return err
	}
	if err := sysDecommit(b); err != nil {
		return errors.New(errors.PhaseRelease, errors.KindProtocolViolation).
			Op("madvise", r.Base()+uintptr(off), n).
			Cause(err).
			Build()
	}
	return nil
}

// release unmaps the whole range. The reservation must not be used afterwards.
func (r *Reservation) release() error {
	if r.mem == nil {
		return errors.Closed(errors.PhaseRelease, "reservation")
	}
	if err := sysUnmap(r.mem); err != nil {
		return errors.New(errors.PhaseRelease, errors.KindProtocolViolation).
			Op("munmap", r.base, r.mapped).
			Cause(err).
			Build()
	}
	r.mem = nil
	return nil
}
