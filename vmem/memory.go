package vmem

import (
	"sync"

	"go.uber.org/zap"

	wasmmemory "github.com/wippyai/wasm-memory"
	"github.com/wippyai/wasm-memory/errors"
)

// Memory is a WASM linear memory backed by one Reservation.
//
// Accessible pages are readable and writable; everything past them up to
// the end of the reservation faults. The base address never changes.
type Memory struct {
	res      *Reservation
	maxPages uint32
	hasMax   bool

	// mu serializes Grow against Size, Decommit and Close. wazero gives no
	// exclusive access guarantee for LinearMemory, so the lock stays until
	// the engine contract provides one.
	mu     sync.Mutex
	pages  uint32
	closed bool
}

var _ wasmmemory.LinearMemory = (*Memory)(nil)

func newMemory(res *Reservation, ty wasmmemory.MemoryType) *Memory {
	m := &Memory{res: res, pages: ty.Min}
	if ty.Max != nil {
		m.maxPages, m.hasMax = *ty.Max, true
	}
	return m
}

// Size returns the accessible size in pages.
func (m *Memory) Size() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages
}

// Maximum returns the page limit declared for this memory.
func (m *Memory) Maximum() (uint32, bool) {
	return m.maxPages, m.hasMax
}

// Base returns the address of byte zero.
func (m *Memory) Base() uintptr {
	return m.res.base
}

// MappedBytes returns the size of the underlying reservation.
func (m *Memory) MappedBytes() uint64 {
	return m.res.mapped
}

// GuardBytes returns the configured guard size.
func (m *Memory) GuardBytes() uint64 {
	return m.res.guard
}

// Bytes returns the accessible region. The slice stays valid until Close
// and must not be retained across Grow; re-slice instead.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	n := wasmmemory.PagesToBytes(m.pages)
	return m.res.mem[:n:n]
}

// Grow makes delta more pages accessible and returns the new page count.
// It returns false without side effects when the result would overflow,
// exceed the maximum, or not fit the reservation.
func (m *Memory) Grow(delta uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grow(delta)
}

// GrowTo grows the memory to at least pages and returns the new page count.
// A memory that already has pages or more is left as is. The size check and
// the growth happen under one lock, so concurrent callers asking for the
// same target all succeed and the memory grows once.
func (m *Memory) GrowTo(pages uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed && pages <= m.pages {
		return m.pages, true
	}
	delta := uint32(0)
	if pages > m.pages {
		delta = pages - m.pages
	}
	return m.grow(delta)
}

func (m *Memory) grow(delta uint32) (uint32, bool) {
	if m.closed {
		m.deny(delta, denyClosed)
		return m.pages, false
	}

	newPages := m.pages + delta
	if newPages < m.pages {
		m.deny(delta, denyOverflow)
		return m.pages, false
	}
	if m.hasMax && newPages > m.maxPages {
		m.deny(delta, denyMaximum)
		return m.pages, false
	}
	newBytes := wasmmemory.PagesToBytes(newPages)
	if newBytes > m.res.mapped-m.res.guard {
		m.deny(delta, denyReservation)
		return m.pages, false
	}
	if delta == 0 {
		return m.pages, true
	}

	if err := m.res.protect(0, newBytes, protReadWrite); err != nil {
		abort(err)
		return m.pages, false
	}

	accessibleBytes.Add(float64(newBytes - wasmmemory.PagesToBytes(m.pages)))
	m.pages = newPages
	return newPages, true
}

func (m *Memory) deny(delta uint32, reason string) {
	growDenied.WithValues(reason).Inc()
	Logger().Debug("grow denied",
		zap.Uintptr("base", m.res.base),
		zap.Error(errors.GrowthDenied(m.pages, delta, reason)),
	)
}

// Decommit discards the physical pages behind the accessible region.
// Size and protections are unchanged. On linux the region reads as zero
// afterwards; on other platforms its contents are unspecified.
func (m *Memory) Decommit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.Closed(errors.PhaseRelease, "memory")
	}
	if err := m.res.decommit(0, wasmmemory.PagesToBytes(m.pages)); err != nil {
		return err
	}
	decommitsTotal.Inc()
	return nil
}

// Close unmaps the reservation. It is safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	if err := m.res.release(); err != nil {
		return err
	}
	m.closed = true

	releasesTotal.Inc()
	reservedBytes.Add(-float64(m.res.mapped))
	accessibleBytes.Add(-float64(wasmmemory.PagesToBytes(m.pages)))
	Logger().Debug("released linear memory",
		zap.Uintptr("base", m.res.base),
		zap.Uint32("pages", m.pages),
	)
	return nil
}
