package vmem

import (
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"testing"

	"gotest.tools/v3/assert"

	wasmmemory "github.com/wippyai/wasm-memory"
	"github.com/wippyai/wasm-memory/errors"
)

const testGuard = 64 << 10

// sink keeps faulting loads from being optimized away.
var sink byte

func requireSupported(t *testing.T) {
	t.Helper()
	if !NewAllocator().Supported() {
		t.Skipf("guarded memory not supported on %s", runtime.GOOS)
	}
}

func pages(n uint32) *uint32 { return &n }

func capacity(n uint32) *uint64 {
	b := wasmmemory.PagesToBytes(n)
	return &b
}

func newTestMemory(t *testing.T, ty wasmmemory.MemoryType, reserved *uint64) *Memory {
	t.Helper()
	m, err := NewCreator(nil).Create(ty, reserved, testGuard)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// faults runs fn and reports whether it hit a memory fault.
func faults(t *testing.T, fn func()) (faulted bool) {
	t.Helper()
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(interface{ Addr() uintptr }); !ok {
				panic(r)
			}
			faulted = true
		}
	}()
	fn()
	return false
}

func TestCreate_Validation(t *testing.T) {
	requireSupported(t)
	c := NewCreator(nil)

	tests := []struct {
		name     string
		ty       wasmmemory.MemoryType
		reserved *uint64
		guard    uint64
		kind     errors.Kind
	}{
		{"max below min", wasmmemory.MemoryType{Min: 4, Max: pages(2)}, nil, 0, errors.KindInvalidInput},
		{"reservation below min", wasmmemory.MemoryType{Min: 4}, capacity(2), 0, errors.KindInvalidInput},
		{"guard overflows", wasmmemory.MemoryType{Min: 0}, func() *uint64 { v := uint64(math.MaxUint64 - 10); return &v }(), 100, errors.KindSizeOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := c.NewMemory(tt.ty, tt.reserved, tt.guard)
			assert.Assert(t, m == nil)
			e, ok := err.(*errors.Error)
			assert.Assert(t, ok, "unexpected error type %T", err)
			assert.Equal(t, e.Kind, tt.kind)
		})
	}
}

func TestReserve_Failure(t *testing.T) {
	requireSupported(t)
	if uint64(math.MaxInt) < 1<<62 {
		t.Skip("needs a 64-bit address space")
	}

	_, err := NewAllocator().Reserve(1<<62, 0)
	assert.Assert(t, err != nil)
	e, ok := err.(*errors.Error)
	assert.Assert(t, ok, "unexpected error type %T", err)
	assert.Equal(t, e.Kind, errors.KindReservationFailed)
	assert.Assert(t, e.Errno() != 0)
}

func TestReserve_Overflow(t *testing.T) {
	requireSupported(t)

	_, err := NewAllocator().Reserve(math.MaxUint64-1, 2)
	assert.Assert(t, err != nil)
	assert.Equal(t, err.(*errors.Error).Kind, errors.KindSizeOverflow)
}

func TestReserve_Empty(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{}, nil)
	assert.Assert(t, m.Base() != 0)
	assert.Equal(t, m.Size(), uint32(0))

	_, ok := m.Grow(1)
	assert.Assert(t, !ok)
}

func TestGrow_WithMax(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{Min: 0, Max: pages(10)}, capacity(10))

	got, ok := m.Grow(5)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(5))

	// Zero page grow is well-defined and reports the current size.
	got, ok = m.Grow(0)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(5))

	got, ok = m.Grow(4)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(9))

	_, ok = m.Grow(2)
	assert.Assert(t, !ok)
	assert.Equal(t, m.Size(), uint32(9))

	got, ok = m.Grow(1)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(10))

	limit, hasMax := m.Maximum()
	assert.Assert(t, hasMax)
	assert.Equal(t, m.Size(), limit)
}

func TestGrow_WithoutMax(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{Min: 1}, capacity(3))

	_, hasMax := m.Maximum()
	assert.Assert(t, !hasMax)

	got, ok := m.Grow(2)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(3))

	// The reservation bounds growth when no maximum is declared.
	_, ok = m.Grow(1)
	assert.Assert(t, !ok)
	assert.Equal(t, m.Size(), uint32(3))
}

func TestGrow_NilReservation(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{Min: 2, Max: pages(100)}, nil)

	_, ok := m.Grow(1)
	assert.Assert(t, !ok)
	assert.Equal(t, m.Size(), uint32(2))
	assert.Equal(t, m.MappedBytes(), wasmmemory.PagesToBytes(2)+testGuard)
}

func TestGrow_Overflow(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{Min: 1}, capacity(2))

	_, ok := m.Grow(math.MaxUint32)
	assert.Assert(t, !ok)
	assert.Equal(t, m.Size(), uint32(1))

	got, ok := m.Grow(1)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(2))
}

func TestGrow_BaseStable(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{Min: 1}, capacity(64))
	base := m.Base()

	for i := 0; i < 63; i++ {
		_, ok := m.Grow(1)
		assert.Assert(t, ok)
		assert.Equal(t, m.Base(), base)
	}
	assert.Equal(t, m.Size(), uint32(64))
}

func TestGrow_GuardProtection(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{Min: 1}, capacity(2))
	mem := m.res.mem
	boundary := wasmmemory.PagesToBytes(1)

	assert.Assert(t, !faults(t, func() { mem[boundary-1] = 1 }), "last accessible byte must be writable")
	assert.Assert(t, faults(t, func() { mem[boundary] = 1 }), "first byte past the boundary must fault")
	assert.Assert(t, faults(t, func() { sink = mem[len(mem)-1] }), "guard region must fault")

	_, ok := m.Grow(1)
	assert.Assert(t, ok)
	boundary = wasmmemory.PagesToBytes(2)

	assert.Assert(t, !faults(t, func() { mem[boundary-1] = 1 }))
	assert.Assert(t, faults(t, func() { mem[boundary] = 1 }))
	assert.Equal(t, mem[boundary-1], byte(1))
}

func TestGrow_ProtectFailureAborts(t *testing.T) {
	requireSupported(t)

	var aborted error
	old := abort
	abort = func(err error) { aborted = err }
	defer func() { abort = old }()

	m, err := NewCreator(nil).Create(wasmmemory.MemoryType{Min: 1}, capacity(4), testGuard)
	assert.NilError(t, err)

	// Pull the mapping out from under the memory so mprotect fails.
	assert.NilError(t, sysUnmap(m.res.mem))

	_, ok := m.Grow(1)
	assert.Assert(t, !ok)
	assert.Assert(t, aborted != nil)
	assert.Equal(t, aborted.(*errors.Error).Kind, errors.KindProtocolViolation)
	assert.Equal(t, m.Size(), uint32(1))

	m.res.mem = nil
	m.closed = true
}

func TestGrow_Concurrent(t *testing.T) {
	requireSupported(t)

	const workers = 16
	m := newTestMemory(t, wasmmemory.MemoryType{Min: 0}, capacity(workers))

	var wg sync.WaitGroup
	results := make(chan uint32, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := m.Grow(1)
			if ok {
				results <- got
			}
			_ = m.Size()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint32]bool)
	for r := range results {
		assert.Assert(t, !seen[r], "page count %d reported twice", r)
		seen[r] = true
	}
	assert.Equal(t, len(seen), workers)
	assert.Equal(t, m.Size(), uint32(workers))
}

func TestGrowTo(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{Min: 2, Max: pages(6)}, capacity(6))

	got, ok := m.GrowTo(1)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(2))

	got, ok = m.GrowTo(5)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(5))

	got, ok = m.GrowTo(5)
	assert.Assert(t, ok)
	assert.Equal(t, got, uint32(5))

	_, ok = m.GrowTo(7)
	assert.Assert(t, !ok)
	assert.Equal(t, m.Size(), uint32(5))

	assert.NilError(t, m.Close())
	_, ok = m.GrowTo(1)
	assert.Assert(t, !ok)
}

func TestGrowTo_ConcurrentSameTarget(t *testing.T) {
	requireSupported(t)

	const workers = 16
	m := newTestMemory(t, wasmmemory.MemoryType{Min: 1}, capacity(8))

	var wg sync.WaitGroup
	failed := make(chan uint32, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := m.GrowTo(8)
			if !ok || got != 8 {
				failed <- got
			}
		}()
	}
	wg.Wait()
	close(failed)

	for got := range failed {
		t.Errorf("GrowTo(8) reported %d pages", got)
	}
	assert.Equal(t, m.Size(), uint32(8))
}

func TestDecommit(t *testing.T) {
	requireSupported(t)

	m := newTestMemory(t, wasmmemory.MemoryType{Min: 2}, capacity(4))
	buf := m.Bytes()
	assert.Equal(t, len(buf), int(wasmmemory.PagesToBytes(2)))
	for i := range buf {
		buf[i] = 0xAB
	}

	assert.NilError(t, m.Decommit())
	assert.Equal(t, m.Size(), uint32(2))

	if runtime.GOOS == "linux" {
		for i := 0; i < len(buf); i += 4096 {
			assert.Equal(t, buf[i], byte(0), "offset %d", i)
		}
	}
	assert.Assert(t, !faults(t, func() { buf[len(buf)-1] = 1 }))
}

func TestClose(t *testing.T) {
	requireSupported(t)

	m, err := NewCreator(nil).Create(wasmmemory.MemoryType{Min: 1}, capacity(2), testGuard)
	assert.NilError(t, err)
	base := m.Base()

	assert.NilError(t, m.Close())
	assert.NilError(t, m.Close())

	assert.Equal(t, m.Base(), base)
	assert.Assert(t, m.Bytes() == nil)
	_, ok := m.Grow(1)
	assert.Assert(t, !ok)

	err = m.Decommit()
	assert.Equal(t, err.(*errors.Error).Kind, errors.KindClosed)
}
