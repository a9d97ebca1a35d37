package engine

import (
	"math"

	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	wasmmemory "github.com/wippyai/wasm-memory"
	"github.com/wippyai/wasm-memory/errors"
	"github.com/wippyai/wasm-memory/vmem"
)

// AllocatorConfig controls how wazero memories are reserved.
type AllocatorConfig struct {
	// GuardBytes is the no-access region placed after each reservation.
	GuardBytes uint64
	// ReserveMaximum reserves the declared maximum up front so the memory
	// can grow in place. When false only the initial size is reserved and
	// every grow is refused.
	ReserveMaximum bool
}

// Allocator implements experimental.MemoryAllocator on top of vmem.
//
// wazero cannot report an allocation error, so Allocate panics with an
// *errors.Error that WazeroModule.Instantiate recovers.
type Allocator struct {
	creator *vmem.Creator
	cfg     AllocatorConfig

	// OnAllocate, when set, receives every memory this allocator creates.
	OnAllocate func(*vmem.Memory)

	failed error
}

var _ experimental.MemoryAllocator = (*Allocator)(nil)

// NewAllocator returns an allocator creating memories through creator.
func NewAllocator(creator *vmem.Creator, cfg AllocatorConfig) *Allocator {
	if creator == nil {
		creator = vmem.NewCreator(nil)
	}
	return &Allocator{creator: creator, cfg: cfg}
}

// Allocate implements experimental.MemoryAllocator. capBytes is the
// initial size and maxBytes the upper bound wazero will ever request.
//
// The memory always gets maxBytes as its maximum. wazero passes its
// runtime page limit when the module declares no maximum, and the hook
// cannot tell that apart from a declared one, so Memory.Maximum reports
// the limit in both cases.
func (a *Allocator) Allocate(capBytes, maxBytes uint64) experimental.LinearMemory {
	minPages := wasmmemory.BytesToPages(capBytes)
	maxPages := wasmmemory.BytesToPages(maxBytes)
	if minPages > math.MaxUint32 || maxPages > math.MaxUint32 {
		a.fail(errors.SizeOverflow(errors.PhaseReserve, "memory pages", maxBytes))
	}

	limit := uint32(maxPages)
	ty := wasmmemory.MemoryType{Min: uint32(minPages), Max: &limit}

	var reserved *uint64
	if a.cfg.ReserveMaximum {
		capacity := wasmmemory.PagesToBytes(limit)
		reserved = &capacity
	}

	mem, err := a.creator.Create(ty, reserved, a.cfg.GuardBytes)
	if err != nil {
		a.fail(err)
	}
	Logger().Debug("allocated linear memory",
		zap.Uintptr("base", mem.Base()),
		zap.Uint32("min_pages", ty.Min),
		zap.Uint32("max_pages", limit),
		zap.Bool("reserve_maximum", a.cfg.ReserveMaximum),
	)

	if a.OnAllocate != nil {
		a.OnAllocate(mem)
	}
	return &linearMemory{mem: mem}
}

// Err returns the error of the last failed Allocate, if any.
func (a *Allocator) Err() error {
	return a.failed
}

func (a *Allocator) fail(err error) {
	a.failed = err
	panic(err)
}

// linearMemory adapts vmem.Memory to experimental.LinearMemory.
type linearMemory struct {
	mem *vmem.Memory
}

// Reallocate grows the memory to cover size bytes. It returns nil when
// growth is refused, which wazero reports as memory.grow returning -1.
func (l *linearMemory) Reallocate(size uint64) []byte {
	want := wasmmemory.BytesToPages(size)
	if want > math.MaxUint32 {
		return nil
	}
	if _, ok := l.mem.GrowTo(uint32(want)); !ok {
		return nil
	}
	buf := l.mem.Bytes()
	if uint64(len(buf)) < size {
		return nil
	}
	return buf[:size]
}

func (l *linearMemory) Free() {
	if err := l.mem.Close(); err != nil {
		Logger().Error("free linear memory", zap.Uintptr("base", l.mem.Base()), zap.Error(err))
	}
}
