package vmem

import (
	"math/bits"

	"go.uber.org/zap"

	wasmmemory "github.com/wippyai/wasm-memory"
	"github.com/wippyai/wasm-memory/errors"
)

// Creator implements wasmmemory.MemoryCreator on top of an Allocator.
// It keeps no per-instance state; every call owns a fresh reservation.
type Creator struct {
	alloc *Allocator
}

var _ wasmmemory.MemoryCreator = (*Creator)(nil)

// NewCreator returns a creator using alloc, or a new Allocator when nil.
func NewCreator(alloc *Allocator) *Creator {
	if alloc == nil {
		alloc = NewAllocator()
	}
	return &Creator{alloc: alloc}
}

// NewMemory implements wasmmemory.MemoryCreator.
func (c *Creator) NewMemory(ty wasmmemory.MemoryType, reserved *uint64, guard uint64) (wasmmemory.LinearMemory, error) {
	m, err := c.Create(ty, reserved, guard)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create reserves a guarded memory for ty.
//
// The minimum page count is accessible immediately. reserved is the byte
// capacity available for growth; nil means the minimum, so the memory can
// never grow. guard bytes past the capacity stay inaccessible forever.
func (c *Creator) Create(ty wasmmemory.MemoryType, reserved *uint64, guard uint64) (*Memory, error) {
	if ty.Max != nil && *ty.Max < ty.Min {
		return nil, errors.New(errors.PhaseReserve, errors.KindInvalidInput).
			Detail("maximum %d pages is below minimum %d", *ty.Max, ty.Min).
			Build()
	}

	accessible := wasmmemory.PagesToBytes(ty.Min)
	capacity := accessible
	if reserved != nil {
		capacity = *reserved
	}
	if _, carry := bits.Add64(capacity, guard, 0); carry != 0 {
		return nil, errors.SizeOverflow(errors.PhaseReserve, "reservation + guard size", guard)
	}
	if capacity < accessible {
		return nil, errors.New(errors.PhaseReserve, errors.KindInvalidInput).
			Detail("reservation of %d bytes cannot hold %d minimum pages", capacity, ty.Min).
			Build()
	}

	res, err := c.alloc.ReserveCapacity(accessible, capacity, guard)
	if err != nil {
		Logger().Warn("linear memory reservation failed",
			zap.Uint32("min_pages", ty.Min),
			zap.Uint64("capacity", capacity),
			zap.Uint64("guard", guard),
			zap.Error(err),
		)
		return nil, err
	}
	return newMemory(res, ty), nil
}
