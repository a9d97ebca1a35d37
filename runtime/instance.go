package runtime

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmmemory "github.com/wippyai/wasm-memory"
	"github.com/wippyai/wasm-memory/engine"
	"github.com/wippyai/wasm-memory/errors"
	"github.com/wippyai/wasm-memory/vmem"
)

// Instance is a running module. It is NOT safe for concurrent use.
type Instance struct {
	module         *Module
	wazeroInstance *engine.WazeroInstance
	reclaim        bool
}

// Call invokes an exported function with raw core values. When the
// runtime reclaims after calls, the instance's memory is decommitted once
// the call returns, whether or not it trapped.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.module == nil {
		return nil, errors.Closed(errors.PhaseRuntime, "instance")
	}

	results, err := i.wazeroInstance.Call(ctx, name, params...)
	if i.reclaim {
		if rerr := i.Reclaim(); rerr != nil {
			engine.Logger().Warn("reclaim after call failed", zap.String("func", name), zap.Error(rerr))
			if err == nil {
				err = rerr
			}
		}
	}
	return results, err
}

// Reclaim discards the physical pages behind the instance's memory.
func (i *Instance) Reclaim() error {
	mem := i.wazeroInstance.LinearMemory()
	if mem == nil {
		return nil
	}
	return mem.Decommit()
}

// GlobalU32 reads an exported i32 global.
func (i *Instance) GlobalU32(name string) (uint32, error) {
	g := i.wazeroInstance.ExportedGlobal(name)
	if g == nil {
		return 0, errors.NotFound(errors.PhaseRuntime, "global", name)
	}
	if g.Type() != api.ValueTypeI32 {
		return 0, errors.InvalidInput(errors.PhaseRuntime, "global "+name+" is not i32")
	}
	return api.DecodeU32(g.Get()), nil
}

// Memory returns the guarded memory of the instance, or nil.
func (i *Instance) Memory() *vmem.Memory {
	return i.wazeroInstance.LinearMemory()
}

// ExportedMemory returns bounds-checked access to the exported memory.
func (i *Instance) ExportedMemory() *engine.WazeroMemory {
	return i.wazeroInstance.Memory()
}

// ResidentBytes asks probe how much of the memory's mapping is resident.
// It returns 0 when the instance has no memory.
func (i *Instance) ResidentBytes(probe wasmmemory.ResidentProbe) uint64 {
	mem := i.Memory()
	if mem == nil {
		return 0
	}
	return probe.ResidentBytes(mem.Base())
}

func (i *Instance) Close(ctx context.Context) error {
	i.module = nil
	return i.wazeroInstance.Close(ctx)
}
