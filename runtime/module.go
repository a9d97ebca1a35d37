package runtime

import (
	"context"

	"github.com/wippyai/wasm-memory/engine"
	"github.com/wippyai/wasm-memory/errors"
)

type Module struct {
	runtime      *Runtime
	wazeroModule *engine.WazeroModule
}

// Instantiate creates an instance backed by a fresh guarded memory.
// A memory that cannot be reserved is reported as KindInstantiation
// wrapping the reservation error.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	wazeroInstance, err := m.wazeroModule.InstantiateWithConfig(ctx, &engine.InstanceConfig{})
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	return &Instance{
		module:         m,
		wazeroInstance: wazeroInstance,
		reclaim:        m.runtime.cfg.ReclaimAfterCall,
	}, nil
}

type Export struct {
	Name string
}

func (m *Module) Exports() []Export {
	names := m.wazeroModule.ExportNames()
	if len(names) == 0 {
		return nil
	}
	exports := make([]Export, len(names))
	for i, name := range names {
		exports[i] = Export{Name: name}
	}
	return exports
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.wazeroModule.Close(ctx)
}
