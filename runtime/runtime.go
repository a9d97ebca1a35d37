package runtime

import (
	"context"

	"github.com/wippyai/wasm-memory/engine"
	"github.com/wippyai/wasm-memory/errors"
	"github.com/wippyai/wasm-memory/residency"
	"github.com/wippyai/wasm-memory/vmem"
)

type Runtime struct {
	engine *engine.WazeroEngine
	cfg    Config
}

// New creates a runtime with DefaultConfig.
func New(ctx context.Context) (*Runtime, error) {
	return NewWithConfig(ctx, DefaultConfig())
}

// NewWithConfig creates a runtime with cfg.
func NewWithConfig(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.Logger != nil {
		vmem.SetLogger(cfg.Logger.Named("vmem"))
		engine.SetLogger(cfg.Logger.Named("engine"))
		residency.SetLogger(cfg.Logger.Named("residency"))
	}

	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
		MemoryLimitPages: cfg.MemoryLimitPages,
		GuardBytes:       cfg.GuardBytes,
		ReserveMaximum:   cfg.ReserveMaximum,
	})
	if err != nil {
		return nil, errors.Load("create engine", err)
	}

	return &Runtime{engine: eng, cfg: cfg}, nil
}

// Config returns the configuration the runtime was created with.
func (r *Runtime) Config() Config {
	return r.cfg
}

// Close releases all runtime resources.
// All instances must be closed before calling this.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// LoadWASM compiles a core WebAssembly module.
func (r *Runtime) LoadWASM(ctx context.Context, wasm []byte) (*Module, error) {
	if len(wasm) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "empty module binary")
	}

	wazeroModule, err := r.engine.LoadModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("load module", err)
	}

	return &Module{
		runtime:      r,
		wazeroModule: wazeroModule,
	}, nil
}
