package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-memory/errors"
	"github.com/wippyai/wasm-memory/vmem"
)

// WazeroEngine runs core modules on wazero with guarded linear memories.
type WazeroEngine struct {
	runtime wazero.Runtime
	creator *vmem.Creator
	cfg     Config
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// It is also the maximum wazero assumes for memories that declare none.
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// GuardBytes is the inaccessible region reserved past every memory.
	GuardBytes uint64

	// ReserveMaximum reserves the maximum size of each memory up front.
	// Without it memories cannot grow.
	ReserveMaximum bool
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	if cfg == nil {
		cfg = &Config{ReserveMaximum: true}
	}

	alloc := vmem.NewAllocator()
	if !alloc.Supported() {
		return nil, errors.Unsupported(errors.PhaseLoad, "guarded linear memory on this platform")
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	return &WazeroEngine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		creator: vmem.NewCreator(alloc),
		cfg:     *cfg,
	}, nil
}

// LoadModule compiles a core module.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	return &WazeroModule{engine: e, compiled: compiled}, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// WazeroModule is a compiled WASM module
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
}

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	Name string
}

func (m *WazeroModule) Instantiate(ctx context.Context) (*WazeroInstance, error) {
	return m.InstantiateWithConfig(ctx, nil)
}

// InstantiateWithConfig creates an instance with custom configuration.
// A memory that cannot be reserved fails instantiation with the
// reservation error.
func (m *WazeroModule) InstantiateWithConfig(ctx context.Context, cfg *InstanceConfig) (inst *WazeroInstance, err error) {
	modConfig := wazero.NewModuleConfig()
	if cfg != nil && cfg.Name != "" {
		modConfig = modConfig.WithName(cfg.Name)
	} else {
		modConfig = modConfig.WithName("") // anonymous for parallel instantiation
	}

	var mem *vmem.Memory
	alloc := NewAllocator(m.engine.creator, AllocatorConfig{
		GuardBytes:     m.engine.cfg.GuardBytes,
		ReserveMaximum: m.engine.cfg.ReserveMaximum,
	})
	alloc.OnAllocate = func(lm *vmem.Memory) { mem = lm }
	ctx = experimental.WithMemoryAllocator(ctx, alloc)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(*errors.Error)
		if !ok {
			panic(r)
		}
		Logger().Warn("instantiation aborted by memory allocation", zap.Error(e))
		if mem != nil {
			_ = mem.Close()
		}
		inst, err = nil, e
	}()

	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		if allocErr := alloc.Err(); allocErr != nil {
			return nil, allocErr
		}
		return nil, fmt.Errorf("instantiate failed: %w", err)
	}

	wazInst := &WazeroInstance{
		instance:  instance,
		linear:    mem,
		funcCache: make(map[string]api.Function),
	}
	if exported := instance.Memory(); exported != nil {
		wazInst.memory = &WazeroMemory{mem: exported}
	}
	return wazInst, nil
}

// ExportNames returns the names of all exported functions
func (m *WazeroModule) ExportNames() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	return names
}

func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// WazeroInstance is a running WASM instance.
// It is NOT safe for concurrent use from multiple goroutines.
// Each goroutine should have its own Instance, or access must be synchronized externally.
type WazeroInstance struct {
	instance  api.Module
	linear    *vmem.Memory
	memory    *WazeroMemory
	funcCache map[string]api.Function
	cacheMu   sync.RWMutex
}

// GetExportedFunction returns an exported function by name, or nil.
func (i *WazeroInstance) GetExportedFunction(name string) api.Function {
	i.cacheMu.RLock()
	fn, ok := i.funcCache[name]
	i.cacheMu.RUnlock()
	if ok {
		return fn
	}

	fn = i.instance.ExportedFunction(name)
	if fn != nil {
		i.cacheMu.Lock()
		i.funcCache[name] = fn
		i.cacheMu.Unlock()
	}
	return fn
}

// Call invokes an exported function with raw core values.
func (i *WazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.instance == nil {
		return nil, errors.Closed(errors.PhaseRuntime, "instance")
	}
	fn := i.GetExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "function", name)
	}
	return fn.Call(ctx, params...)
}

// ExportedGlobal returns an exported global by name, or nil.
func (i *WazeroInstance) ExportedGlobal(name string) api.Global {
	if i.instance == nil {
		return nil
	}
	return i.instance.ExportedGlobal(name)
}

// LinearMemory returns the guarded memory backing this instance, or nil
// when the module defines none.
func (i *WazeroInstance) LinearMemory() *vmem.Memory {
	return i.linear
}

// Memory returns an accessor for the instance's exported memory, or nil.
func (i *WazeroInstance) Memory() *WazeroMemory {
	return i.memory
}

// MemorySize returns the current linear memory size in bytes, or 0 if no memory.
func (i *WazeroInstance) MemorySize() uint32 {
	if i.memory == nil {
		return 0
	}
	return i.memory.Size()
}

func (i *WazeroInstance) Close(ctx context.Context) error {
	if i.instance == nil {
		return nil
	}
	err := i.instance.Close(ctx)
	i.instance = nil
	i.memory = nil
	i.funcCache = nil
	return err
}

// WazeroMemory wraps the exported wazero memory with bounds-checked access.
type WazeroMemory struct {
	mem api.Memory
}

// Read returns a view of length bytes at offset. The view aliases guest
// memory and is only valid until the next call into the instance.
func (m *WazeroMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.outOfBounds("read", offset, uint64(length))
	}
	return data, nil
}

// Write copies data into guest memory at offset.
func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return m.outOfBounds("write", offset, uint64(len(data)))
	}
	return nil
}

// ReadU32 reads a little-endian u32 at offset.
func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, m.outOfBounds("read", offset, 4)
	}
	return val, nil
}

// WriteU32 writes a little-endian u32 at offset.
func (m *WazeroMemory) WriteU32(offset, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return m.outOfBounds("write", offset, 4)
	}
	return nil
}

// outOfBounds reports an access in guest offsets, not host addresses.
func (m *WazeroMemory) outOfBounds(op string, offset uint32, n uint64) error {
	return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
		Op(op, uintptr(offset), n).
		Detail("out of bounds for %d byte memory", m.mem.Size()).
		Build()
}

// Size returns the memory size in bytes.
func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}
