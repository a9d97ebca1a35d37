package probemodule

import (
	wasmmemory "github.com/wippyai/wasm-memory"
)

// Export names of the diagnostic module.
const (
	ExportDirtyMemory = "dirty_memory"
	ExportGrow        = "grow"
	ExportMemory      = "memory"
	ExportHeapBase    = "__heap_base"
)

// Config shapes the module's memory and heap layout.
type Config struct {
	// HeapBase is the value of the __heap_base global.
	HeapBase uint32
	// MinPages is the declared minimum of the exported memory.
	MinPages uint32
	// MaxPages is the declared maximum; nil leaves the memory unbounded.
	MaxPages *uint32
}

// DefaultConfig leaves room for 1024 pages to be dirtied past the heap base.
func DefaultConfig() Config {
	const heapBase = 1024
	maxPages := uint32(wasmmemory.BytesToPages(heapBase + wasmmemory.PagesToBytes(1024)))
	return Config{HeapBase: heapBase, MinPages: 1, MaxPages: &maxPages}
}

const (
	sectionType     = 0x01
	sectionFunction = 0x03
	sectionMemory   = 0x05
	sectionGlobal   = 0x06
	sectionExport   = 0x07
	sectionCode     = 0x0a

	typeFunc = 0x60
	typeI32  = 0x7f

	exportFunc   = 0x00
	exportMemory = 0x02
	exportGlobal = 0x03

	opUnreachable = 0x00
	opIf          = 0x04
	opEnd         = 0x0b
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opMemorySize  = 0x3f
	opMemoryGrow  = 0x40
	opI32Const    = 0x41
	opI32Eq       = 0x46
	opI32GtU      = 0x4b
	opI32Add      = 0x6a
	opI32Sub      = 0x6b
	opI32Shl      = 0x74
	opI32ShrU     = 0x76
	opMisc        = 0xfc
	miscFill      = 0x0b
	blockEmpty    = 0x40
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Build encodes the diagnostic module.
//
// dirty_memory(offset, pages) grows the memory until offset+pages*64KiB is
// in bounds, trapping if growth is refused, then fills that range with
// ones. grow(delta) is memory.grow and returns the previous page count or
// -1.
func Build(cfg Config) []byte {
	var out writer
	out.byte(header...)

	var types writer
	types.u32(2)
	types.byte(typeFunc, 2, typeI32, typeI32, 0)
	types.byte(typeFunc, 1, typeI32, 1, typeI32)
	out.section(sectionType, &types)

	var funcs writer
	funcs.u32(2)
	funcs.u32(0)
	funcs.u32(1)
	out.section(sectionFunction, &funcs)

	var mem writer
	mem.u32(1)
	if cfg.MaxPages != nil {
		mem.byte(0x01)
		mem.u32(cfg.MinPages)
		mem.u32(*cfg.MaxPages)
	} else {
		mem.byte(0x00)
		mem.u32(cfg.MinPages)
	}
	out.section(sectionMemory, &mem)

	var globals writer
	globals.u32(1)
	globals.byte(typeI32, 0x00, opI32Const)
	globals.s32(int32(cfg.HeapBase))
	globals.byte(opEnd)
	out.section(sectionGlobal, &globals)

	var exports writer
	exports.u32(4)
	exports.name(ExportDirtyMemory)
	exports.byte(exportFunc, 0)
	exports.name(ExportGrow)
	exports.byte(exportFunc, 1)
	exports.name(ExportMemory)
	exports.byte(exportMemory, 0)
	exports.name(ExportHeapBase)
	exports.byte(exportGlobal, 0)
	out.section(sectionExport, &exports)

	var code writer
	code.u32(2)
	code.vec(dirtyMemoryBody())
	code.vec(growBody())
	out.section(sectionCode, &code)

	return out.bytes()
}

// dirtyMemoryBody uses local 2 for the end offset and local 3 for the
// page count needed to cover it.
func dirtyMemoryBody() *writer {
	var w writer
	w.byte(0x01, 0x02, typeI32)

	// end = offset + pages<<16
	w.byte(opLocalGet, 0, opLocalGet, 1, opI32Const, wasmmemory.PageShift, opI32Shl, opI32Add, opLocalSet, 2)

	// need = (end + 0xffff) >> 16
	w.byte(opLocalGet, 2, opI32Const)
	w.s32(wasmmemory.PageSize - 1)
	w.byte(opI32Add, opI32Const, wasmmemory.PageShift, opI32ShrU, opLocalSet, 3)

	// if need > memory.size { if memory.grow(need - memory.size) == -1 { unreachable } }
	w.byte(opLocalGet, 3, opMemorySize, 0, opI32GtU, opIf, blockEmpty)
	w.byte(opLocalGet, 3, opMemorySize, 0, opI32Sub, opMemoryGrow, 0, opI32Const)
	w.s32(-1)
	w.byte(opI32Eq, opIf, blockEmpty, opUnreachable, opEnd)
	w.byte(opEnd)

	// memory.fill(offset, 1, pages<<16)
	w.byte(opLocalGet, 0, opI32Const, 1, opLocalGet, 1, opI32Const, wasmmemory.PageShift, opI32Shl)
	w.byte(opMisc, miscFill, 0)

	w.byte(opEnd)
	return &w
}

func growBody() *writer {
	var w writer
	w.byte(0x00)
	w.byte(opLocalGet, 0, opMemoryGrow, 0, opEnd)
	return &w
}
