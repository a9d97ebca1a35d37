//go:build linux

package residency

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/wippyai/wasm-memory/errors"
)

// mapAnon maps size bytes fenced by inaccessible pages, so the kernel
// cannot merge the range with a neighbouring mapping.
func mapAnon(t *testing.T, size int) []byte {
	t.Helper()
	page := unix.Getpagesize()
	mem, err := unix.Mmap(-1, 0, size+2*page, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = unix.Munmap(mem) })

	inner := mem[page : page+size]
	assert.NilError(t, unix.Mprotect(inner, unix.PROT_READ|unix.PROT_WRITE))
	return inner
}

func TestProbe_ResidentBytes(t *testing.T) {
	p, err := New()
	assert.NilError(t, err)

	const size = 64 << 20
	mem := mapAnon(t, size)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))

	r, err := p.Lookup(base)
	assert.NilError(t, err)
	assert.Assert(t, r.Contains(base))
	assert.Equal(t, r.Size, uint64(size))
	before := p.ResidentBytes(base)
	assert.Assert(t, before < 1<<20, "fresh mapping has %d resident bytes", before)

	for i := 0; i < size; i += 4096 {
		mem[i] = 1
	}
	after := p.ResidentBytes(base)
	assert.Assert(t, after >= size, "touched mapping has %d resident bytes", after)

	assert.NilError(t, unix.Madvise(mem, unix.MADV_DONTNEED))
	dropped := p.ResidentBytes(base)
	assert.Assert(t, dropped < 1<<20, "decommitted mapping has %d resident bytes", dropped)
}

func TestProbe_UnknownAddressPanics(t *testing.T) {
	p, err := New()
	assert.NilError(t, err)

	_, err = p.Lookup(1)
	assert.Equal(t, err.(*errors.Error).Kind, errors.KindNotFound)

	func() {
		defer func() {
			r := recover()
			e, ok := r.(*errors.Error)
			assert.Assert(t, ok, "unexpected panic value %v", r)
			assert.Equal(t, e.Kind, errors.KindProtocolViolation)
			assert.Assert(t, errors.IsKind(e, errors.KindNotFound))
		}()
		p.ResidentBytes(1)
		t.Fatal("ResidentBytes did not panic")
	}()

	// A recovered violation leaves the probe usable.
	mem := mapAnon(t, 1<<20)
	assert.Assert(t, p.ResidentBytes(uintptr(unsafe.Pointer(unsafe.SliceData(mem)))) < 1<<20)
}

func TestProbe_MissingFile(t *testing.T) {
	p := &Probe{path: t.TempDir() + "/missing"}
	_, err := p.Lookup(0x1000)
	assert.Equal(t, err.(*errors.Error).Kind, errors.KindUnsupported)
}

func TestProcessResidentBytes(t *testing.T) {
	n, err := ProcessResidentBytes()
	assert.NilError(t, err)
	assert.Assert(t, n > 0)
}
