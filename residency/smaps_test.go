package residency

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

const smapsFixture = `55d4c8a00000-55d4c8a21000 rw-p 00000000 00:00 0                          [heap]
Size:                132 kB
KernelPageSize:        4 kB
MMUPageSize:           4 kB
Rss:                  12 kB
Pss:                  12 kB
VmFlags: rd wr mr mw me ac sd
7f3a10000000-7f3a90010000 rw-p 00000000 00:00 0 
Size:            2097216 kB
KernelPageSize:        4 kB
MMUPageSize:           4 kB
Rss:               65536 kB
Pss:               65536 kB
VmFlags: rd wr mr mw me nr sd
7f3a90010000-7f3a90020000 ---p 00000000 00:00 0 
Size:                 64 kB
Rss:                   0 kB
VmFlags: mr mw me nr sd
`

func TestFindRegion(t *testing.T) {
	tests := []struct {
		name  string
		addr  uintptr
		found bool
		want  Region
	}{
		{
			name:  "heap start",
			addr:  0x55d4c8a00000,
			found: true,
			want:  Region{Start: 0x55d4c8a00000, End: 0x55d4c8a21000, Perms: "rw-p", Size: 132 << 10, Rss: 12 << 10},
		},
		{
			name:  "inside anonymous mapping",
			addr:  0x7f3a10123456,
			found: true,
			want:  Region{Start: 0x7f3a10000000, End: 0x7f3a90010000, Perms: "rw-p", Size: 2097216 << 10, Rss: 65536 << 10},
		},
		{
			name:  "last mapping",
			addr:  0x7f3a9001ffff,
			found: true,
			want:  Region{Start: 0x7f3a90010000, End: 0x7f3a90020000, Perms: "---p", Size: 64 << 10},
		},
		{name: "end is exclusive", addr: 0x7f3a90020000},
		{name: "below everything", addr: 0x1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found, err := findRegion(strings.NewReader(smapsFixture), tt.addr)
			assert.NilError(t, err)
			assert.Equal(t, found, tt.found)
			if tt.found {
				assert.DeepEqual(t, got, tt.want)
			}
		})
	}
}

func TestFindRegion_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad range", "zzzz-1000 rw-p 0 00:00 0\n"},
		{"inverted range", "2000-1000 rw-p 0 00:00 0\n"},
		{"missing dash", "1000 rw-p 0 00:00 0\n"},
		{"bad rss", "1000-2000 rw-p 0 00:00 0\nRss: lots kB\n"},
		{"rss without unit", "1000-2000 rw-p 0 00:00 0\nRss: 4\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := findRegion(strings.NewReader(tt.input), 0x1000)
			assert.Assert(t, err != nil)
		})
	}
}

func TestFindRegion_IgnoresOtherMappings(t *testing.T) {
	// Attribute lines of unrelated mappings are skipped without parsing.
	input := "1000-2000 r--p 0 00:00 0\nRss: garbage\n3000-4000 rw-p 0 00:00 0\nRss: 8 kB\n"
	got, found, err := findRegion(strings.NewReader(input), 0x3800)
	assert.NilError(t, err)
	assert.Assert(t, found)
	assert.Equal(t, got.Rss, uint64(8<<10))
}

func TestRegion_Contains(t *testing.T) {
	r := Region{Start: 0x1000, End: 0x2000}
	assert.Assert(t, r.Contains(0x1000))
	assert.Assert(t, r.Contains(0x1fff))
	assert.Assert(t, !r.Contains(0x2000))
	assert.Assert(t, !r.Contains(0xfff))
}
