package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/wippyai/wasm-memory/errors"
	"github.com/wippyai/wasm-memory/vmem"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"2GiB", 2 << 30},
		{"64m", 64 << 20},
		{"4096", 4096},
		{"1k", 1 << 10},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSize(tt.in)
			assert.NilError(t, err)
			assert.Equal(t, got, tt.want)
		})
	}

	_, err := parseSize("lots")
	assert.Assert(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestLoadFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmemdiag.toml")
	data := `
guard = "64MiB"
memory_limit_pages = 2048
reclaim_after_call = false
log_level = "debug"
db = "/tmp/history.db"
`
	assert.NilError(t, os.WriteFile(path, []byte(data), 0o600))

	fc, err := loadFileConfig(path)
	assert.NilError(t, err)
	assert.Equal(t, fc.Guard, "64MiB")
	assert.Equal(t, fc.LogLevel, "debug")
	assert.Equal(t, fc.DB, "/tmp/history.db")
	assert.Assert(t, fc.ReserveMaximum == nil)

	cfg, err := fc.runtimeConfig()
	assert.NilError(t, err)
	assert.Equal(t, cfg.GuardBytes, uint64(64<<20))
	assert.Equal(t, cfg.MemoryLimitPages, uint32(2048))
	assert.Assert(t, cfg.ReserveMaximum)
	assert.Assert(t, !cfg.ReclaimAfterCall)
}

func TestLoadFileConfig_Errors(t *testing.T) {
	_, err := loadFileConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Assert(t, errors.IsKind(err, errors.KindNotFound))

	path := filepath.Join(t.TempDir(), "bad.toml")
	assert.NilError(t, os.WriteFile(path, []byte("guard = = 1"), 0o600))
	_, err = loadFileConfig(path)
	assert.Assert(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestDefaultFileConfig(t *testing.T) {
	cfg, err := defaultFileConfig().runtimeConfig()
	assert.NilError(t, err)
	assert.Equal(t, cfg.GuardBytes, uint64(2<<30))
	assert.Assert(t, cfg.ReclaimAfterCall)
}

func TestRecorderAndHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")

	rec, err := openRecorder(db)
	assert.NilError(t, err)
	now := time.Now()
	assert.NilError(t, rec.add(record{Time: now, Scenario: "roundtrip", Pages: 1, MemoryPages: 2}))
	assert.NilError(t, rec.add(record{Time: now.Add(time.Second), Scenario: "roundtrip", Pages: 1024, MemoryPages: 1025}))
	assert.NilError(t, rec.Close())

	out, err := execute(t, "history", "--db", db, "--log-level", "error")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "SCENARIO"))
	assert.Check(t, is.Contains(out, "1025"))
	assert.Check(t, is.Contains(out, "2 results"))

	out, err = execute(t, "history", "--db", db, "--clear", "--log-level", "error")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "cleared"))

	out, err = execute(t, "history", "--db", db, "--recount", "--log-level", "error")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "0 results"))
}

func TestHistory_RequiresDB(t *testing.T) {
	_, err := execute(t, "history", "--log-level", "error")
	assert.Assert(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestRecorder_Disabled(t *testing.T) {
	rec, err := openRecorder("")
	assert.NilError(t, err)
	assert.NilError(t, rec.add(record{Scenario: "grow"}))
	assert.NilError(t, rec.Close())
}

func TestGrowCommand(t *testing.T) {
	if !vmem.NewAllocator().Supported() {
		t.Skipf("guarded memory not supported on %s", runtime.GOOS)
	}
	db := filepath.Join(t.TempDir(), "history.db")

	out, err := execute(t, "grow", "--initial", "1", "--max", "5", "--step", "2", "--touch",
		"--guard", "64KiB", "--db", db, "--log-level", "error")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "refused"))
	assert.Check(t, is.Contains(out, "decommitted"))

	// 1, 3 and 5 pages are reported before the refused grow.
	lines := strings.Split(out, "\n")
	var sizes []string
	for _, l := range lines {
		if f := strings.Fields(l); len(f) > 0 && (f[0] == "1" || f[0] == "3" || f[0] == "5") {
			sizes = append(sizes, f[0])
		}
	}
	assert.Check(t, is.Len(sizes, 4))

	out, err = execute(t, "history", "--db", db, "--log-level", "error")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "grow"))
	assert.Check(t, is.Contains(out, "1 results"))
}

func TestRoundtripCommand(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("residency probe needs linux")
	}

	out, err := execute(t, "roundtrip", "--pages", "1,16", "--guard", "64KiB", "--log-level", "error")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "RESIDENT"))
	assert.Check(t, is.Contains(out, "0B"))
}

func TestRoundtripCommand_NoReclaim(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("residency probe needs linux")
	}

	out, err := execute(t, "roundtrip", "--pages", "2", "--guard", "64KiB", "--no-reclaim", "--log-level", "error")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "RESIDENT"))
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "history", "--log-level", "loud")
	assert.ErrorContains(t, err, "log level")
}
