//go:build !linux

package residency

import (
	"runtime"

	"github.com/wippyai/wasm-memory/errors"
)

// New reports KindUnsupported; per-mapping residency needs /proc.
func New() (*Probe, error) {
	return nil, errors.Unsupported(errors.PhaseProbe, "residency probe on "+runtime.GOOS)
}

// ProcessResidentBytes reports KindUnsupported outside linux.
func ProcessResidentBytes() (uint64, error) {
	return 0, errors.Unsupported(errors.PhaseProbe, "process residency on "+runtime.GOOS)
}
