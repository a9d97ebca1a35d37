//go:build linux

package residency

import (
	"os"

	"github.com/prometheus/procfs"

	"github.com/wippyai/wasm-memory/errors"
)

const smapsPath = "/proc/self/smaps"

// New returns a probe backed by /proc/self/smaps.
func New() (*Probe, error) {
	if _, err := os.Stat(smapsPath); err != nil {
		return nil, errors.New(errors.PhaseProbe, errors.KindUnsupported).
			Op("stat", 0, 0).
			Detail("%s", smapsPath).
			Cause(err).
			Build()
	}
	return &Probe{path: smapsPath}, nil
}

// ProcessResidentBytes returns the resident set size of the whole process.
func ProcessResidentBytes() (uint64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, errors.Wrap(errors.PhaseProbe, errors.KindUnsupported, err, "open /proc/self")
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, errors.Wrap(errors.PhaseProbe, errors.KindUnsupported, err, "read /proc/self/stat")
	}
	return uint64(stat.ResidentMemory()), nil
}
