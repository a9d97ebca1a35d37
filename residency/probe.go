package residency

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	wasmmemory "github.com/wippyai/wasm-memory"
	"github.com/wippyai/wasm-memory/errors"
)

// Probe answers residency questions for mappings of the current process.
type Probe struct {
	path string
}

var _ wasmmemory.ResidentProbe = (*Probe)(nil)

// Lookup returns the mapping containing addr.
func (p *Probe) Lookup(addr uintptr) (Region, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return Region{}, errors.New(errors.PhaseProbe, errors.KindUnsupported).
			Op("open", addr, 0).
			Detail("%s", p.path).
			Cause(err).
			Build()
	}
	defer f.Close()

	r, found, err := findRegion(f, addr)
	if err != nil {
		return Region{}, errors.New(errors.PhaseProbe, errors.KindInvalidInput).
			Op("parse", addr, 0).
			Detail("%s", p.path).
			Cause(err).
			Build()
	}
	if !found {
		return Region{}, errors.NotFound(errors.PhaseProbe, "mapping", fmt.Sprintf("0x%x", addr))
	}
	return r, nil
}

// ResidentBytes returns the resident byte count of the mapping containing
// addr. A lookup failure means the caller passed an address it does not
// own, which is a protocol violation; it panics with the *errors.Error.
//
// Unlike a failed mprotect in vmem, nothing is left half-protected here:
// the probe only reads procfs, so callers may recover the panic and keep
// using the probe.
func (p *Probe) ResidentBytes(addr uintptr) uint64 {
	r, err := p.Lookup(addr)
	if err != nil {
		Logger().Error("residency lookup failed", zap.Uintptr("addr", addr), zap.Error(err))
		panic(errors.ProtocolViolation(errors.PhaseProbe, "resident_bytes", addr, 0, err))
	}
	Logger().Debug("resident bytes",
		zap.Uintptr("start", r.Start),
		zap.Uintptr("end", r.End),
		zap.Uint64("rss", r.Rss),
	)
	return r.Rss
}
