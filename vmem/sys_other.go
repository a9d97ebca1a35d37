//go:build !linux && !darwin

package vmem

import "github.com/wippyai/wasm-memory/errors"

const supported = false

var errUnsupported = errors.Unsupported(errors.PhaseReserve, "guarded virtual memory on this platform")

func hostPageSize() uint64 { return 4096 }

func sysReserve(uint64) ([]byte, error) { return nil, errUnsupported }

func sysProtect([]byte, protection) error { return errUnsupported }

func sysUnmap([]byte) error { return errUnsupported }

func sysDecommit([]byte) error { return errUnsupported }
