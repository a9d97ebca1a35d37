package runtime

import (
	"go.uber.org/zap"
)

// Config holds runtime configuration.
type Config struct {
	// Logger, when set, is installed for the vmem, engine and residency
	// packages.
	Logger *zap.Logger

	// GuardBytes is the inaccessible region reserved past every memory.
	GuardBytes uint64

	// MemoryLimitPages caps every memory in pages. 0 means 65536 (4GiB).
	MemoryLimitPages uint32

	// ReserveMaximum reserves the maximum size of each memory at
	// instantiation so it can grow in place. Without it memories keep
	// their initial size.
	ReserveMaximum bool

	// ReclaimAfterCall discards the physical pages of an instance's memory
	// after every Call. Memory contents do not survive between calls, so
	// this suits instances that keep no state in linear memory.
	ReclaimAfterCall bool
}

// DefaultGuardBytes is the guard region used by DefaultConfig.
const DefaultGuardBytes = 2 << 30

// DefaultConfig returns a config with a 2GiB guard, maximum-size
// reservations and reclamation after every call.
func DefaultConfig() Config {
	return Config{
		GuardBytes:       DefaultGuardBytes,
		ReserveMaximum:   true,
		ReclaimAfterCall: true,
	}
}
