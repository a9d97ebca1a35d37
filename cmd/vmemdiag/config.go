package main

import (
	"fmt"
	"os"

	units "github.com/docker/go-units"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-memory/errors"
	"github.com/wippyai/wasm-memory/runtime"
)

// fileConfig is the TOML configuration file layout.
//
//	guard = "2GiB"
//	memory_limit_pages = 4096
//	reserve_maximum = true
//	reclaim_after_call = true
//	log_level = "info"
//	metrics_addr = "127.0.0.1:9323"
//	db = "/var/lib/vmemdiag/history.db"
type fileConfig struct {
	Guard            string `toml:"guard"`
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
	ReserveMaximum   *bool  `toml:"reserve_maximum"`
	ReclaimAfterCall *bool  `toml:"reclaim_after_call"`
	LogLevel         string `toml:"log_level"`
	MetricsAddr      string `toml:"metrics_addr"`
	DB               string `toml:"db"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Guard:    units.BytesSize(runtime.DefaultGuardBytes),
		LogLevel: "info",
	}
}

func loadFileConfig(path string) (fileConfig, error) {
	fc := defaultFileConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse "+path)
	}
	if fc.LogLevel == "" {
		fc.LogLevel = "info"
	}
	return fc, nil
}

// applyFlags overrides file values with flags set on the command line.
func (fc *fileConfig) applyFlags(cmd *cobra.Command, c *cli) {
	flags := cmd.Flags()
	if flags.Changed("guard") || fc.Guard == "" {
		fc.Guard = c.guard
	}
	if flags.Changed("log-level") {
		fc.LogLevel = c.logLevel
	}
	if flags.Changed("metrics-addr") {
		fc.MetricsAddr = c.metricsAddr
	}
	if flags.Changed("db") {
		fc.DB = c.db
	}
	if flags.Changed("no-reclaim") {
		reclaim := !c.noReclaim
		fc.ReclaimAfterCall = &reclaim
	}
}

func (fc fileConfig) runtimeConfig() (runtime.Config, error) {
	cfg := runtime.DefaultConfig()

	guard, err := parseSize(fc.Guard)
	if err != nil {
		return cfg, err
	}
	cfg.GuardBytes = guard
	cfg.MemoryLimitPages = fc.MemoryLimitPages
	if fc.ReserveMaximum != nil {
		cfg.ReserveMaximum = *fc.ReserveMaximum
	}
	if fc.ReclaimAfterCall != nil {
		cfg.ReclaimAfterCall = *fc.ReclaimAfterCall
	}
	return cfg, nil
}

// parseSize parses sizes such as "2GiB", "64m" or "4096".
func parseSize(s string) (uint64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, fmt.Sprintf("size %q", s))
	}
	if n < 0 {
		return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("size %q is negative", s))
	}
	return uint64(n), nil
}
