package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	metrics "github.com/docker/go-metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-memory/runtime"
)

// cli carries global flags and the state built from them.
type cli struct {
	configFile  string
	logLevel    string
	metricsAddr string
	guard       string
	db          string
	noReclaim   bool

	cfg     runtime.Config
	logger  *zap.Logger
	metrics *http.Server
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "vmemdiag",
		Short:         "Diagnose guarded linear memory reservation and residency",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "TOML configuration file")
	flags.StringVar(&c.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&c.guard, "guard", "2GiB", "Guard region reserved past each memory")
	flags.StringVar(&c.db, "db", "", "Record results into this database")
	flags.BoolVar(&c.noReclaim, "no-reclaim", false, "Keep memory resident after each call")

	cmd.AddCommand(
		newRoundtripCommand(c),
		newGrowCommand(c),
		newHistoryCommand(c),
		newWatchCommand(c),
	)
	return cmd
}

func (c *cli) setup(cmd *cobra.Command) error {
	fc := defaultFileConfig()
	if c.configFile != "" {
		var err error
		if fc, err = loadFileConfig(c.configFile); err != nil {
			return err
		}
	}
	fc.applyFlags(cmd, c)

	cfg, err := fc.runtimeConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(fc.LogLevel)
	if err != nil {
		return err
	}
	cfg.Logger = logger

	c.cfg = cfg
	c.logger = logger
	c.db = fc.DB

	if fc.MetricsAddr != "" {
		c.serveMetrics(fc.MetricsAddr)
	}
	return nil
}

func (c *cli) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	c.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		c.logger.Info("serving metrics", zap.String("addr", addr))
		if err := c.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server", zap.Error(err))
		}
	}()
}

func (c *cli) teardown() error {
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.metrics.Shutdown(ctx)
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return nil
}

// newLogger builds a console logger for terminals and a JSON logger
// otherwise.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	if term.IsTerminal(int(os.Stderr.Fd())) {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
