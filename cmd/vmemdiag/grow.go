package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	wasmmemory "github.com/wippyai/wasm-memory"
	"github.com/wippyai/wasm-memory/residency"
	"github.com/wippyai/wasm-memory/vmem"
)

type growOptions struct {
	initial uint32
	maximum uint32
	step    uint32
	touch   bool
}

func newGrowCommand(c *cli) *cobra.Command {
	var opts growOptions
	cmd := &cobra.Command{
		Use:   "grow",
		Short: "Reserve a guarded memory and grow it until growth is refused",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrow(cmd, c, opts)
		},
	}
	flags := cmd.Flags()
	flags.Uint32Var(&opts.initial, "initial", 1, "Initial size in pages")
	flags.Uint32Var(&opts.maximum, "max", 64, "Maximum size in pages")
	flags.Uint32Var(&opts.step, "step", 8, "Pages added per grow")
	flags.BoolVar(&opts.touch, "touch", false, "Write to every host page after each grow")
	return cmd
}

func runGrow(cmd *cobra.Command, c *cli, opts growOptions) error {
	if opts.step == 0 {
		opts.step = 1
	}

	rec, err := openRecorder(c.db)
	if err != nil {
		return err
	}
	defer rec.Close()

	// The probe is optional here; without it residency is not reported.
	probe, perr := residency.New()
	if perr != nil {
		c.logger.Debug("residency probe unavailable", zap.Error(perr))
	}

	alloc := vmem.NewAllocator()
	var reserved *uint64
	if c.cfg.ReserveMaximum {
		capacity := wasmmemory.PagesToBytes(opts.maximum)
		reserved = &capacity
	}
	mem, err := vmem.NewCreator(alloc).Create(
		wasmmemory.MemoryType{Min: opts.initial, Max: &opts.maximum},
		reserved,
		c.cfg.GuardBytes,
	)
	if err != nil {
		return err
	}
	defer mem.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "base %#x, mapped %s, host page %s\n",
		mem.Base(),
		units.BytesSize(float64(mem.MappedBytes())),
		units.BytesSize(float64(alloc.PageSize())),
	)

	resident := func() string {
		if probe == nil {
			return "-"
		}
		return units.BytesSize(float64(probe.ResidentBytes(mem.Base())))
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PAGES\tACCESSIBLE\tBASE\tRESIDENT")
	for {
		if opts.touch {
			buf := mem.Bytes()
			for i := 0; i < len(buf); i += int(alloc.PageSize()) {
				buf[i] = 1
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%#x\t%s\n",
			mem.Size(),
			units.BytesSize(float64(wasmmemory.PagesToBytes(mem.Size()))),
			mem.Base(),
			resident(),
		)
		if _, ok := mem.Grow(opts.step); !ok {
			break
		}
	}
	fmt.Fprintf(w, "refused\t+%d\t\t\n", opts.step)

	if err := mem.Decommit(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d\tdecommitted\t%#x\t%s\n", mem.Size(), mem.Base(), resident())
	if err := w.Flush(); err != nil {
		return err
	}

	var rss uint64
	if probe != nil {
		rss = probe.ResidentBytes(mem.Base())
	}
	err = rec.add(record{
		Time:          time.Now(),
		Scenario:      "grow",
		Pages:         opts.step,
		MemoryPages:   mem.Size(),
		ResidentBytes: rss,
		Reclaimed:     true,
	})
	if err != nil {
		c.logger.Warn("record result", zap.Error(err))
	}
	return nil
}
