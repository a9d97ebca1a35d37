package main

import (
	"context"
	"fmt"
	"math"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	wasmmemory "github.com/wippyai/wasm-memory"
	"github.com/wippyai/wasm-memory/errors"
	"github.com/wippyai/wasm-memory/internal/probemodule"
	"github.com/wippyai/wasm-memory/residency"
	"github.com/wippyai/wasm-memory/runtime"
)

type roundtripOptions struct {
	pages []uint
}

func newRoundtripCommand(c *cli) *cobra.Command {
	var opts roundtripOptions
	cmd := &cobra.Command{
		Use:   "roundtrip",
		Short: "Dirty guest memory and check that it is no longer resident after the call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoundtrip(cmd, c, opts)
		},
	}
	cmd.Flags().UintSliceVar(&opts.pages, "pages", []uint{1, 1024}, "Pages to dirty past __heap_base, one call each")
	return cmd
}

func runRoundtrip(cmd *cobra.Command, c *cli, opts roundtripOptions) error {
	ctx := context.Background()

	probe, err := residency.New()
	if err != nil {
		return err
	}
	rec, err := openRecorder(c.db)
	if err != nil {
		return err
	}
	defer rec.Close()

	mc := probemodule.DefaultConfig()
	var most uint
	for _, p := range opts.pages {
		most = max(most, p)
	}
	if most > 1024 {
		limit := uint32(most + 1)
		mc.MaxPages = &limit
	}

	rt, err := runtime.NewWithConfig(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	mod, err := rt.LoadWASM(ctx, probemodule.Build(mc))
	if err != nil {
		return err
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	heapBase, err := inst.GlobalU32(probemodule.ExportHeapBase)
	if err != nil {
		return err
	}

	mem := inst.Memory()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "base %#x, mapped %s, guard %s\n",
		mem.Base(),
		units.BytesSize(float64(mem.MappedBytes())),
		units.BytesSize(float64(mem.GuardBytes())),
	)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PAGES\tMEMORY\tRESIDENT\tPROCESS")
	var leaked int
	for _, p := range opts.pages {
		if _, err := inst.Call(ctx, probemodule.ExportDirtyMemory, uint64(heapBase), uint64(p)); err != nil {
			return err
		}
		if !c.cfg.ReclaimAfterCall {
			if err := verifyFill(inst, heapBase, uint32(p)); err != nil {
				return err
			}
		}
		resident := inst.ResidentBytes(probe)
		process, _ := residency.ProcessResidentBytes()

		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n",
			p,
			mem.Size(),
			units.BytesSize(float64(resident)),
			units.BytesSize(float64(process)),
		)
		if c.cfg.ReclaimAfterCall && resident != 0 {
			leaked++
		}

		err := rec.add(record{
			Time:          time.Now(),
			Scenario:      "roundtrip",
			Pages:         uint32(p),
			MemoryPages:   mem.Size(),
			ResidentBytes: resident,
			Reclaimed:     c.cfg.ReclaimAfterCall,
		})
		if err != nil {
			c.logger.Warn("record result", zap.Error(err))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if leaked > 0 {
		return errors.New(errors.PhaseProbe, errors.KindProtocolViolation).
			Detail("%d of %d calls left memory resident after reclaim", leaked, len(opts.pages)).
			Build()
	}
	return nil
}

// verifyFill checks that the guest wrote the dirtied range. Only meaningful
// when the call did not reclaim the memory afterwards.
func verifyFill(inst *runtime.Instance, offset, pages uint32) error {
	n := wasmmemory.PagesToBytes(pages)
	if n > math.MaxUint32 {
		return errors.SizeOverflow(errors.PhaseProbe, "dirtied range", n)
	}
	data, err := inst.ExportedMemory().Read(offset, uint32(n))
	if err != nil {
		return err
	}
	for i, b := range data {
		if b != 1 {
			return errors.New(errors.PhaseProbe, errors.KindProtocolViolation).
				Detail("byte %d past offset %d is %#x after dirty_memory", i, offset, b).
				Build()
		}
	}
	return nil
}
