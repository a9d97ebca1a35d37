package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-memory/errors"
	"github.com/wippyai/wasm-memory/storage/countedmap"
)

const historyMap = "results"

// record is one stored diagnostic result.
type record struct {
	Time          time.Time `json:"time"`
	Scenario      string    `json:"scenario"`
	Pages         uint32    `json:"pages"`
	MemoryPages   uint32    `json:"memory_pages"`
	ResidentBytes uint64    `json:"resident_bytes"`
	Reclaimed     bool      `json:"reclaimed"`
}

func (r record) key() []byte {
	return []byte(fmt.Sprintf("%020d/%s/%d", r.Time.UnixNano(), r.Scenario, r.Pages))
}

// recorder appends records to the history database, if one is configured.
type recorder struct {
	m *countedmap.Map
}

func openRecorder(path string) (*recorder, error) {
	if path == "" {
		return &recorder{}, nil
	}
	m, err := countedmap.Open(path, historyMap)
	if err != nil {
		return nil, err
	}
	return &recorder{m: m}, nil
}

func (r *recorder) add(rec record) error {
	if r.m == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Storage("encode record", err)
	}
	_, _, err = r.m.Insert(rec.key(), data)
	return err
}

func (r *recorder) Close() error {
	if r.m == nil {
		return nil
	}
	return r.m.Close()
}

type historyOptions struct {
	clear   bool
	recount bool
}

func newHistoryCommand(c *cli) *cobra.Command {
	var opts historyOptions
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, c, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.clear, "clear", false, "Delete all recorded results")
	flags.BoolVar(&opts.recount, "recount", false, "Recount entries before listing")
	return cmd
}

func runHistory(cmd *cobra.Command, c *cli, opts historyOptions) error {
	if c.db == "" {
		return errors.InvalidInput(errors.PhaseConfig, "history needs --db")
	}
	m, err := countedmap.Open(c.db, historyMap)
	if err != nil {
		return err
	}
	defer m.Close()

	out := cmd.OutOrStdout()
	if opts.clear {
		if err := m.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(out, "history cleared")
		return nil
	}
	if opts.recount {
		if _, err := m.Initialize(); err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSCENARIO\tPAGES\tMEMORY\tRESIDENT\tRECLAIMED")
	err = m.Iter(func(_, v []byte) error {
		var rec record
		if err := json.Unmarshal(v, &rec); err != nil {
			return errors.Storage("decode record", err)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%t\n",
			rec.Time.Format(time.RFC3339),
			rec.Scenario,
			rec.Pages,
			rec.MemoryPages,
			units.BytesSize(float64(rec.ResidentBytes)),
			rec.Reclaimed,
		)
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	n, err := m.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d results\n", n)
	return nil
}
