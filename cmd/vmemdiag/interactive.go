package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-memory/internal/probemodule"
	"github.com/wippyai/wasm-memory/residency"
	"github.com/wippyai/wasm-memory/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newWatchCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Interactively dirty, grow and reclaim a guest memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			// Reclaiming is manual here so residency can be observed.
			cfg.ReclaimAfterCall = false
			p := tea.NewProgram(newWatchModel(cfg), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
}

type watchState int

const (
	stateIdle watchState = iota
	stateInputPages
)

// snapshot is the memory state shown on screen.
type snapshot struct {
	base     uintptr
	pages    uint32
	maxPages uint32
	mapped   uint64
	guard    uint64
	resident uint64
	process  uint64
}

type watchModel struct {
	err      error
	cfg      runtime.Config
	rt       *runtime.Runtime
	instance *runtime.Instance
	probe    *residency.Probe
	heapBase uint32
	input    textinput.Model
	status   string
	snap     snapshot
	state    watchState

	// busy is set while an action runs against the instance, which is not
	// safe for concurrent use. Action keys are ignored until it clears.
	busy     bool
	quitting bool
}

func newWatchModel(cfg runtime.Config) *watchModel {
	ti := textinput.New()
	ti.Placeholder = "pages"
	ti.Prompt = "dirty pages: "
	ti.Width = 20
	return &watchModel{cfg: cfg, input: ti}
}

type loadedMsg struct {
	err      error
	rt       *runtime.Runtime
	instance *runtime.Instance
	probe    *residency.Probe
	heapBase uint32
}

type actionMsg struct {
	err    error
	status string
}

func (m *watchModel) Init() tea.Cmd {
	return m.load
}

func (m *watchModel) load() tea.Msg {
	ctx := context.Background()

	probe, err := residency.New()
	if err != nil {
		return loadedMsg{err: err}
	}

	rt, err := runtime.NewWithConfig(ctx, m.cfg)
	if err != nil {
		return loadedMsg{err: err}
	}
	mod, err := rt.LoadWASM(ctx, probemodule.Build(probemodule.DefaultConfig()))
	if err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}
	heapBase, err := inst.GlobalU32(probemodule.ExportHeapBase)
	if err != nil {
		inst.Close(ctx)
		rt.Close(ctx)
		return loadedMsg{err: err}
	}

	return loadedMsg{rt: rt, instance: inst, probe: probe, heapBase: heapBase}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateInputPages {
			switch msg.String() {
			case "enter":
				m.state = stateIdle
				m.input.Blur()
				m.busy = true
				return m, m.dirty(m.input.Value())
			case "esc":
				m.state = stateIdle
				m.input.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			if m.busy {
				m.quitting = true
				m.status = "waiting for the running action"
				return m, nil
			}
			m.close()
			return m, tea.Quit
		}

		if m.instance == nil || m.busy || m.quitting {
			return m, nil
		}
		switch msg.String() {
		case "d":
			m.state = stateInputPages
			m.input.SetValue("")
			m.input.Focus()

		case "g":
			m.busy = true
			return m, m.grow

		case "r":
			m.busy = true
			return m, m.reclaim
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.instance = msg.instance
		m.probe = msg.probe
		m.heapBase = msg.heapBase
		m.refresh()

	case actionMsg:
		m.busy = false
		if m.quitting {
			m.close()
			return m, tea.Quit
		}
		m.err = msg.err
		m.status = msg.status
		m.refresh()
	}

	return m, nil
}

func (m *watchModel) dirty(value string) tea.Cmd {
	return func() tea.Msg {
		pages, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return actionMsg{err: fmt.Errorf("pages: %w", err)}
		}
		_, err = m.instance.Call(context.Background(), probemodule.ExportDirtyMemory, uint64(m.heapBase), pages)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: fmt.Sprintf("dirtied %d pages", pages)}
	}
}

func (m *watchModel) close() {
	ctx := context.Background()
	if m.instance != nil {
		m.instance.Close(ctx)
	}
	if m.rt != nil {
		m.rt.Close(ctx)
	}
}

func (m *watchModel) grow() tea.Msg {
	res, err := m.instance.Call(context.Background(), probemodule.ExportGrow, 1)
	if err != nil {
		return actionMsg{err: err}
	}
	if int32(uint32(res[0])) < 0 {
		return actionMsg{status: "grow refused"}
	}
	return actionMsg{status: fmt.Sprintf("grew from %d pages", uint32(res[0]))}
}

func (m *watchModel) reclaim() tea.Msg {
	if err := m.instance.Reclaim(); err != nil {
		return actionMsg{err: err}
	}
	return actionMsg{status: "reclaimed"}
}

func (m *watchModel) refresh() {
	mem := m.instance.Memory()
	if mem == nil {
		return
	}
	limit, _ := mem.Maximum()
	m.snap = snapshot{
		base:     mem.Base(),
		pages:    mem.Size(),
		maxPages: limit,
		mapped:   mem.MappedBytes(),
		guard:    mem.GuardBytes(),
		resident: m.instance.ResidentBytes(m.probe),
	}
	m.snap.process, _ = residency.ProcessResidentBytes()
}

func (m *watchModel) View() string {
	if m.err != nil && m.instance == nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.instance == nil {
		return "Reserving memory..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Guarded Memory"))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-12s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	s := m.snap
	row("base", fmt.Sprintf("%#x", s.base))
	row("pages", fmt.Sprintf("%d / %d", s.pages, s.maxPages))
	row("mapped", units.BytesSize(float64(s.mapped)))
	row("guard", units.BytesSize(float64(s.guard)))
	row("resident", units.BytesSize(float64(s.resident)))
	row("process", units.BytesSize(float64(s.process)))
	b.WriteString("\n")

	if m.state == stateInputPages {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter dirty • esc back"))
		return b.String()
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	} else if m.status != "" {
		b.WriteString(m.status)
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("d dirty • g grow • r reclaim • q quit"))
	return b.String()
}
