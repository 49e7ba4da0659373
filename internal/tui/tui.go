// Package tui renders a live view of a probe run.
package tui

import (
	"fmt"
	"strings"

	"vramprobe/internal/cuda"
	"vramprobe/internal/report"
	"vramprobe/internal/runner"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#444444"))

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	runStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3DAEE9"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	boldStyle = lipgloss.NewStyle().Bold(true)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))

	barFull  = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	barEmpty = lipgloss.NewStyle().Foreground(lipgloss.Color("#333333"))
)

type deviceState struct {
	device cuda.Device
	stage  string // waiting, probing, done
	record *report.Record
}

type Model struct {
	runner  *runner.Runner
	eventCh <-chan runner.Event
	states  []deviceState
	events  []runner.Event
	records []report.Record
	err     error
	done    bool
	width   int
	height  int
}

func NewModel(r *runner.Runner, devices []cuda.Device) Model {
	states := make([]deviceState, len(devices))
	for i, d := range devices {
		states[i] = deviceState{device: d, stage: "waiting"}
	}
	return Model{
		runner:  r,
		eventCh: r.Subscribe(),
		states:  states,
		width:   80,
		height:  24,
	}
}

type eventMsg runner.Event

type doneMsg struct {
	records []report.Record
	err     error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startRun(), waitForEvent(m.eventCh))
}

func (m Model) startRun() tea.Cmd {
	return func() tea.Msg {
		records, err := m.runner.Run()
		return doneMsg{records: records, err: err}
	}
}

func waitForEvent(ch <-chan runner.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(event)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventMsg:
		event := runner.Event(msg)
		m.events = append(m.events, event)
		if len(m.events) > 100 {
			m.events = m.events[len(m.events)-50:]
		}
		m.applyEvent(event)
		if m.done {
			return m, nil
		}
		return m, waitForEvent(m.eventCh)

	case doneMsg:
		m.records = msg.records
		m.err = msg.err
		m.done = true
		for i := range m.states {
			for j := range m.records {
				if m.records[j].DeviceIndex == m.states[i].device.Index {
					m.states[i].record = &m.records[j]
					m.states[i].stage = "done"
				}
			}
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q", "enter", "esc":
			if m.done {
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m *Model) applyEvent(e runner.Event) {
	for i := range m.states {
		if m.states[i].device.Index != e.Device {
			continue
		}
		switch e.Type {
		case "device":
			m.states[i].stage = "probing"
		case "bandwidth":
			m.states[i].stage = "done"
		}
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("vramprobe") +
		dimStyle.Render(fmt.Sprintf("  %d device(s)", len(m.states))) + "\n\n")

	b.WriteString(headerStyle.Render("  DEVICES") + "\n\n")
	for _, s := range m.states {
		icon := dimStyle.Render("○")
		switch s.stage {
		case "probing":
			icon = runStyle.Render("◐")
		case "done":
			icon = okStyle.Render("●")
		}

		line := fmt.Sprintf("  %s GPU %d  %-28s %6d MB reported",
			icon, s.device.Index, s.device.Name, s.device.TotalMemMB())
		b.WriteString(line + "\n")

		if s.record != nil {
			r := s.record
			bar := renderBar(r.TotalUsableMB, r.ReportedTotalMB, 30)
			b.WriteString(fmt.Sprintf("      %s  %s\n",
				bar, dimStyle.Render(fmt.Sprintf("usable %d MB · single %d MB · %.1f GB/s",
					r.TotalUsableMB, r.MaxSingleAllocMB, r.BandwidthGBps))))
			if r.Anomaly != "" {
				b.WriteString("      " + badStyle.Render("anomaly: "+r.Anomaly) + "\n")
			}
		}
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("  EVENTS") + "\n\n")
	maxEvents := 8
	start := 0
	if len(m.events) > maxEvents {
		start = len(m.events) - maxEvents
	}
	if len(m.events) == 0 {
		b.WriteString(dimStyle.Render("  (waiting for first probe)") + "\n")
	}
	for i := len(m.events) - 1; i >= start; i-- {
		e := m.events[i]
		ts := e.Time.Format("15:04:05")
		dur := ""
		if e.DurationMs > 0 {
			dur = dimStyle.Render(fmt.Sprintf(" (%.1f ms)", e.DurationMs))
		}
		dev := ""
		if e.Device >= 0 {
			dev = boldStyle.Render(fmt.Sprintf(" gpu%d", e.Device))
		}
		detail := ""
		if e.Detail != "" {
			detail = " " + e.Detail
		}
		b.WriteString(fmt.Sprintf("  %s %s%s%s%s\n",
			dimStyle.Render(ts), eventTypeLabel(e.Type), dev, detail, dur))
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  ERROR: %v", m.err)) + "\n\n")
	}

	if m.done {
		met := m.runner.Metrics()
		b.WriteString(dimStyle.Render(fmt.Sprintf("  probed %d device(s) in %d ms, %d anomaly(ies)",
			met.DevicesProbed, met.WallMs, met.Anomalies)) + "\n\n")
		b.WriteString(helpStyle.Render("  q:quit"))
	} else {
		b.WriteString(helpStyle.Render("  probing — ctrl+c:abort"))
	}
	b.WriteString("\n")

	return b.String()
}

func renderBar(used, total int64, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	pct := float64(used) / float64(total)
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	return barFull.Render(strings.Repeat("█", filled)) +
		barEmpty.Render(strings.Repeat("░", width-filled))
}

func eventTypeLabel(typ string) string {
	switch typ {
	case "device":
		return runStyle.Render("DEVICE")
	case "single":
		return okStyle.Render("SINGLE")
	case "total":
		return okStyle.Render("TOTAL")
	case "bandwidth":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")).Render("BANDWIDTH")
	case "anomaly":
		return badStyle.Render("ANOMALY")
	case "done":
		return boldStyle.Render("DONE")
	default:
		return dimStyle.Render(strings.ToUpper(typ))
	}
}

// Run blocks until the probe run completes and the user quits, then
// returns the collected records.
func Run(r *runner.Runner, devices []cuda.Device) ([]report.Record, error) {
	p := tea.NewProgram(NewModel(r, devices), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	fm := final.(Model)
	return fm.records, fm.err
}
