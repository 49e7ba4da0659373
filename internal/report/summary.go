package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
)

// Summary renders the human-readable per-device report.
func Summary(recs []Record) string {
	var b strings.Builder

	for i, r := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		header := fmt.Sprintf("GPU %d · %s", r.DeviceIndex, r.DeviceName)
		b.WriteString(titleStyle.Render(header) + "\n")
		if r.ComputeCapability != "" || r.DriverVersion != "" {
			b.WriteString(labelStyle.Render(fmt.Sprintf("  compute %s · driver %s",
				orDash(r.ComputeCapability), orDash(r.DriverVersion))) + "\n")
		}
		b.WriteString("\n")

		row(&b, "reported total", fmt.Sprintf("%d MB", r.ReportedTotalMB), "")
		row(&b, "max single alloc", fmt.Sprintf("%d MB", r.MaxSingleAllocMB),
			fmt.Sprintf("%.1f ms", r.ProbeDurations.Single))
		row(&b, "total usable", fmt.Sprintf("%d MB", r.TotalUsableMB),
			fmt.Sprintf("%.1f ms", r.ProbeDurations.Total))

		eff := r.Efficiency()
		effStyle := okStyle
		if eff < 80 {
			effStyle = warnStyle
		}
		row(&b, "usable / reported", effStyle.Render(fmt.Sprintf("%.1f%%", eff)), "")

		if r.BandwidthGBps > 0 {
			row(&b, "bandwidth (H2D)", fmt.Sprintf("%.1f GB/s", r.BandwidthGBps),
				fmt.Sprintf("%d MB in %.1f ms", r.BandwidthTransfer, r.ProbeDurations.Bandwidth))
		}

		if r.Anomaly != "" {
			b.WriteString("  " + badStyle.Render("anomaly: "+r.Anomaly) + "\n")
		}
	}

	return b.String()
}

func row(b *strings.Builder, label, value, extra string) {
	line := fmt.Sprintf("  %s %s", labelStyle.Render(fmt.Sprintf("%-18s", label)), valueStyle.Render(value))
	if extra != "" {
		line += "  " + labelStyle.Render(extra)
	}
	b.WriteString(line + "\n")
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
