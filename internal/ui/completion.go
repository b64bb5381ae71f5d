package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/tally/internal/progress"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle = lipgloss.NewStyle().Faint(true)
)

func current(s StatsSource) progress.Statistics {
	if s == nil {
		return progress.Statistics{}
	}
	return s.Current()
}

// completionSummary builds a final summary line.
// Format: done ✓  files 48,917  dirs 1,203  size 2.1 GiB  time 3m 17s  skipped 0  errors 0
func completionSummary(st progress.Statistics, o Outcome, styled bool) string {
	label := func(s string) string { return s }
	icon := "✓"
	iconStyle := okStyle
	if !o.OK() || st.Stats.ErrorCount > 0 {
		icon = "✗"
		iconStyle = failStyle
	}
	if styled {
		label = func(s string) string { return labelStyle.Render(s) }
		icon = iconStyle.Render(icon)
	}

	elapsed := st.Elapsed
	if elapsed == 0 {
		elapsed = st.Stats.Elapsed()
	}

	parts := []string{
		"done " + icon,
		label("files") + " " + FormatCount(st.Stats.FilesScanned),
		label("dirs") + " " + FormatCount(st.Stats.DirectoriesScanned),
		label("size") + " " + FormatBytes(st.Stats.BytesScanned),
		label("time") + " " + FormatDuration(elapsed),
		label("skipped") + " " + FormatCount(st.Stats.SkippedFiles),
		label("errors") + " " + FormatCount(max(st.Stats.ErrorCount, o.ScanErrors)),
	}
	if o.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%s %d", label("failed"), o.Failed))
	}
	return strings.Join(parts, "  ")
}
