package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/woxQAQ/html-layout-parser/pkg/protocol"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD166"))

	metricsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// renderEnvelope formats a diagnostics envelope for a terminal.
func renderEnvelope(env *protocol.Envelope) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("HtmlLayoutParser"))
	b.WriteString(" ")
	if env.Success {
		n := 0
		if env.Data != nil {
			n = len(env.Data.Characters())
		}
		b.WriteString(okStyle.Render(fmt.Sprintf("ok: %d characters", n)))
	} else {
		b.WriteString(errorStyle.Render("failed"))
	}
	b.WriteString("\n")

	for _, d := range env.Errors {
		b.WriteString(errorStyle.Render("  " + d.String()))
		b.WriteString("\n")
	}
	for _, d := range env.Warnings {
		b.WriteString(warnStyle.Render("  " + d.String()))
		b.WriteString("\n")
	}

	if m := env.Metrics; m != nil {
		b.WriteString(metricsStyle.Render(fmt.Sprintf(
			"  parse %.2fms  layout %.2fms  serialize %.2fms  total %.2fms",
			m.ParseTime, m.LayoutTime, m.SerializeTime, m.TotalTime,
		)))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
