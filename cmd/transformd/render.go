package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/transformd/internal/history"
)

// theme keeps every CLI color in one place.
type theme struct {
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Fail   lipgloss.Style
	Dim    lipgloss.Style
	Header lipgloss.Style
}

var styles = theme{
	OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
	Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	Fail:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
	Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
}

func verdictStyle(verdict string) lipgloss.Style {
	switch verdict {
	case "success":
		return styles.OK
	case "expected_failure":
		return styles.Warn
	default:
		return styles.Fail
	}
}

// maxStderrLines bounds the stderr excerpt printed for a failure.
const maxStderrLines = 10

func renderOutcome(o transformOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s via %s/%s in %s\n",
		verdictStyle(o.Verdict).Render(o.Verdict),
		styles.Dim.Render("("+o.State+")"),
		o.Engine, o.Template, o.Duration)
	if o.Verdict == "success" {
		return b.String()
	}

	fmt.Fprintf(&b, "  exit code: %d\n", o.ExitCode)
	if o.Cause != "" {
		fmt.Fprintf(&b, "  cause:     %s\n", o.Cause)
	}
	if len(o.Argv) > 0 {
		fmt.Fprintf(&b, "  command:   %s\n", strings.Join(o.Argv, " "))
	}
	if stderr := strings.TrimSpace(o.Stderr); stderr != "" {
		lines := strings.Split(stderr, "\n")
		if len(lines) > maxStderrLines {
			lines = append(lines[:maxStderrLines], fmt.Sprintf("... (%d more lines)", len(lines)-maxStderrLines))
		}
		b.WriteString("  stderr:\n")
		for _, line := range lines {
			b.WriteString("    " + styles.Dim.Render(line) + "\n")
		}
	}
	return b.String()
}

func renderCheck(rows []checkOutput) string {
	width := len("ENGINE")
	for _, r := range rows {
		width = max(width, len(r.Engine))
	}

	var b strings.Builder
	b.WriteString(styles.Header.Render(fmt.Sprintf("%-*s  %s", width, "ENGINE", "STATUS")) + "\n")
	for _, r := range rows {
		status := styles.OK.Render("ready")
		detail := r.Version
		if !r.Ready {
			status = styles.Fail.Render("unavailable")
			detail = r.Error
		}
		line := fmt.Sprintf("%-*s  %s", width, r.Engine, status)
		if detail != "" {
			line += "  " + styles.Dim.Render(detail)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func renderHistory(entries []history.Entry) string {
	if len(entries) == 0 {
		return "No transforms recorded.\n"
	}

	var b strings.Builder
	b.WriteString(styles.Header.Render(fmt.Sprintf("%-20s  %-16s  %-24s  %-9s  %-16s  %s",
		"TIME", "ENGINE", "TEMPLATE", "PAIR", "VERDICT", "DURATION")) + "\n")
	for _, e := range entries {
		pair := e.SourceExtension + ">" + e.TargetExtension
		fmt.Fprintf(&b, "%-20s  %-16s  %-24s  %-9s  %s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Engine, e.Template, pair,
			verdictStyle(e.Verdict).Render(fmt.Sprintf("%-16s", e.Verdict)),
			e.Duration)
	}
	return b.String()
}
