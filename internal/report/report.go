// Package report renders corpus history for the terminal.
package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/crashcorpus/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	timeStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	tagStyle = lipgloss.NewStyle().
			Foreground(cyanColor)

	addedStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	skipStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	failStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// actionStyle colors a decision by how it affected the corpus.
func actionStyle(action string) lipgloss.Style {
	switch {
	case action == "store.add":
		return addedStyle
	case action == "tool.failure" || action == "store.reject":
		return failStyle
	case strings.HasSuffix(action, ".skip") || strings.HasSuffix(action, ".decline") || action == "scan.reject":
		return skipStyle
	default:
		return tagStyle
	}
}

// Decisions renders decision records, newest first.
func Decisions(entries []models.PDREntry) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Decisions") + "\n")
	if len(entries) == 0 {
		b.WriteString(helpStyle.Render("  no decision records") + "\n")
		return b.String()
	}
	for _, e := range entries {
		line := fmt.Sprintf("  %s %s %s %s",
			timeStyle.Render(e.Timestamp.Format("2006-01-02 15:04:05")),
			actionStyle(e.Action).Render(fmt.Sprintf("%-16s", e.Action)),
			e.Outcome,
			filepath.Base(e.TestPath))
		if e.Details != "" {
			line += " " + helpStyle.Render(e.Details)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// Observations renders observation records.
func Observations(obs []models.Observation) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Observations") + "\n")
	if len(obs) == 0 {
		b.WriteString(helpStyle.Render("  no observations") + "\n")
		return b.String()
	}
	for _, o := range obs {
		code := addedStyle
		if o.ExitCode != 0 {
			code = failStyle
		}
		fmt.Fprintf(&b, "  %s %s exit %s rev %s out %s %s\n",
			timeStyle.Render(o.ObservedAt.Format("2006-01-02 15:04:05")),
			tagStyle.Render(fmt.Sprintf("+%d", o.Count)),
			code.Render(fmt.Sprintf("%d", o.ExitCode)),
			o.Revision,
			short(o.OutputSig),
			filepath.Base(o.TestPath))
	}
	return b.String()
}

// Provenance renders provenance records, optionally only those touching
// test (relative to the corpus root).
func Provenance(records []models.ProvenanceRecord, test string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Provenance") + "\n")
	n := 0
	for _, r := range records {
		if test != "" && r.Source != test && r.Result != test {
			continue
		}
		n++
		fmt.Fprintf(&b, "  %s %s -> %s\n", tagStyle.Render(r.Tag), r.Source, addedStyle.Render(r.Result))
	}
	if n == 0 {
		b.WriteString(helpStyle.Render("  no provenance records") + "\n")
	}
	return b.String()
}

func short(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}
