// Package tui renders inspector state for the terminal: styled tables for
// the CLI and a live execution watcher.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/sections"
	"github.com/openfroyo/inspector/pkg/stores"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPending = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// Check results the inspection scripts print.
const (
	resultGood       = "양호"
	resultVulnerable = "취약"
)

// FormatStatus renders an execution status with an icon.
func FormatStatus(status engine.ExecutionStatus) string {
	switch status {
	case engine.StatusPreparing:
		return statusPending.Render("○ " + string(status))
	case engine.StatusRunning:
		return statusRunning.Render("● " + string(status))
	case engine.StatusCompleted:
		return statusOK.Render("✓ " + string(status))
	case engine.StatusFailed:
		return statusFailed.Render("✗ " + string(status))
	default:
		return string(status)
	}
}

// FormatCheck colors a check result by its verdict.
func FormatCheck(result string) string {
	switch {
	case strings.Contains(result, resultGood):
		return statusOK.Render(result)
	case strings.Contains(result, resultVulnerable):
		return statusFailed.Render(result)
	default:
		return result
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// HostsTable renders registered hosts.
func HostsTable(hosts []*stores.Host) string {
	t := newTable("ID", "NAME", "IP", "USER", "OS", "ACTIVE")
	for _, h := range hosts {
		t.Row(h.ID, h.Name, h.IP, h.Username, h.OS, strconv.FormatBool(h.Active))
	}
	return t.String()
}

// ScriptsTable renders catalog entries.
func ScriptsTable(scripts []*engine.ScriptView) string {
	t := newTable("ID", "NAME", "TYPE", "FILE", "UNITS", "LAST RUN")
	for _, s := range scripts {
		units := strconv.Itoa(s.Tasks)
		if s.Type == stores.ScriptTypeShell {
			units = strconv.Itoa(len(s.Sections))
		}
		lastRun := "-"
		if s.LastRunAt != nil && s.LastStatus != nil {
			lastRun = fmt.Sprintf("%s (%s)", *s.LastStatus, s.LastRunAt.Local().Format(time.DateTime))
		}
		t.Row(s.ID, s.Name, string(s.Type), s.Filename, units, lastRun)
	}
	return t.String()
}

// SectionsTable renders the sections of a shell script.
func SectionsTable(secs []sections.Section) string {
	t := newTable("ID", "NAME", "LINES")
	for _, sec := range secs {
		t.Row(sec.ID, sec.Name, fmt.Sprintf("%d-%d", sec.LineStart, sec.LineEnd))
	}
	return t.String()
}

// ExecutionsTable renders execution summaries.
func ExecutionsTable(execs []*engine.ExecutionRecord) string {
	t := newTable("ID", "SCRIPT", "STATUS", "HOSTS", "OK", "FAILED", "STARTED")
	for _, e := range execs {
		t.Row(e.ID, e.ScriptName, FormatStatus(e.Status),
			strconv.Itoa(e.TotalHosts), strconv.Itoa(e.CompletedCount), strconv.Itoa(e.FailedCount),
			e.StartedAt.Local().Format(time.DateTime))
	}
	return t.String()
}

// ExecutionDetail renders one execution with a row per host.
func ExecutionDetail(rec *engine.ExecutionRecord) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Execution "+rec.ID) + "  " + FormatStatus(rec.Status) + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("script %s (%s)", rec.ScriptName, rec.ScriptFilename)) + "\n")
	if len(rec.SectionIDs) > 0 {
		b.WriteString(dimStyle.Render("sections "+strings.Join(rec.SectionIDs, ", ")) + "\n")
	}
	b.WriteString(fmt.Sprintf("%d/%d done, %d failed\n", rec.CompletedCount+rec.FailedCount, rec.TotalHosts, rec.FailedCount))
	if rec.Error != "" {
		b.WriteString(statusFailed.Render(rec.Error) + "\n")
	}

	t := newTable("HOST", "IP", "RESULT", "EXIT", "DURATION", "CHECKS")
	for _, h := range rec.Hosts {
		res, ok := rec.Results[h.ID]
		if !ok {
			t.Row(h.Name, h.IP, statusRunning.Render("● running"), "", "", "")
			continue
		}
		result := statusOK.Render("✓ ok")
		if !res.Success {
			result = statusFailed.Render("✗ failed")
		}
		t.Row(h.Name, h.IP, result, strconv.Itoa(res.ExitCode),
			time.Duration(res.Duration * float64(time.Second)).Round(time.Millisecond).String(),
			checkSummary(res.Checks))
	}
	b.WriteString(t.String())
	return b.String()
}

func checkSummary(checks []sections.CheckResult) string {
	if len(checks) == 0 {
		return "-"
	}
	good, bad := 0, 0
	for _, c := range checks {
		switch {
		case strings.Contains(c.Result, resultGood):
			good++
		case strings.Contains(c.Result, resultVulnerable):
			bad++
		}
	}
	return fmt.Sprintf("%d (%s %s)", len(checks), statusOK.Render(strconv.Itoa(good)), statusFailed.Render(strconv.Itoa(bad)))
}
