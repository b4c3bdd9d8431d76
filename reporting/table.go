package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/jit-stress/runner"
	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// verdictText renders a verdict for the table
func verdictText(v types.Verdict) string {
	switch v {
	case types.VerdictPassed:
		return "PASS"
	case types.VerdictFlaky:
		return "FLAKY"
	case types.VerdictSkipped:
		return "SKIP"
	default:
		return "FAIL"
	}
}

// FormatResultTable renders the outcome of a run. When allTests is false
// only flaky and failed tests are listed.
func FormatResultTable(result *runner.RunResult, allTests bool) string {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("JIT Stress Results (run %s)", result.RunID))

	t.AppendHeader(table.Row{"Test", "Verdict", "Configurations", "Runs", "Passed", "Failed", "Skipped", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Runs", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, o := range result.Outcomes {
		if !allTests && o.Verdict != types.VerdictFailed && o.Verdict != types.VerdictFlaky {
			continue
		}
		var passed, failed, skipped int
		var took time.Duration
		for _, r := range o.Records {
			switch {
			case r.Skipped():
				skipped++
			case r.Passed:
				passed++
			default:
				failed++
			}
			took += r.Duration
		}
		t.AppendRow(table.Row{
			o.Unit.Name,
			verdictText(o.Verdict),
			len(o.Configurations),
			len(o.Records),
			passed,
			failed,
			skipped,
			formatDuration(took),
		})
	}

	s := result.Summary
	switch {
	case s.Failed > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case s.Flaky > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d/%d/%d/%d", s.Passed, s.Flaky, s.Failed, s.Skipped),
		"",
		s.Runs,
		s.PassedRuns,
		s.FailedRuns,
		s.SkippedRuns,
		formatDuration(result.Duration),
	})
	t.Render()
	return buf.String()
}

// FormatStabilityTable renders the entries of a stability report that need
// attention, or every entry when all is set.
func FormatStabilityTable(report *StabilityReport, all bool) string {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle("Stability")
	t.AppendHeader(table.Row{"Test", "Config", "Runs", "Pass Rate", "p50", "p99", "Recommendation"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Runs", Align: text.AlignRight},
		{Name: "Pass Rate", Align: text.AlignRight},
		{Name: "p50", Align: text.AlignRight},
		{Name: "p99", Align: text.AlignRight},
	})

	entries := report.Tests
	if !all {
		entries = report.Unstable()
	}
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.TestName,
			e.Config,
			e.TotalRuns,
			fmt.Sprintf("%.1f%%", e.PassRate),
			formatDuration(e.P50Duration),
			formatDuration(e.P99Duration),
			e.Recommendation,
		})
	}
	t.AppendFooter(table.Row{"", "", report.TotalRuns, "", "", "", fmt.Sprintf("%d unstable", len(report.Unstable()))})
	t.SetStyle(table.StyleLight)
	t.Render()
	return buf.String()
}
