package reporting

import (
	"fmt"
	"html/template"
	"os"
)

const stabilityTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Stability Report - {{.Date}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        h1 { color: #333; }
        .summary { background: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background: #4CAF50; color: white; }
        .pass-rate-100 { color: #4CAF50; font-weight: bold; }
        .pass-rate-low { color: #f44336; }
        .recommendation-STABLE { color: #4CAF50; font-weight: bold; }
        .recommendation-UNSTABLE { color: #ff9800; font-weight: bold; }
        .recommendation-FAILING { color: #f44336; font-weight: bold; }
        .recommendation-SKIPPED { color: #9e9e9e; }
        details { margin: 10px 0; }
        summary { cursor: pointer; padding: 5px; background: #f0f0f0; }
        .failure-log { background: #ffebee; padding: 10px; margin: 5px 0; font-family: monospace; font-size: 12px; white-space: pre-wrap; }
    </style>
</head>
<body>
    <h1>Stability Report</h1>
    <div class="summary">
        <p><strong>Date:</strong> {{.Date}}</p>
        <p><strong>Run ID:</strong> {{.RunID}}</p>
        <p><strong>Total Runs:</strong> {{.TotalRuns}}</p>
    </div>

    <h2>Results</h2>
    <table>
        <tr>
            <th>Test</th>
            <th>Configuration</th>
            <th>Runs</th>
            <th>Pass Rate</th>
            <th>p50</th>
            <th>p99</th>
            <th>Methods (MinOpts / Tiered)</th>
            <th>Recommendation</th>
            <th>Details</th>
        </tr>
        {{range .Tests}}
        <tr>
            <td>{{.TestName}}</td>
            <td>{{.Config}}</td>
            <td>{{.TotalRuns}}</td>
            <td class="pass-rate-{{if eq .PassRate 100.0}}100{{else}}low{{end}}">
                {{printf "%.1f" .PassRate}}%
            </td>
            <td>{{.P50Duration}}</td>
            <td>{{.P99Duration}}</td>
            <td>{{.MinOptsMethods}} / {{.TieredMethods}}</td>
            <td class="recommendation-{{.Recommendation}}">{{.Recommendation}}</td>
            <td>
                {{if gt .Failures 0}}
                <details>
                    <summary>{{.Failures}} failure(s){{if gt .TimedOut 0}}, {{.TimedOut}} timeout(s){{end}}</summary>
                    {{range .FailureLogs}}
                    <div class="failure-log">{{.}}</div>
                    {{end}}
                </details>
                {{else}}
                <span style="color: #4CAF50;">✓ All passed</span>
                {{end}}
            </td>
        </tr>
        {{end}}
    </table>
</body>
</html>`

var stabilityHTML = template.Must(template.New("stability").Parse(stabilityTemplate))

func saveHTMLReport(report *StabilityReport, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return stabilityHTML.Execute(file, report)
}
