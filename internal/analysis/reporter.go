package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bc-dunia/failoverdrill/internal/types"
)

// Report contains all data for generating a run report.
type Report struct {
	RunID      string                  `json:"run_id"`
	StartTime  time.Time               `json:"start_time"`
	EndTime    time.Time               `json:"end_time"`
	Duration   float64                 `json:"duration_seconds"`
	StopReason string                  `json:"stop_reason"`
	Summary    *RunSummary             `json:"summary"`
	Records    []types.IterationRecord `json:"records"`

	// Options is used when Summary has to be derived from Records.
	Options Options `json:"-"`
}

// Reporter renders summaries as text, JSON and HTML.
type Reporter struct{}

// NewReporter creates a new Reporter instance.
func NewReporter() *Reporter {
	return &Reporter{}
}

// GenerateJSON generates a pretty-printed JSON report. The caller's report is not modified.
func (r *Reporter) GenerateJSON(report *Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("report cannot be nil")
	}

	out := *report
	if out.Summary == nil {
		out.Summary = Summarize(out.Records, 0, out.Options)
	}
	if out.Records == nil {
		out.Records = []types.IterationRecord{}
	}

	return json.MarshalIndent(&out, "", "  ")
}

// GenerateText renders the summary block: one row per phase with its
// success tally, mean, standard deviation, min, median and max in
// seconds, followed by the condensed failover/fallback line.
func (r *Reporter) GenerateText(summary *RunSummary) string {
	if summary == nil {
		summary = Summarize(nil, 0, Options{})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary over %d iterations (%d completed):\n", summary.Iterations, summary.Completed)

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Phase\tSuccess\tRate\tMean (s)\tStdDev (s)\tMin (s)\tMedian (s)\tMax (s)")
	for _, phase := range types.Phases {
		s := summary.Phase(phase)
		fmt.Fprintf(tw, "%s\t%d/%d\t%.1f%%\t%.6f\t%.6f\t%.6f\t%.6f\t%.6f\n",
			phaseTitle(phase), s.SuccessCount, s.Total, s.SuccessPercent(),
			s.Mean, s.StdDev, s.Min, s.Median, s.Max)
	}
	tw.Flush()

	if summary.StrictFallback {
		b.WriteString("Fallback tally: confirmed only\n")
	}
	if h := summary.HostHealth; h != nil && h.SaturationDetected {
		fmt.Fprintf(&b, "Warning: %s; durations may be inflated\n", h.SaturationReason)
	}

	b.WriteString(CondensedLine(summary))
	b.WriteString("\n")
	return b.String()
}

// CondensedLine returns the one-line failover/fallback summary.
func CondensedLine(summary *RunSummary) string {
	failover := summary.Phase(types.PhaseFailover)
	fallback := summary.Phase(types.PhaseFallback)
	return fmt.Sprintf("Failover: mean %.6fs, success %.1f%% | Fallback: mean %.6fs, success %.1f%%",
		failover.Mean, failover.SuccessPercent(),
		fallback.Mean, fallback.SuccessPercent())
}

// GenerateHTML generates a self-contained HTML report with embedded CSS.
func (r *Reporter) GenerateHTML(report *Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("report cannot be nil")
	}
	summary := report.Summary
	if summary == nil {
		summary = Summarize(report.Records, 0, Options{})
	}

	data := htmlReportData{
		RunID:       report.RunID,
		StartTime:   formatTimestamp(report.StartTime),
		EndTime:     formatTimestamp(report.EndTime),
		Duration:    formatDuration(time.Duration(report.Duration * float64(time.Second))),
		StopReason:  report.StopReason,
		Iterations:  summary.Iterations,
		Completed:   summary.Completed,
		Condensed:   CondensedLine(summary),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for _, phase := range types.Phases {
		s := summary.Phase(phase)
		data.Phases = append(data.Phases, phaseRow{
			Name:    phaseTitle(phase),
			Success: fmt.Sprintf("%d/%d", s.SuccessCount, s.Total),
			Rate:    fmt.Sprintf("%.1f%%", s.SuccessPercent()),
			Mean:    fmt.Sprintf("%.3f", s.Mean),
			StdDev:  fmt.Sprintf("%.3f", s.StdDev),
			Min:     fmt.Sprintf("%.3f", s.Min),
			Median:  fmt.Sprintf("%.3f", s.Median),
			Max:     fmt.Sprintf("%.3f", s.Max),
		})
	}

	for _, rec := range report.Records {
		row := iterationRow{Index: rec.Index}
		for _, phase := range types.Phases {
			o := rec.Outcome(phase)
			row.Cells = append(row.Cells, outcomeCell{
				Seconds:   fmt.Sprintf("%.3f", o.Seconds()),
				Confirmed: o.Succeeded,
			})
		}
		data.Records = append(data.Records, row)
	}

	if h := summary.HostHealth; h != nil {
		data.HasHostHealth = true
		data.PeakCPUPercent = fmt.Sprintf("%.1f%%", h.PeakCPUPercent)
		data.PeakMemoryMB = fmt.Sprintf("%.1f MB", h.PeakMemoryMB)
		data.SaturationDetected = h.SaturationDetected
		data.SaturationReason = h.SaturationReason
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.Bytes(), nil
}

type htmlReportData struct {
	RunID              string
	StartTime          string
	EndTime            string
	Duration           string
	StopReason         string
	Iterations         int
	Completed          int
	Condensed          string
	Phases             []phaseRow
	Records            []iterationRow
	HasHostHealth      bool
	PeakCPUPercent     string
	PeakMemoryMB       string
	SaturationDetected bool
	SaturationReason   string
	GeneratedAt        string
}

type phaseRow struct {
	Name    string
	Success string
	Rate    string
	Mean    string
	StdDev  string
	Min     string
	Median  string
	Max     string
}

type iterationRow struct {
	Index int
	Cells []outcomeCell
}

type outcomeCell struct {
	Seconds   string
	Confirmed bool
}

func phaseTitle(p types.Phase) string {
	s := string(p)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatTimestamp formats t as RFC3339 in UTC.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format(time.RFC3339)
}

// formatDuration formats d as a short human-readable string.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Failover Drill Report - {{.RunID}}</title>
    <style>
        body { font: 14px/1.5 system-ui, sans-serif; color: #222; margin: 2em auto; max-width: 1100px; }
        h1 { border-bottom: 2px solid #1f6feb; }
        dl { display: grid; grid-template-columns: max-content auto; gap: 2px 16px; }
        dd { margin: 0; }
        table { width: 100%; border-collapse: collapse; font-variant-numeric: tabular-nums; }
        th, td { padding: 4px 10px; text-align: right; border-bottom: 1px solid #ddd; }
        th:first-child, td:first-child { text-align: left; }
        .assumed { color: #b35900; }
        .warning { background: #fff4e5; border-left: 4px solid #b35900; padding: 8px; }
        .condensed { font-family: monospace; background: #f3f3f3; padding: 8px; }
    </style>
</head>
<body>
    <h1>Failover Drill Report</h1>
    <dl>
        <dt>Run ID</dt><dd>{{.RunID}}</dd>
        <dt>Start</dt><dd>{{.StartTime}}</dd>
        <dt>End</dt><dd>{{.EndTime}}</dd>
        <dt>Duration</dt><dd>{{.Duration}}</dd>
        <dt>Iterations</dt><dd>{{.Completed}} of {{.Iterations}}</dd>
        {{if .StopReason}}<dt>Stop reason</dt><dd>{{.StopReason}}</dd>{{end}}
    </dl>

    <h2>Phases</h2>
    <table>
        <tr><th>Phase</th><th>Success</th><th>Rate</th><th>Mean (s)</th><th>StdDev (s)</th><th>Min (s)</th><th>Median (s)</th><th>Max (s)</th></tr>
        {{range .Phases}}
        <tr><td>{{.Name}}</td><td>{{.Success}}</td><td>{{.Rate}}</td><td>{{.Mean}}</td><td>{{.StdDev}}</td><td>{{.Min}}</td><td>{{.Median}}</td><td>{{.Max}}</td></tr>
        {{end}}
    </table>
    <p class="condensed">{{.Condensed}}</p>

    {{if .Records}}
    <h2>Iterations</h2>
    <table>
        <tr><th>#</th><th>Stop (s)</th><th>Failover (s)</th><th>Start (s)</th><th>Fallback (s)</th></tr>
        {{range .Records}}
        <tr><td>{{.Index}}</td>{{range .Cells}}<td{{if not .Confirmed}} class="assumed"{{end}}>{{.Seconds}}{{if not .Confirmed}} (timeout){{end}}</td>{{end}}</tr>
        {{end}}
    </table>
    {{end}}

    {{if .HasHostHealth}}
    <h2>Harness Host</h2>
    <p>Peak CPU {{.PeakCPUPercent}}, peak memory {{.PeakMemoryMB}}</p>
    {{if .SaturationDetected}}<p class="warning">{{.SaturationReason}}</p>{{end}}
    {{end}}

    <p><small>Generated at {{.GeneratedAt}}</small></p>
</body>
</html>
`
