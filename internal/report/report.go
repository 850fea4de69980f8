// Package report renders a run result as a self-contained HTML corpus:
// the alert table first, then the optional future-prediction and
// prediction-accuracy tables.
package report

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

const corpusTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Arial, Helvetica, sans-serif; color: #222; }
h2 { margin-bottom: 4px; }
table { border-collapse: collapse; margin-bottom: 24px; }
th, td { border: 1px solid #bbb; padding: 6px 12px; text-align: right; }
th { background: #f2f2f2; }
td.name { text-align: left; }
tr.alert td { background: #fdecea; }
p.quiet { color: #666; }
</style>
</head>
<body>
<h2>KPI alerts for {{.EvalDate}}</h2>
{{if .Alerts}}
<table>
<tr><th>Metric</th><th>Detail</th><th>Expected</th><th>Lower</th><th>Upper</th><th>Actual</th></tr>
{{range .Alerts}}
<tr class="alert"><td class="name">{{.Metric}}</td><td class="name">{{.Detail}}</td><td>{{.PredictionText}}</td><td>{{.Lower}}</td><td>{{.Upper}}</td><td>{{.ActualText}}</td></tr>
{{end}}
</table>
{{else}}
<p class="quiet">No anomalies detected.</p>
{{end}}
{{if .Forecasts}}
<h2>Expected values through month end</h2>
<table>
<tr><th>Date</th><th>Metric</th><th>Expected</th></tr>
{{range .Forecasts}}
<tr><td>{{.Date}}</td><td class="name">{{.Metric}}</td><td>{{.Prediction}}</td></tr>
{{end}}
</table>
{{end}}
{{if .Evaluations}}
<h2>Prediction accuracy (MAPE)</h2>
<table>
<tr><th>Metric</th><th>MAPE %</th><th>Days</th></tr>
{{range .Evaluations}}
<tr><td class="name">{{.Metric}}</td><td>{{.MAPE}}</td><td>{{.Samples}}</td></tr>
{{end}}
</table>
{{end}}
</body>
</html>
`

var corpus = template.Must(template.New("corpus").Parse(corpusTemplate))

// Evaluation is one metric's prediction-accuracy score for the report.
type Evaluation struct {
	Metric  string
	MAPE    float64
	Samples int
}

type alertView struct {
	Metric         string
	Detail         string
	PredictionText string
	Lower          string
	Upper          string
	ActualText     string
}

type forecastView struct {
	Date       string
	Metric     string
	Prediction string
}

type evaluationView struct {
	Metric  string
	MAPE    string
	Samples int
}

type corpusView struct {
	EvalDate    string
	Alerts      []alertView
	Forecasts   []forecastView
	Evaluations []evaluationView
}

// Render produces the HTML corpus for a run. Only records in the alert state
// appear in the alert table; the future and accuracy tables are present when
// the run produced them.
func Render(result *models.RunResult, evals []Evaluation) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("render report: nil run result")
	}

	view := corpusView{EvalDate: result.EvalDate.Format("2006-01-02")}
	for _, rec := range result.Alerts.Alerts() {
		view.Alerts = append(view.Alerts, alertView{
			Metric:         rec.Metric,
			Detail:         rec.Detail,
			PredictionText: rec.PredictionText,
			Lower:          formatBound(rec.Lower, rec.Integer, rec.Constraint),
			Upper:          formatBound(rec.Upper, rec.Integer, rec.Constraint),
			ActualText:     rec.ActualText,
		})
	}
	for _, row := range result.Forecasts {
		view.Forecasts = append(view.Forecasts, forecastView{
			Date:       row.Date.Format("2006-01-02"),
			Metric:     row.Metric,
			Prediction: formatValue(row.Prediction, false),
		})
	}
	for _, ev := range evals {
		view.Evaluations = append(view.Evaluations, evaluationView{
			Metric:  ev.Metric,
			MAPE:    fmt.Sprintf("%.1f", ev.MAPE),
			Samples: ev.Samples,
		})
	}

	var buf bytes.Buffer
	if err := corpus.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

func formatBound(v float64, integer, constraint bool) string {
	if constraint {
		return "-"
	}
	return formatValue(v, integer)
}

func formatValue(v float64, integer bool) string {
	if integer {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%g", v)
}
