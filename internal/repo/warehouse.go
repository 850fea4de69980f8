// Package repo is the SQL warehouse adapter: it assembles the date-by-metric
// frame from the configured per-metric queries and writes run output back.
package repo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kpiwatch/kpiwatch-engine/internal/config"
	"github.com/kpiwatch/kpiwatch-engine/internal/models"
	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

// Warehouse runs metric queries and persists run output.
type Warehouse struct {
	db     *sqlx.DB
	cfg    config.WarehouseConfig
	logger *slog.Logger
}

// Open connects to the warehouse and verifies the connection.
func Open(cfg config.WarehouseConfig, logger *slog.Logger) (*Warehouse, error) {
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("warehouse connect: %w", err)
	}
	return &Warehouse{db: db, cfg: cfg, logger: logger}, nil
}

// Close releases the connection pool.
func (w *Warehouse) Close() error { return w.db.Close() }

type valueRow struct {
	Day   time.Time `db:"day"`
	Value float64   `db:"value"`
}

// LoadFrame executes every metric's query over the window ending at evalDate
// and left-joins the results onto a consecutive date spine. A metric whose
// query returns the same date twice is excluded from the frame with a
// warning; dates a query never mentions stay missing. Integer typing is
// inferred from the observed values, with the configured overrides winning.
func (w *Warehouse) LoadFrame(ctx context.Context, specs []config.MetricSpec, evalDate time.Time, pastDays int) (*models.Frame, error) {
	if pastDays < 1 {
		return nil, fmt.Errorf("load frame: pastDays must be positive, got %d", pastDays)
	}

	// The spine covers the modelling window plus the evaluation date row.
	spine := utils.DaySpine(evalDate, pastDays+1)
	start, end := spine[0], spine[len(spine)-1]

	index := make(map[time.Time]int, len(spine))
	for i, d := range spine {
		index[d] = i
	}

	metrics := make([]string, 0, len(specs))
	columns := make(map[string][]float64, len(specs))
	for _, spec := range specs {
		col, err := w.loadColumn(ctx, spec, start, end, index)
		if err != nil {
			if _, dup := err.(*duplicateDateError); dup {
				w.logger.Warn("metric excluded from run",
					slog.String("metric", spec.Params.KPI),
					slog.Any("error", err))
				continue
			}
			return nil, err
		}
		metrics = append(metrics, spec.Params.KPI)
		columns[spec.Params.KPI] = col
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("load frame: no usable metric columns")
	}

	frame := models.NewFrame(spine, metrics)
	for name, col := range columns {
		copy(frame.Values[name], col)
	}
	frame.InferIntegerColumns(config.IntegerOverrides(specs))
	return frame, nil
}

type duplicateDateError struct {
	metric string
	day    time.Time
}

func (e *duplicateDateError) Error() string {
	return fmt.Sprintf("metric %s: query returned %s more than once", e.metric, e.day.Format("2006-01-02"))
}

func (w *Warehouse) loadColumn(ctx context.Context, spec config.MetricSpec, start, end time.Time, index map[time.Time]int) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	defer cancel()

	rows := []valueRow{}
	if err := w.db.SelectContext(ctx, &rows, spec.Query, start, end); err != nil {
		return nil, fmt.Errorf("metric %s query: %w", spec.Params.KPI, err)
	}

	col := make([]float64, len(index))
	for i := range col {
		col[i] = models.Missing()
	}
	seen := make(map[time.Time]bool, len(rows))
	for _, r := range rows {
		day := utils.Day(r.Day)
		if seen[day] {
			return nil, &duplicateDateError{metric: spec.Params.KPI, day: day}
		}
		seen[day] = true
		if i, ok := index[day]; ok {
			col[i] = r.Value
		}
	}
	return col, nil
}

// SaveAlerts persists the actionable records of one run. Only rows in the
// alert state are stored; the full table lives in the rendered report.
func (w *Warehouse) SaveAlerts(ctx context.Context, evalDate time.Time, table models.AlertsTable) error {
	alerts := table.Alerts()
	if len(alerts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(
		`INSERT INTO %s (run_date, metric, prediction, actual, lower_bound, upper_bound, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pq.QuoteIdentifier(w.cfg.AlertsTable))

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save alerts: %w", err)
	}
	defer tx.Rollback()

	day := utils.Day(evalDate)
	for _, rec := range alerts {
		if _, err := tx.ExecContext(ctx, query,
			day, rec.Metric, rec.Prediction, rec.Actual, rec.Lower, rec.Upper, rec.Detail); err != nil {
			return fmt.Errorf("save alerts %s: %w", rec.Metric, err)
		}
	}
	return tx.Commit()
}

// SaveForecasts upserts the forward predictions so a later run for the same
// dates overwrites the older estimate.
func (w *Warehouse) SaveForecasts(ctx context.Context, table models.ForecastTable) error {
	if len(table) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(
		`INSERT INTO %s (day, metric, prediction)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (day, metric) DO UPDATE SET prediction = EXCLUDED.prediction`,
		pq.QuoteIdentifier(w.cfg.ForecastTable))

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save forecasts: %w", err)
	}
	defer tx.Rollback()

	for _, row := range table {
		if _, err := tx.ExecContext(ctx, query, utils.Day(row.Date), row.Metric, row.Prediction); err != nil {
			return fmt.Errorf("save forecasts %s: %w", row.Metric, err)
		}
	}
	return tx.Commit()
}

// Evaluation is one metric's accuracy score for previously stored predictions.
type Evaluation struct {
	Metric  string
	MAPE    float64
	Samples int
}

// EvaluatePredictions scores the predictions stored for the trailing window
// against the values the metric queries report now, as mean absolute
// percentage error. Days with a zero or missing actual are skipped.
func (w *Warehouse) EvaluatePredictions(ctx context.Context, specs []config.MetricSpec, evalDate time.Time, windowDays int) ([]Evaluation, error) {
	if windowDays < 1 {
		windowDays = 30
	}
	spine := utils.DaySpine(evalDate, windowDays)
	start, end := spine[0], spine[len(spine)-1]

	index := make(map[time.Time]int, len(spine))
	for i, d := range spine {
		index[d] = i
	}

	stored, err := w.loadStoredPredictions(ctx, start, end)
	if err != nil {
		return nil, err
	}

	evals := make([]Evaluation, 0, len(specs))
	for _, spec := range specs {
		if !spec.Params.Method.Numeric() {
			continue
		}
		name := spec.Params.KPI
		// Forecast rows carry the display name (underscores as spaces).
		predictions, ok := stored[strings.ReplaceAll(name, "_", " ")]
		if !ok {
			if predictions, ok = stored[name]; !ok {
				continue
			}
		}

		col, err := w.loadColumn(ctx, spec, start, end, index)
		if err != nil {
			w.logger.Warn("evaluation skipped",
				slog.String("metric", name),
				slog.Any("error", err))
			continue
		}

		sum, n := 0.0, 0
		for i, day := range spine {
			pred, ok := predictions[day]
			if !ok {
				continue
			}
			actual := col[i]
			if models.IsMissing(actual) || actual == 0 {
				continue
			}
			sum += math.Abs(actual-pred) / math.Abs(actual)
			n++
		}
		if n == 0 {
			continue
		}
		evals = append(evals, Evaluation{Metric: name, MAPE: 100 * sum / float64(n), Samples: n})
	}
	return evals, nil
}

type forecastRow struct {
	Day        time.Time `db:"day"`
	Metric     string    `db:"metric"`
	Prediction float64   `db:"prediction"`
}

func (w *Warehouse) loadStoredPredictions(ctx context.Context, start, end time.Time) (map[string]map[time.Time]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(
		`SELECT day, metric, prediction FROM %s WHERE day BETWEEN $1 AND $2`,
		pq.QuoteIdentifier(w.cfg.ForecastTable))

	rows := []forecastRow{}
	if err := w.db.SelectContext(ctx, &rows, query, start, end); err != nil {
		if err == sql.ErrNoRows {
			return map[string]map[time.Time]float64{}, nil
		}
		return nil, fmt.Errorf("load stored predictions: %w", err)
	}

	out := make(map[string]map[time.Time]float64)
	for _, r := range rows {
		byDay := out[r.Metric]
		if byDay == nil {
			byDay = make(map[time.Time]float64)
			out[r.Metric] = byDay
		}
		byDay[utils.Day(r.Day)] = r.Prediction
	}
	return out, nil
}
