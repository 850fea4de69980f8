// Package api exposes detection runs over HTTP: trigger endpoints, the
// latest result in JSON, and the rendered report.
package api

import (
	"time"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
	"github.com/kpiwatch/kpiwatch-engine/internal/repo"
	"github.com/kpiwatch/kpiwatch-engine/internal/services"
	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

// RunRequest is the POST /api/v1/runs body. All fields are optional; zero
// values fall back to the configured defaults.
type RunRequest struct {
	EvalDate            string `json:"evalDate,omitempty"`
	PastDays            int    `json:"pastDays,omitempty"`
	FuturePredictions   bool   `json:"futurePredictions,omitempty"`
	EvaluatePredictions bool   `json:"evaluatePredictions,omitempty"`
}

// AlertDTO is one metric's evaluated record on the wire.
type AlertDTO struct {
	Metric     string  `json:"metric"`
	State      string  `json:"state"`
	Detail     string  `json:"detail"`
	Prediction string  `json:"prediction"`
	Actual     string  `json:"actual"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
}

// ForecastDTO is one forward prediction on the wire.
type ForecastDTO struct {
	Date       string  `json:"date"`
	Metric     string  `json:"metric"`
	Prediction float64 `json:"prediction"`
}

// EvaluationDTO is one metric's accuracy score on the wire.
type EvaluationDTO struct {
	Metric  string  `json:"metric"`
	MAPE    float64 `json:"mape"`
	Samples int     `json:"samples"`
}

// RunDTO is a full run result on the wire.
type RunDTO struct {
	EvalDate    string          `json:"evalDate"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Alerts      []AlertDTO      `json:"alerts"`
	Forecasts   []ForecastDTO   `json:"forecasts,omitempty"`
	Evaluations []EvaluationDTO `json:"evaluations,omitempty"`
}

// ToRunDTO maps a run result and its optional evaluations onto the wire form.
func ToRunDTO(result *models.RunResult, evals []repo.Evaluation) RunDTO {
	dto := RunDTO{
		EvalDate:    result.EvalDate.Format("2006-01-02"),
		GeneratedAt: result.GeneratedAt,
		Alerts:      make([]AlertDTO, 0, len(result.Alerts)),
	}
	for _, rec := range result.Alerts {
		dto.Alerts = append(dto.Alerts, AlertDTO{
			Metric:     rec.Metric,
			State:      rec.State.String(),
			Detail:     rec.Detail,
			Prediction: rec.PredictionText,
			Actual:     rec.ActualText,
			Lower:      rec.Lower,
			Upper:      rec.Upper,
		})
	}
	for _, row := range result.Forecasts {
		dto.Forecasts = append(dto.Forecasts, ForecastDTO{
			Date:       row.Date.Format("2006-01-02"),
			Metric:     row.Metric,
			Prediction: row.Prediction,
		})
	}
	for _, ev := range evals {
		dto.Evaluations = append(dto.Evaluations, EvaluationDTO{Metric: ev.Metric, MAPE: ev.MAPE, Samples: ev.Samples})
	}
	return dto
}

// ToRunOptions maps the request body onto service run options.
func ToRunOptions(req RunRequest) (services.RunOptions, error) {
	opts := services.RunOptions{
		PastDays:            req.PastDays,
		FuturePredictions:   req.FuturePredictions,
		EvaluatePredictions: req.EvaluatePredictions,
	}
	if req.EvalDate != "" {
		day, err := utils.ParseDay(req.EvalDate)
		if err != nil {
			return services.RunOptions{}, err
		}
		opts.EvalDate = day
	}
	return opts, nil
}
