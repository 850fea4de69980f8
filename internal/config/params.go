package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

// MetricSpec is one metric's full configuration: the warehouse query that
// produces its daily values and the model parameters driving detection.
type MetricSpec struct {
	Params models.ModelParams

	// Query must return one (day, value) row per calendar day.
	Query string

	// Integer, when set, overrides the integer-type inference for the column.
	Integer *bool
}

type metricSpecYAML struct {
	KPI                    string  `yaml:"kpi"`
	Method                 string  `yaml:"method"`
	ConfidenceInterval     float64 `yaml:"confidenceInterval"`
	SeasonalityMode        string  `yaml:"seasonalityMode"`
	ChangePointSensitivity float64 `yaml:"changePointSensitivity"`
	IsRelated              bool    `yaml:"isRelated"`
	SendAlert              *bool   `yaml:"sendAlert"`
	Integer                *bool   `yaml:"integer"`
	Query                  string  `yaml:"query"`
}

type paramsFileYAML struct {
	Metrics []metricSpecYAML `yaml:"metrics"`
}

// LoadParams reads the metric-parameters YAML and validates every record.
// An unknown method or an out-of-range confidence interval is a load error,
// not something discovered mid-run.
func LoadParams(path string) ([]MetricSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metric params: %w", err)
	}

	var file paramsFileYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse metric params: %w", err)
	}
	if len(file.Metrics) == 0 {
		return nil, fmt.Errorf("metric params %s: no metrics configured", path)
	}

	specs := make([]MetricSpec, 0, len(file.Metrics))
	seen := make(map[string]bool, len(file.Metrics))
	for _, m := range file.Metrics {
		if seen[m.KPI] {
			return nil, fmt.Errorf("metric params: duplicate kpi %q", m.KPI)
		}
		seen[m.KPI] = true

		sendAlert := true
		if m.SendAlert != nil {
			sendAlert = *m.SendAlert
		}
		spec := MetricSpec{
			Params: models.ModelParams{
				KPI:                    m.KPI,
				Method:                 models.Method(m.Method),
				ConfidenceInterval:     m.ConfidenceInterval,
				SeasonalityMode:        models.SeasonalityMode(m.SeasonalityMode),
				ChangePointSensitivity: m.ChangePointSensitivity,
				IsRelated:              m.IsRelated,
				SendAlert:              sendAlert,
			},
			Query:   m.Query,
			Integer: m.Integer,
		}
		if err := spec.Params.Validate(); err != nil {
			return nil, err
		}
		if spec.Query == "" {
			return nil, fmt.Errorf("metric params %s: query is required", m.KPI)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ParamsByKPI indexes the specs' model parameters by metric name.
func ParamsByKPI(specs []MetricSpec) map[string]models.ModelParams {
	out := make(map[string]models.ModelParams, len(specs))
	for _, s := range specs {
		out[s.Params.KPI] = s.Params
	}
	return out
}

// IntegerOverrides collects the explicit integer-type overrides.
func IntegerOverrides(specs []MetricSpec) map[string]bool {
	out := make(map[string]bool)
	for _, s := range specs {
		if s.Integer != nil {
			out[s.Params.KPI] = *s.Integer
		}
	}
	return out
}
