package models

import "fmt"

// Method names a forecasting backend.
type Method string

const (
	MethodSeasonal       Method = "seasonal-decomposition"
	MethodAutoregressive Method = "autoregressive"
	MethodConstraint     Method = "constraint"
)

// Known reports whether the method names a supported backend.
func (m Method) Known() bool {
	switch m {
	case MethodSeasonal, MethodAutoregressive, MethodConstraint:
		return true
	}
	return false
}

// Numeric reports whether the method produces a numeric forecast band.
// The constraint method carries no band and skips the numeric decision path.
func (m Method) Numeric() bool {
	return m == MethodSeasonal || m == MethodAutoregressive
}

// SeasonalityMode selects how the seasonal component combines with the trend.
type SeasonalityMode string

const (
	SeasonalityAdditive       SeasonalityMode = "additive"
	SeasonalityMultiplicative SeasonalityMode = "multiplicative"
)

// ModelParams is one metric's detection policy record.
type ModelParams struct {
	KPI                    string          `yaml:"kpi"`
	Method                 Method          `yaml:"method"`
	ConfidenceInterval     float64         `yaml:"confidenceInterval"`
	SeasonalityMode        SeasonalityMode `yaml:"seasonalityMode"`
	ChangePointSensitivity float64         `yaml:"changePointSensitivity"`
	IsRelated              bool            `yaml:"isRelated"`
	SendAlert              bool            `yaml:"sendAlert"`
}

// Validate checks the record for internal consistency. The seasonal method
// needs its full tuning surface; the others ignore those fields.
func (p ModelParams) Validate() error {
	if p.KPI == "" {
		return fmt.Errorf("model params: kpi name is required")
	}
	if !p.Method.Known() {
		return fmt.Errorf("model params %s: unknown method %q", p.KPI, p.Method)
	}
	if p.Method == MethodSeasonal {
		if p.ConfidenceInterval < 1 || p.ConfidenceInterval > 99 {
			return fmt.Errorf("model params %s: confidence interval %v outside [1, 99]", p.KPI, p.ConfidenceInterval)
		}
		if p.SeasonalityMode != SeasonalityAdditive && p.SeasonalityMode != SeasonalityMultiplicative {
			return fmt.Errorf("model params %s: unknown seasonality mode %q", p.KPI, p.SeasonalityMode)
		}
		if p.ChangePointSensitivity <= 0 {
			return fmt.Errorf("model params %s: change point sensitivity must be positive", p.KPI)
		}
	}
	return nil
}
