package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

const (
	// fourierOrder matches the explicit weekly term the model always adds.
	fourierOrder = 3
	// maxChangepoints caps the piecewise-linear trend basis.
	maxChangepoints = 25
	// changepointRange places changepoints over the first 80% of the history.
	changepointRange = 0.8
	// basePenalty keeps the normal equations well conditioned.
	basePenalty = 1e-8
)

// seasonalBackend fits a trend-plus-weekly-seasonality decomposition: a
// piecewise-linear trend whose changepoint segments are ridge-penalised by
// the inverse of the configured sensitivity, plus a period-7 Fourier
// seasonality of order 3. Multiplicative mode fits on the log1p scale and
// transforms back, so the band stays positive-skewed the way multiplicative
// series behave.
type seasonalBackend struct {
	params models.ModelParams
}

func (b *seasonalBackend) Forecast(ctx context.Context, hist TimeSeries, evalDate time.Time) (*Result, error) {
	n := len(hist.Values)
	if n < seasonalPeriod+2 {
		return nil, fmt.Errorf("seasonal fit %s: need at least %d observations, have %d", b.params.KPI, seasonalPeriod+2, n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mult := b.params.SeasonalityMode == models.SeasonalityMultiplicative
	y := make([]float64, n)
	for i, v := range hist.Values {
		if models.IsMissing(v) {
			return nil, fmt.Errorf("seasonal fit %s: missing value survived imputation at row %d", b.params.KPI, i)
		}
		if mult {
			if v < 0 {
				v = 0
			}
			y[i] = math.Log1p(v)
		} else {
			y[i] = v
		}
	}

	cps := changepointGrid(n)
	cols := 2 + len(cps) + 2*fourierOrder
	x := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		x.SetRow(i, designRow(i, n, cps))
	}

	penalties := make([]float64, cols)
	hinge := 1.0 / b.params.ChangePointSensitivity
	for i := range penalties {
		penalties[i] = basePenalty
		if i >= 2 && i < 2+len(cps) {
			penalties[i] += hinge
		}
	}

	beta, err := ridgeSolve(x, y, penalties)
	if err != nil {
		return nil, fmt.Errorf("seasonal fit %s: %w", b.params.KPI, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sigma := residualStdDev(x, y, beta)
	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + float64(b.params.ConfidenceInterval)/200.0)

	start := hist.Dates[0]
	total := horizonDays(start, evalDate)
	points := make([]Point, total)
	for day := 0; day < total; day++ {
		yhat := dot(designRow(day, n, cps), beta)
		lower := yhat - z*sigma
		upper := yhat + z*sigma
		if mult {
			yhat = math.Expm1(yhat)
			lower = math.Expm1(lower)
			upper = math.Expm1(upper)
		}
		points[day] = Point{
			Date:  start.AddDate(0, 0, day),
			Value: yhat,
			Lower: lower,
			Upper: upper,
		}
	}
	return NewResult(start, points), nil
}

// designRow builds the regression features for one day offset: intercept,
// normalised trend, changepoint hinges, and the weekly Fourier pairs.
func designRow(day, n int, cps []float64) []float64 {
	t := float64(day) / float64(n-1)
	row := make([]float64, 0, 2+len(cps)+2*fourierOrder)
	row = append(row, 1, t)
	for _, c := range cps {
		if t > c {
			row = append(row, t-c)
		} else {
			row = append(row, 0)
		}
	}
	for k := 1; k <= fourierOrder; k++ {
		angle := 2 * math.Pi * float64(k) * float64(day) / seasonalPeriod
		row = append(row, math.Sin(angle), math.Cos(angle))
	}
	return row
}

func changepointGrid(n int) []float64 {
	count := maxChangepoints
	if n/3 < count {
		count = n / 3
	}
	if count < 1 {
		return nil
	}
	cps := make([]float64, count)
	for j := 1; j <= count; j++ {
		cps[j-1] = changepointRange * float64(j) / float64(count+1)
	}
	return cps
}

func residualStdDev(x *mat.Dense, y, beta []float64) float64 {
	n, _ := x.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		r := y[i] - dot(x.RawRowView(i), beta)
		sum += r * r
	}
	return math.Sqrt(sum / float64(n))
}
