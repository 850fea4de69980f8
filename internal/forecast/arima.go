package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

// arimaZ is the 95% normal quantile; the autoregressive method carries no
// per-metric confidence parameter and keeps the legacy default band.
const arimaZ = 1.959964

// autoregressiveBackend fits an order-searching ARIMA on the series after a
// linear+constant detrend and removal of period-7 seasonal indices. Orders
// (p,d,q) are searched over a small grid by AIC; estimation uses the
// Hannan-Rissanen two-stage regression.
type autoregressiveBackend struct{}

type armaFit struct {
	p, d, q int
	phi     []float64
	theta   []float64
	sigma2  float64
	aic     float64
	diffed  []float64
	resid   []float64
}

func (autoregressiveBackend) Forecast(ctx context.Context, hist TimeSeries, evalDate time.Time) (*Result, error) {
	n := len(hist.Values)
	if n < 3*seasonalPeriod {
		return nil, fmt.Errorf("autoregressive fit: need at least %d observations, have %d", 3*seasonalPeriod, n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	y := make([]float64, n)
	idx := make([]float64, n)
	for i, v := range hist.Values {
		if models.IsMissing(v) {
			return nil, fmt.Errorf("autoregressive fit: missing value survived imputation at row %d", i)
		}
		y[i] = v
		idx[i] = float64(i)
	}

	// Linear+constant trend, then centred weekly seasonal indices.
	alpha, slope := stat.LinearRegression(idx, y, nil, false)
	detr := make([]float64, n)
	for i := range y {
		detr[i] = y[i] - (alpha + slope*float64(i))
	}
	seasonal := weekdayIndices(detr)
	des := make([]float64, n)
	for i := range detr {
		des[i] = detr[i] - seasonal[i%seasonalPeriod]
	}

	best, err := searchOrders(ctx, des)
	if err != nil {
		return nil, err
	}

	start := hist.Dates[0]
	total := horizonDays(start, evalDate)
	steps := total - n
	if steps < 0 {
		steps = 0
	}
	desForecast, stderr := best.forecast(des, steps)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inSampleSE := math.Sqrt(best.sigma2)
	points := make([]Point, total)
	for day := 0; day < total; day++ {
		trend := alpha + slope*float64(day)
		season := seasonal[day%seasonalPeriod]
		var center, se float64
		if day < n {
			center = trend + season
			se = inSampleSE
		} else {
			h := day - n
			center = trend + season + desForecast[h]
			se = stderr[h]
		}
		points[day] = Point{
			Date:  start.AddDate(0, 0, day),
			Value: center,
			Lower: center - arimaZ*se,
			Upper: center + arimaZ*se,
		}
	}
	return NewResult(start, points), nil
}

// searchOrders scans a small (p,d,q) grid and keeps the lowest-AIC fit.
func searchOrders(ctx context.Context, des []float64) (*armaFit, error) {
	var best *armaFit
	for d := 0; d <= 1; d++ {
		w := difference(des, d)
		for p := 1; p <= 3; p++ {
			for q := 0; q <= 2; q++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				fit, err := fitARMA(w, p, q)
				if err != nil {
					continue
				}
				fit.d = d
				fit.aic += float64(2 * d)
				if best == nil || fit.aic < best.aic {
					best = fit
				}
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("autoregressive fit: no admissible order in search grid")
	}
	return best, nil
}

// fitARMA estimates ARMA(p,q) on a stationary series by regressing each value
// on its lags and on lagged residuals from a long preliminary AR fit.
func fitARMA(w []float64, p, q int) (*armaFit, error) {
	long := p + q + 3
	t0 := p
	if q > 0 && long > t0 {
		t0 = long
	}
	rows := len(w) - t0
	if rows < 3*(p+q+1) {
		return nil, fmt.Errorf("series too short for arma(%d,%d)", p, q)
	}

	var e []float64
	if q > 0 {
		e = longARResiduals(w, long)
	}

	cols := p + q
	x := mat.NewDense(rows, cols, nil)
	target := make([]float64, rows)
	for r := 0; r < rows; r++ {
		t := t0 + r
		row := make([]float64, 0, cols)
		for i := 1; i <= p; i++ {
			row = append(row, w[t-i])
		}
		for j := 1; j <= q; j++ {
			row = append(row, e[t-j])
		}
		x.SetRow(r, row)
		target[r] = w[t]
	}

	penalties := make([]float64, cols)
	for i := range penalties {
		penalties[i] = basePenalty
	}
	coeffs, err := ridgeSolve(x, target, penalties)
	if err != nil {
		return nil, err
	}

	resid := make([]float64, len(w))
	ssr := 0.0
	for r := 0; r < rows; r++ {
		t := t0 + r
		pred := dot(x.RawRowView(r), coeffs)
		resid[t] = target[r] - pred
		ssr += resid[t] * resid[t]
	}
	sigma2 := ssr / float64(rows)

	return &armaFit{
		p:      p,
		q:      q,
		phi:    coeffs[:p],
		theta:  coeffs[p:],
		sigma2: sigma2,
		aic:    float64(rows)*math.Log(sigma2+1e-12) + float64(2*(p+q+1)),
		diffed: w,
		resid:  resid,
	}, nil
}

// longARResiduals runs the Hannan-Rissanen first stage: a long AR fit whose
// residuals stand in for the unobserved innovations.
func longARResiduals(w []float64, lags int) []float64 {
	resid := make([]float64, len(w))
	rows := len(w) - lags
	if rows < lags+1 {
		return resid
	}

	x := mat.NewDense(rows, lags, nil)
	target := make([]float64, rows)
	for r := 0; r < rows; r++ {
		t := lags + r
		row := make([]float64, lags)
		for i := 1; i <= lags; i++ {
			row[i-1] = w[t-i]
		}
		x.SetRow(r, row)
		target[r] = w[t]
	}

	penalties := make([]float64, lags)
	for i := range penalties {
		penalties[i] = basePenalty
	}
	coeffs, err := ridgeSolve(x, target, penalties)
	if err != nil {
		return resid
	}
	for r := 0; r < rows; r++ {
		t := lags + r
		resid[t] = target[r] - dot(x.RawRowView(r), coeffs)
	}
	return resid
}

// forecast produces steps recursive predictions on the deseasonalised scale
// together with their standard errors widened by the psi weights.
func (f *armaFit) forecast(des []float64, steps int) ([]float64, []float64) {
	if steps == 0 {
		return nil, nil
	}

	wExt := append([]float64(nil), f.diffed...)
	eExt := append([]float64(nil), f.resid...)
	diffForecast := make([]float64, steps)
	for h := 0; h < steps; h++ {
		pred := 0.0
		for i := 1; i <= f.p; i++ {
			pred += f.phi[i-1] * wExt[len(wExt)-i]
		}
		for j := 1; j <= f.q; j++ {
			pred += f.theta[j-1] * eExt[len(eExt)-j]
		}
		diffForecast[h] = pred
		wExt = append(wExt, pred)
		eExt = append(eExt, 0)
	}

	out := make([]float64, steps)
	if f.d == 0 {
		copy(out, diffForecast)
	} else {
		level := des[len(des)-1]
		for h := 0; h < steps; h++ {
			level += diffForecast[h]
			out[h] = level
		}
	}

	psi := f.psiWeights(steps)
	if f.d == 1 {
		running := 0.0
		for j := range psi {
			running += psi[j]
			psi[j] = running
		}
	}
	stderr := make([]float64, steps)
	acc := 0.0
	for h := 0; h < steps; h++ {
		acc += psi[h] * psi[h]
		stderr[h] = math.Sqrt(f.sigma2 * acc)
	}
	return out, stderr
}

func (f *armaFit) psiWeights(count int) []float64 {
	psi := make([]float64, count)
	if count == 0 {
		return psi
	}
	psi[0] = 1
	for j := 1; j < count; j++ {
		v := 0.0
		if j <= f.q {
			v += f.theta[j-1]
		}
		for i := 1; i <= f.p && i <= j; i++ {
			v += f.phi[i-1] * psi[j-i]
		}
		psi[j] = v
	}
	return psi
}

func difference(values []float64, order int) []float64 {
	out := append([]float64(nil), values...)
	for d := 0; d < order; d++ {
		next := make([]float64, len(out)-1)
		for i := 1; i < len(out); i++ {
			next[i-1] = out[i] - out[i-1]
		}
		out = next
	}
	return out
}

// weekdayIndices returns centred per-weekday means of the detrended series.
func weekdayIndices(detr []float64) []float64 {
	sums := make([]float64, seasonalPeriod)
	counts := make([]float64, seasonalPeriod)
	for i, v := range detr {
		sums[i%seasonalPeriod] += v
		counts[i%seasonalPeriod]++
	}
	indices := make([]float64, seasonalPeriod)
	mean := 0.0
	for i := range indices {
		if counts[i] > 0 {
			indices[i] = sums[i] / counts[i]
		}
		mean += indices[i]
	}
	mean /= seasonalPeriod
	for i := range indices {
		indices[i] -= mean
	}
	return indices
}
