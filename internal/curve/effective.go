package curve

import (
	"math"

	"github.com/fancool/perfcurve/internal/pchip"
)

// Source tells whether an effective value came from a measurement or from
// the fitted curve.
type Source string

const (
	SourceRaw Source = "raw"
	SourceFit Source = "fit"
)

// noiseTolerance is how close (dB) a raw noise reading must be to a limit to
// be used directly.
const noiseTolerance = 0.05

// Effective is the airflow a fan delivers under a speed or noise limit.
type Effective struct {
	X       float64 `json:"effective_x"`
	Airflow float64 `json:"effective_airflow"`
	Source  Source  `json:"effective_source"`
	Axis    Axis    `json:"effective_axis"`
}

// EffectiveAirflow returns the airflow at limit on the given axis. Raw
// measurements win whenever one applies; the fitted *_to_airflow curve is
// used inside the measured domain otherwise. A nil limit selects the highest
// measured airflow. The result is false when there are no usable
// measurements or the limit lies below the measured domain.
func EffectiveAirflow(s Samples, set *Set, axis Axis, limit *float64) (Effective, bool) {
	src, dir := s.RPM, RPMToAirflow
	if axis == AxisNoise {
		src, dir = s.Noise, NoiseToAirflow
	}

	xs, ys := CollectPairs(src, s.Airflow)
	if len(xs) == 0 {
		return Effective{}, false
	}
	raw := func(i int) (Effective, bool) {
		return Effective{X: xs[i], Airflow: ys[i], Source: SourceRaw, Axis: axis}, true
	}

	if limit == nil {
		return raw(argmax(ys, nil))
	}

	xMin, xMax := xs[0], xs[0]
	for _, x := range xs[1:] {
		xMin = math.Min(xMin, x)
		xMax = math.Max(xMax, x)
	}

	lv := *limit
	if lv < xMin-1e-9 {
		return Effective{}, false
	}
	if lv >= xMax-1e-9 {
		return raw(argmax(ys, func(i int) bool { return math.Abs(xs[i]-xMax) < 1e-9 }))
	}

	for i, x := range xs {
		if (axis != AxisNoise && x == lv) || (axis == AxisNoise && math.Abs(x-lv) <= noiseTolerance) {
			return raw(i)
		}
	}

	var fit *pchip.Model
	if set != nil {
		fit = set.Get(dir)
	}
	if fit.Knots() == 0 {
		nearest := 0
		for i, x := range xs {
			if math.Abs(x-lv) < math.Abs(xs[nearest]-lv) {
				nearest = i
			}
		}
		return raw(nearest)
	}

	lx := math.Max(fit.X0, math.Min(lv, fit.X1))
	return Effective{X: lx, Airflow: fit.Eval(lx), Source: SourceFit, Axis: axis}, true
}

// argmax returns the first index of the largest value among the indices
// accepted by keep (all when keep is nil).
func argmax(vals []float64, keep func(int) bool) int {
	best := -1
	for i, v := range vals {
		if keep != nil && !keep(i) {
			continue
		}
		if best < 0 || v > vals[best] {
			best = i
		}
	}
	return max(best, 0)
}
