package pchip

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidModel is returned by Validate for a structurally unusable model.
var ErrInvalidModel = errors.New("invalid pchip model")

// mergeTolerance is the distance under which two x values are treated as the
// same knot.
const mergeTolerance = 1e-9

// Options holds the per-axis shape parameters of a build.
type Options struct {
	Alpha    float64 // Weight of the linear trend blended into the knots, in [0,1]
	Tau      float64 // Tension applied to the tangents, in [0,1]
	Monotone bool    // Project y onto a non-decreasing sequence
	NodeLock bool    // Interpolate the raw points exactly, skipping all smoothing
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Monotone: true}
}

// EffectiveAlpha returns Alpha clamped into [0,1].
func (o Options) EffectiveAlpha() float64 {
	return clamp01(o.Alpha)
}

// EffectiveTau returns Tau clamped into [0,1].
func (o Options) EffectiveTau() float64 {
	return clamp01(o.Tau)
}

// Model is a built interpolant: knots, values and tangents plus the domain.
type Model struct {
	X  []float64 `json:"x"`
	Y  []float64 `json:"y"`
	M  []float64 `json:"m"`
	X0 float64   `json:"x0"`
	X1 float64   `json:"x1"`
}

// Knots returns the number of knots in the model.
func (m *Model) Knots() int {
	if m == nil {
		return 0
	}
	return len(m.X)
}

// Validate checks that a decoded model can be evaluated: equal non-empty
// knot, value and tangent slices, finite entries, strictly increasing knots
// and a domain spanning the first to the last knot. A nil model is valid.
func (m *Model) Validate() error {
	if m == nil {
		return nil
	}
	n := len(m.X)
	if n == 0 || len(m.Y) != n || len(m.M) != n {
		return fmt.Errorf("%w: %d knots, %d values, %d tangents", ErrInvalidModel, n, len(m.Y), len(m.M))
	}
	for i := range n {
		if !isFinite(m.X[i]) || !isFinite(m.Y[i]) || !isFinite(m.M[i]) {
			return fmt.Errorf("%w: non-finite entry at knot %d", ErrInvalidModel, i)
		}
		if i > 0 && m.X[i] <= m.X[i-1] {
			return fmt.Errorf("%w: knots not increasing at %d", ErrInvalidModel, i)
		}
	}
	if m.X0 != m.X[0] || m.X1 != m.X[n-1] {
		return fmt.Errorf("%w: domain [%g, %g] does not match knots", ErrInvalidModel, m.X0, m.X1)
	}
	return nil
}

// Domain returns the interval the model is defined on.
func (m *Model) Domain() (lo, hi float64) {
	if m == nil {
		return math.NaN(), math.NaN()
	}
	return m.X0, m.X1
}

// Eval evaluates the model at x. See Evaluate.
func (m *Model) Eval(x float64) float64 {
	return Evaluate(m, x)
}

type point struct {
	x, y float64
}

// Build fits an interpolant through the (xs, ys) pairs. Pairs with a
// non-finite coordinate are dropped; nil is returned when none remain.
func Build(xs, ys []float64, opts Options) *Model {
	pairs := make([]point, 0, min(len(xs), len(ys)))
	for i := 0; i < len(xs) && i < len(ys); i++ {
		if isFinite(xs[i]) && isFinite(ys[i]) {
			pairs = append(pairs, point{xs[i], ys[i]})
		}
	}
	if len(pairs) == 0 {
		return nil
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].x < pairs[j].x })

	kx := make([]float64, 0, len(pairs))
	ky := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		if n := len(kx); n > 0 && math.Abs(p.x-kx[n-1]) < mergeTolerance {
			// Running average with the knot already emitted
			ky[n-1] = (ky[n-1] + p.y) / 2
			continue
		}
		kx = append(kx, p.x)
		ky = append(ky, p.y)
	}

	if len(kx) == 1 {
		return &Model{X: kx, Y: ky, M: []float64{0}, X0: kx[0], X1: kx[0]}
	}

	if opts.NodeLock {
		m := Slopes(kx, ky, opts.Monotone)
		return &Model{X: kx, Y: ky, M: m, X0: kx[0], X1: kx[len(kx)-1]}
	}

	target := ky
	if opts.Monotone {
		target = Isotonic(ky)
	}
	target = blendWithTrend(kx, target, opts.EffectiveAlpha())
	if !allFinite(target) {
		// Pooling or the trend overflowed; keep the raw knot values
		target = ky
	}

	m := Slopes(kx, target, opts.Monotone)
	if tau := opts.EffectiveTau(); tau > 1e-9 {
		for i := range m {
			m[i] *= 1 - tau
		}
	}

	return &Model{X: kx, Y: target, M: m, X0: kx[0], X1: kx[len(kx)-1]}
}

// blendWithTrend pulls every value towards the least-squares line through
// the series by alpha.
func blendWithTrend(xs, ys []float64, alpha float64) []float64 {
	out := make([]float64, len(ys))
	copy(out, ys)
	if alpha <= 1e-9 {
		return out
	}

	a, b := LinearFit(xs, ys)
	for i, x := range xs {
		out[i] = (1-alpha)*ys[i] + alpha*(a+b*x)
	}
	return out
}

// LinearFit returns the intercept and slope of the ordinary least-squares
// line through the points. A degenerate system yields a flat line at the
// mean of ys.
func LinearFit(xs, ys []float64) (a, b float64) {
	n := float64(len(xs))
	if len(xs) == 0 {
		return 0, 0
	}

	var sx, sy, sxx, sxy float64
	for i, x := range xs {
		sx += x
		sy += ys[i]
		sxx += x * x
		sxy += x * ys[i]
	}

	denom := n*sxx - sx*sx
	if math.Abs(denom) < 1e-12 {
		return sy / n, 0
	}
	b = (n*sxy - sx*sy) / denom
	a = (sy - b*sx) / n
	return a, b
}

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
