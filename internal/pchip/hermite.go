package pchip

import "math"

// maxTau2 bounds (m_i/d)^2 + (m_{i+1}/d)^2 on every interval.
const maxTau2 = 9.0

// Slopes computes Fritsch-Carlson tangents for the knots. When
// clampNegative is set, tangents that end up negative are forced to zero.
func Slopes(xs, ys []float64, clampNegative bool) []float64 {
	n := len(xs)
	m := make([]float64, n)
	if n < 2 {
		return m
	}

	// A secant that overflows is treated as flat
	delta := make([]float64, n-1)
	for i := range delta {
		if h := xs[i+1] - xs[i]; h != 0 {
			if d := (ys[i+1] - ys[i]) / h; isFinite(d) {
				delta[i] = d
			}
		}
	}

	m[0] = delta[0]
	m[n-1] = delta[n-2]
	for i := 1; i < n-1; i++ {
		if (delta[i-1] > 0 && delta[i] > 0) || (delta[i-1] < 0 && delta[i] < 0) {
			m[i] = delta[i-1]/2 + delta[i]/2
		}
	}

	for i, d := range delta {
		if d == 0 {
			m[i], m[i+1] = 0, 0
		} else {
			a := m[i] / d
			b := m[i+1] / d
			if s := a*a + b*b; s > maxTau2 {
				t := 3 / math.Sqrt(s)
				m[i] = t * a * d
				m[i+1] = t * b * d
			}
		}
		if clampNegative {
			m[i] = math.Max(m[i], 0)
			m[i+1] = math.Max(m[i+1], 0)
		}
	}
	for i := range m {
		if !isFinite(m[i]) {
			m[i] = 0
		}
	}
	return m
}

// Evaluate returns the interpolated value at x. x is clamped into the model
// domain. A nil, empty or inconsistent model yields NaN; a single knot yields
// its value.
func Evaluate(m *Model, x float64) float64 {
	if m == nil || len(m.X) == 0 || len(m.Y) != len(m.X) || len(m.M) != len(m.X) {
		return math.NaN()
	}
	xs, ys, ms := m.X, m.Y, m.M
	n := len(xs)
	if n == 1 {
		return ys[0]
	}

	if x <= xs[0] {
		x = xs[0]
	}
	if x >= xs[n-1] {
		x = xs[n-1]
	}

	i := interval(xs, x)
	h := xs[i+1] - xs[i]
	var t float64
	if h != 0 {
		t = (x - xs[i]) / h
	}
	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return h00*ys[i] + h10*h*ms[i] + h01*ys[i+1] + h11*h*ms[i+1]
}

// interval finds i with xs[i] <= x <= xs[i+1] by binary search.
func interval(xs []float64, x float64) int {
	lo, hi := 0, len(xs)-2
	for lo <= hi {
		mid := (lo + hi) / 2
		if xs[mid] <= x && x <= xs[mid+1] {
			return mid
		}
		if x < xs[mid] {
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return max(0, min(len(xs)-2, lo))
}
