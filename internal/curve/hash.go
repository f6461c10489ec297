package curve

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const nullToken = "null"

// RawTriplesHash fingerprints the (rpm, airflow, noise) rows independently of
// their order. Rows are taken up to min(len(airflow), max(len(rpm),
// len(noise))); missing or non-finite readings are rendered as "null" and
// every value is canonicalised to six decimals.
func RawTriplesHash(rpm, airflow, noise Series) string {
	n := min(len(airflow), max(len(rpm), len(noise)))

	rows := make([][3]string, n)
	for i := range n {
		rows[i] = [3]string{canon(rpm, i), canon(airflow, i), canon(noise, i)}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})

	parts := make([]string, n)
	for i, r := range rows {
		parts[i] = r[0] + "|" + r[1] + "|" + r[2]
	}
	return digest(strings.Join(parts, ";"))
}

// RawPointsHash fingerprints (x, y) pairs independently of their order.
func RawPointsHash(xs, ys []float64) string {
	n := min(len(xs), len(ys))
	pairs := make([][2]float64, n)
	for i := range n {
		pairs[i] = [2]float64{xs[i], ys[i]}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	parts := make([]string, n)
	for i, p := range pairs {
		parts[i] = format6(p[0]) + "|" + format6(p[1])
	}
	return digest(strings.Join(parts, ";"))
}

// EnvKey serialises every parameter that affects curve shape. Any change in
// the result invalidates cached models.
func (p Params) EnvKey() string {
	return strings.Join([]string{
		fmt.Sprintf("alpha_rpm=%.6f", p.RPM.EffectiveAlpha()),
		fmt.Sprintf("alpha_noise=%.6f", p.Noise.EffectiveAlpha()),
		fmt.Sprintf("tau_rpm=%.6f", p.RPM.EffectiveTau()),
		fmt.Sprintf("tau_noise=%.6f", p.Noise.EffectiveTau()),
		"mono_rpm=" + flag(p.RPM.Monotone),
		"mono_noise=" + flag(p.Noise.Monotone),
		"lock_rpm=" + flag(p.RPM.NodeLock),
		"lock_noise=" + flag(p.Noise.NodeLock),
		"code=" + p.CodeVersion,
	}, "|")
}

func canon(s Series, i int) string {
	if i >= len(s) {
		return nullToken
	}
	v := s[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nullToken
	}
	return format6(v)
}

func format6(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func digest(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
