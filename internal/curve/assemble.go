package curve

import (
	"math"
	"time"

	"github.com/fancool/perfcurve/internal/pchip"
)

// TimeFormat is the layout of Meta.CreatedAt.
const TimeFormat = "2006-01-02T15:04:05Z"

// CollectPairs returns the index-aligned pairs of xs and ys where both
// readings are present and finite.
func CollectPairs(xs, ys Series) ([]float64, []float64) {
	n := min(len(xs), len(ys))
	outX := make([]float64, 0, n)
	outY := make([]float64, 0, n)
	for i := range n {
		x, y := xs[i], ys[i]
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		outX = append(outX, x)
		outY = append(outY, y)
	}
	return outX, outY
}

// Pairs returns the (x, y) source data of a direction.
func (s Samples) Pairs(d Direction) ([]float64, []float64) {
	switch d {
	case RPMToAirflow:
		return CollectPairs(s.RPM, s.Airflow)
	case RPMToNoise:
		return CollectPairs(s.RPM, s.Noise)
	case NoiseToRPM:
		return CollectPairs(s.Noise, s.RPM)
	case NoiseToAirflow:
		return CollectPairs(s.Noise, s.Airflow)
	}
	return nil, nil
}

// BuildSet fits every direction independently. A direction without usable
// pairs is left nil.
func BuildSet(s Samples, p Params) Set {
	var set Set
	for _, d := range Directions {
		xs, ys := s.Pairs(d)
		if len(xs) == 0 {
			continue
		}
		set.set(d, pchip.Build(xs, ys, p.Options(d.Axis())))
	}
	return set
}

// Assemble builds the unified model of one (model, condition) pair.
// supportsAudio is recorded as given.
func Assemble(modelID, conditionID int64, s Samples, p Params, supportsAudio bool, now time.Time) *Model {
	return &Model{
		Type:          ModelType,
		ModelID:       modelID,
		ConditionID:   conditionID,
		PCHIP:         BuildSet(s, p),
		SupportsAudio: supportsAudio,
		Meta: Meta{
			DataHash:    RawTriplesHash(s.RPM, s.Airflow, s.Noise),
			EnvKey:      p.EnvKey(),
			CodeVersion: p.CodeVersion,
			CreatedAt:   now.UTC().Format(TimeFormat),
		},
	}
}
