package curve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/fancool/perfcurve/internal/pchip"
)

// ModelType discriminates unified performance models on disk.
const ModelType = "perf_pchip_v1"

// Axis is a source axis for a fitted direction.
type Axis string

const (
	AxisRPM   Axis = "rpm"
	AxisNoise Axis = "noise"
)

// Direction names one of the four fitted curves.
type Direction string

const (
	RPMToAirflow   Direction = "rpm_to_airflow"
	RPMToNoise     Direction = "rpm_to_noise"
	NoiseToRPM     Direction = "noise_to_rpm"
	NoiseToAirflow Direction = "noise_to_airflow"
)

// Directions lists every direction in storage order.
var Directions = []Direction{RPMToAirflow, RPMToNoise, NoiseToRPM, NoiseToAirflow}

// Axis returns the source axis of the direction, whose options drive its build.
func (d Direction) Axis() Axis {
	switch d {
	case NoiseToRPM, NoiseToAirflow:
		return AxisNoise
	default:
		return AxisRPM
	}
}

// Valid reports whether d is one of the four known directions.
func (d Direction) Valid() bool {
	switch d {
	case RPMToAirflow, RPMToNoise, NoiseToRPM, NoiseToAirflow:
		return true
	}
	return false
}

// Series is one measurement axis. NaN marks a missing reading; it is written
// to and read from JSON as null.
type Series []float64

// MarshalJSON encodes missing and non-finite readings as null.
func (s Series) MarshalJSON() ([]byte, error) {
	vals := make([]*float64, len(s))
	for i := range s {
		if !math.IsNaN(s[i]) && !math.IsInf(s[i], 0) {
			vals[i] = &s[i]
		}
	}
	return json.Marshal(vals)
}

// UnmarshalJSON decodes null entries as NaN.
func (s *Series) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var vals []*float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	out := make(Series, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	*s = out
	return nil
}

// Samples holds the three parallel measurement sequences of one
// (model, condition) pair, indexed by measurement order.
type Samples struct {
	RPM     Series `json:"rpm"`
	Airflow Series `json:"airflow"`
	Noise   Series `json:"noise"`
}

// Len returns the length of the longest series.
func (s Samples) Len() int {
	return max(len(s.RPM), len(s.Airflow), len(s.Noise))
}

// Params is the configuration snapshot that shapes a build.
type Params struct {
	RPM         pchip.Options
	Noise       pchip.Options
	CodeVersion string
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{RPM: pchip.DefaultOptions(), Noise: pchip.DefaultOptions()}
}

// Options returns the build options of the given source axis.
func (p Params) Options(axis Axis) pchip.Options {
	if axis == AxisNoise {
		return p.Noise
	}
	return p.RPM
}

// Set holds the four direction models. Any of them may be nil when the
// source data for that direction was empty.
type Set struct {
	RPMToAirflow   *pchip.Model `json:"rpm_to_airflow"`
	RPMToNoise     *pchip.Model `json:"rpm_to_noise"`
	NoiseToRPM     *pchip.Model `json:"noise_to_rpm"`
	NoiseToAirflow *pchip.Model `json:"noise_to_airflow"`
}

// Get returns the model for a direction, or nil.
func (s *Set) Get(d Direction) *pchip.Model {
	switch d {
	case RPMToAirflow:
		return s.RPMToAirflow
	case RPMToNoise:
		return s.RPMToNoise
	case NoiseToRPM:
		return s.NoiseToRPM
	case NoiseToAirflow:
		return s.NoiseToAirflow
	}
	return nil
}

func (s *Set) set(d Direction, m *pchip.Model) {
	switch d {
	case RPMToAirflow:
		s.RPMToAirflow = m
	case RPMToNoise:
		s.RPMToNoise = m
	case NoiseToRPM:
		s.NoiseToRPM = m
	case NoiseToAirflow:
		s.NoiseToAirflow = m
	}
}

// Knots returns the total knot count over all directions. The in-memory
// cache uses it as the entry weight.
func (s *Set) Knots() int {
	total := 0
	for _, d := range Directions {
		total += s.Get(d).Knots()
	}
	return total
}

// Validate checks every present direction model.
func (s *Set) Validate() error {
	for _, d := range Directions {
		if err := s.Get(d).Validate(); err != nil {
			return fmt.Errorf("%s: %w", d, err)
		}
	}
	return nil
}

// Meta records what a model was built from.
type Meta struct {
	DataHash    string `json:"data_hash"`
	EnvKey      string `json:"env_key"`
	CodeVersion string `json:"code_version"`
	CreatedAt   string `json:"created_at"`
}

// Model is the unified four-direction performance model of one
// (model, condition) pair. It is never mutated once built; use the With
// methods to derive a changed copy.
type Model struct {
	Type          string `json:"type"`
	ModelID       int64  `json:"model_id"`
	ConditionID   int64  `json:"condition_id"`
	PCHIP         Set    `json:"pchip"`
	SupportsAudio bool   `json:"supports_audio"`
	Meta          Meta   `json:"meta"`
}

// WithSupportsAudio returns a copy of m with the audio flag set. The axis
// models are shared with m.
func (m *Model) WithSupportsAudio(v bool) *Model {
	cp := *m
	cp.SupportsAudio = v
	return &cp
}

// Matches reports whether m was built from data with the given hash under
// the given environment key.
func (m *Model) Matches(dataHash, envKey string) bool {
	return m != nil && m.Meta.DataHash == dataHash && m.Meta.EnvKey == envKey
}
