package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/fancool/perfcurve/internal/cache"
	"github.com/fancool/perfcurve/internal/curve"
	"github.com/fancool/perfcurve/internal/pchip"
)

// Minimums applied to the admission settings.
const (
	MinAdmitHits  = 1
	MinHitsWindow = 512
)

var (
	// ErrInvalidSetting is returned when a setting holds an unusable value
	ErrInvalidSetting = errors.New("invalid setting")
)

// Settings contains every option of the curve builder and its cache.
type Settings struct {
	Curve CurveSettings `yaml:"curve"`
	Cache CacheSettings `yaml:"cache"`
}

// CurveSettings shape the fitted curves. Changing any of them changes the
// environment key and invalidates stored models.
type CurveSettings struct {
	AlphaRPM   float64 `yaml:"alpha_rpm" env:"CURVE_SMOOTH_ALPHA_RPM" envDefault:"0"`
	AlphaNoise float64 `yaml:"alpha_noise" env:"CURVE_SMOOTH_ALPHA_NOISE" envDefault:"0"`
	TauRPM     float64 `yaml:"tau_rpm" env:"CURVE_TENSION_TAU_RPM" envDefault:"0"`
	TauNoise   float64 `yaml:"tau_noise" env:"CURVE_TENSION_TAU_NOISE" envDefault:"0"`

	MonotoneRPM   Flag `yaml:"monotone_rpm" env:"CURVE_MONOTONE_ENABLE_RPM" envDefault:"1"`
	MonotoneNoise Flag `yaml:"monotone_noise" env:"CURVE_MONOTONE_ENABLE_NOISE" envDefault:"1"`
	NodeLockRPM   Flag `yaml:"node_lock_rpm" env:"CURVE_NODE_LOCK_RPM" envDefault:"0"`
	NodeLockNoise Flag `yaml:"node_lock_noise" env:"CURVE_NODE_LOCK_NOISE" envDefault:"0"`

	CodeVersion string `yaml:"code_version" env:"CODE_VERSION"`
}

// CacheSettings size the cache. They are read once at startup.
type CacheSettings struct {
	Dir           string `yaml:"dir" env:"CURVE_CACHE_DIR" envDefault:"./curve_cache"`
	MemoryEnabled Flag   `yaml:"memory_enabled" env:"CURVE_CACHE_INMEM_ENABLE" envDefault:"1"`
	MaxModels     int    `yaml:"max_models" env:"CURVE_CACHE_INMEM_MAX_MODELS" envDefault:"2000"`
	MaxPoints     int    `yaml:"max_points" env:"CURVE_CACHE_INMEM_MAX_POINTS" envDefault:"200000"`
	AdmitHits     int    `yaml:"admit_hits" env:"CURVE_CACHE_INMEM_ADMIT_HITS" envDefault:"2"`
	HitsWindow    int    `yaml:"hits_window" env:"CURVE_CACHE_INMEM_HITS_WINDOW" envDefault:"4096"`
}

// Validate checks that the curve settings are usable.
func (c CurveSettings) Validate() error {
	for name, v := range map[string]float64{
		"alpha_rpm":   c.AlphaRPM,
		"alpha_noise": c.AlphaNoise,
		"tau_rpm":     c.TauRPM,
		"tau_noise":   c.TauNoise,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidSetting, name)
		}
	}
	return nil
}

// normalize applies the capacity floors.
func (c *CacheSettings) normalize() {
	c.MaxModels = max(0, c.MaxModels)
	c.MaxPoints = max(0, c.MaxPoints)
	c.AdmitHits = max(MinAdmitHits, c.AdmitHits)
	c.HitsWindow = max(MinHitsWindow, c.HitsWindow)
}

// Params converts the curve settings into build parameters. Alpha and tau
// are clamped into [0,1] by the builder.
func (c CurveSettings) Params() curve.Params {
	return curve.Params{
		RPM: pchip.Options{
			Alpha:    c.AlphaRPM,
			Tau:      c.TauRPM,
			Monotone: bool(c.MonotoneRPM),
			NodeLock: bool(c.NodeLockRPM),
		},
		Noise: pchip.Options{
			Alpha:    c.AlphaNoise,
			Tau:      c.TauNoise,
			Monotone: bool(c.MonotoneNoise),
			NodeLock: bool(c.NodeLockNoise),
		},
		CodeVersion: c.CodeVersion,
	}
}

// CacheConfig converts the cache settings into a cache configuration.
func (c CacheSettings) CacheConfig() cache.Config {
	return cache.Config{
		Dir:           c.Dir,
		MemoryEnabled: bool(c.MemoryEnabled),
		MaxEntries:    c.MaxModels,
		MaxWeight:     c.MaxPoints,
		AdmitHits:     c.AdmitHits,
		HitsWindow:    c.HitsWindow,
	}
}
