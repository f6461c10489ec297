package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Loader reads settings from the environment and an optional YAML file.
// A variable that is set in the environment always wins over the file; the
// file wins over the built-in defaults.
type Loader struct {
	// File is the YAML config file. Empty means environment only.
	File string

	// Environ overrides the process environment when non-nil.
	Environ map[string]string
}

// Load reads the current settings.
func (l Loader) Load() (Settings, error) {
	opts := env.Options{}
	if l.Environ != nil {
		opts.Environment = l.Environ
	}

	// Remember which variables were given explicitly so the file only fills
	// the others. OnSet also fires for unset fields without a default, so the
	// variable itself is looked up.
	explicit := make(map[string]bool)
	opts.OnSet = func(tag string, _ any, isDefault bool) {
		if !isDefault && l.lookup(tag) {
			explicit[tag] = true
		}
	}

	s, err := env.ParseAsWithOptions[Settings](opts)
	if err != nil {
		return s, fmt.Errorf("failed to parse environment: %w", err)
	}

	if l.File != "" {
		v := viper.New()
		v.SetConfigFile(l.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
				return s, fmt.Errorf("failed to read config file %s: %w", l.File, err)
			}
		} else {
			overlay(v, explicit, &s)
		}
	}

	if dir, err := homedir.Expand(s.Cache.Dir); err == nil {
		s.Cache.Dir = dir
	}
	s.Cache.normalize()

	if err := s.Curve.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// lookup reports whether the variable is present in the environment in use.
func (l Loader) lookup(name string) bool {
	if l.Environ != nil {
		_, ok := l.Environ[name]
		return ok
	}
	_, ok := os.LookupEnv(name)
	return ok
}

// overlay copies the file values whose variable was not set explicitly.
func overlay(v *viper.Viper, explicit map[string]bool, s *Settings) {
	fromFile := func(key, envName string) bool {
		return v.IsSet(key) && !explicit[envName]
	}

	// Curve settings
	if fromFile("curve.alpha_rpm", "CURVE_SMOOTH_ALPHA_RPM") {
		s.Curve.AlphaRPM = v.GetFloat64("curve.alpha_rpm")
	}
	if fromFile("curve.alpha_noise", "CURVE_SMOOTH_ALPHA_NOISE") {
		s.Curve.AlphaNoise = v.GetFloat64("curve.alpha_noise")
	}
	if fromFile("curve.tau_rpm", "CURVE_TENSION_TAU_RPM") {
		s.Curve.TauRPM = v.GetFloat64("curve.tau_rpm")
	}
	if fromFile("curve.tau_noise", "CURVE_TENSION_TAU_NOISE") {
		s.Curve.TauNoise = v.GetFloat64("curve.tau_noise")
	}
	if fromFile("curve.monotone_rpm", "CURVE_MONOTONE_ENABLE_RPM") {
		s.Curve.MonotoneRPM = ParseFlag(v.GetString("curve.monotone_rpm"))
	}
	if fromFile("curve.monotone_noise", "CURVE_MONOTONE_ENABLE_NOISE") {
		s.Curve.MonotoneNoise = ParseFlag(v.GetString("curve.monotone_noise"))
	}
	if fromFile("curve.node_lock_rpm", "CURVE_NODE_LOCK_RPM") {
		s.Curve.NodeLockRPM = ParseFlag(v.GetString("curve.node_lock_rpm"))
	}
	if fromFile("curve.node_lock_noise", "CURVE_NODE_LOCK_NOISE") {
		s.Curve.NodeLockNoise = ParseFlag(v.GetString("curve.node_lock_noise"))
	}
	if fromFile("curve.code_version", "CODE_VERSION") {
		s.Curve.CodeVersion = v.GetString("curve.code_version")
	}

	// Cache settings
	if fromFile("cache.dir", "CURVE_CACHE_DIR") {
		s.Cache.Dir = v.GetString("cache.dir")
	}
	if fromFile("cache.memory_enabled", "CURVE_CACHE_INMEM_ENABLE") {
		s.Cache.MemoryEnabled = ParseFlag(v.GetString("cache.memory_enabled"))
	}
	if fromFile("cache.max_models", "CURVE_CACHE_INMEM_MAX_MODELS") {
		s.Cache.MaxModels = v.GetInt("cache.max_models")
	}
	if fromFile("cache.max_points", "CURVE_CACHE_INMEM_MAX_POINTS") {
		s.Cache.MaxPoints = v.GetInt("cache.max_points")
	}
	if fromFile("cache.admit_hits", "CURVE_CACHE_INMEM_ADMIT_HITS") {
		s.Cache.AdmitHits = v.GetInt("cache.admit_hits")
	}
	if fromFile("cache.hits_window", "CURVE_CACHE_INMEM_HITS_WINDOW") {
		s.Cache.HitsWindow = v.GetInt("cache.hits_window")
	}
}
