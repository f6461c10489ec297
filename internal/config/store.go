package config

import (
	"sync/atomic"

	"github.com/fancool/perfcurve/internal/curve"
)

// Store holds the active settings snapshot. Reload swaps the curve shape
// parameters atomically; cache capacities and the code version keep the
// values read at startup.
type Store struct {
	loader  Loader
	current atomic.Pointer[Settings]
}

// NewStore loads the initial settings.
func NewStore(loader Loader) (*Store, error) {
	s, err := loader.Load()
	if err != nil {
		return nil, err
	}
	st := &Store{loader: loader}
	st.current.Store(&s)
	return st, nil
}

// Settings returns the active snapshot.
func (st *Store) Settings() Settings {
	return *st.current.Load()
}

// Params returns the build parameters of the active snapshot.
func (st *Store) Params() curve.Params {
	return st.current.Load().Curve.Params()
}

// File returns the config file the store reads, if any.
func (st *Store) File() string {
	return st.loader.File
}

// Reload re-reads smoothing, tension, monotonicity and node-lock settings.
// On error the active snapshot is left unchanged.
func (st *Store) Reload() (Settings, error) {
	fresh, err := st.loader.Load()
	if err != nil {
		return st.Settings(), err
	}

	next := *st.current.Load()
	next.Curve.AlphaRPM = fresh.Curve.AlphaRPM
	next.Curve.AlphaNoise = fresh.Curve.AlphaNoise
	next.Curve.TauRPM = fresh.Curve.TauRPM
	next.Curve.TauNoise = fresh.Curve.TauNoise
	next.Curve.MonotoneRPM = fresh.Curve.MonotoneRPM
	next.Curve.MonotoneNoise = fresh.Curve.MonotoneNoise
	next.Curve.NodeLockRPM = fresh.Curve.NodeLockRPM
	next.Curve.NodeLockNoise = fresh.Curve.NodeLockNoise
	st.current.Store(&next)
	return next, nil
}
