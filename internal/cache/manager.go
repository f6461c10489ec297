package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/fancool/perfcurve/internal/curve"
)

// ParamsSource supplies the build parameters in effect for a lookup. A
// reloadable configuration swaps the returned snapshot atomically.
type ParamsSource interface {
	Params() curve.Params
}

// StaticParams is a ParamsSource that never changes.
type StaticParams curve.Params

// Params implements ParamsSource.
func (p StaticParams) Params() curve.Params {
	return curve.Params(p)
}

// AudioProbe answers whether a pair has a companion artifact usable for
// sweep audio. It must report failures as false.
type AudioProbe interface {
	SupportsAudio(modelID, conditionID int64) bool
}

type noAudio struct{}

func (noAudio) SupportsAudio(int64, int64) bool { return false }

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for cache decisions.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithAudioProbe sets the collaborator consulted for the supports_audio flag.
func WithAudioProbe(p AudioProbe) Option {
	return func(m *Manager) { m.probe = p }
}

// WithClock sets the time source for model creation stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager resolves unified models through the memory tier, then the disk
// tier, and rebuilds them from samples when neither holds a model matching
// the current data hash and environment key.
type Manager struct {
	config Config
	params ParamsSource
	probe  AudioProbe

	memory  *MemoryCache
	disk    *DiskStore
	admit   *admission
	metrics *metrics

	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	stats struct {
		MemoryHits int64
		DiskHits   int64
		Stale      int64
		Corrupt    int64
		Builds     int64
		Failures   int64
		Admissions int64
	}
}

// ManagerStats aggregates statistics from all cache levels.
type ManagerStats struct {
	Memory     CacheStats
	MemoryHits int64
	DiskHits   int64
	Stale      int64
	Corrupt    int64
	Builds     int64
	Failures   int64
	Admissions int64
	Tracked    int
}

// NewManager creates a manager with fixed capacities. A nil params source
// uses the default parameters.
func NewManager(config Config, params ParamsSource, opts ...Option) *Manager {
	if params == nil {
		params = StaticParams(curve.DefaultParams())
	}
	if config.AdmitHits < 1 {
		config.AdmitHits = 1
	}
	if config.HitsWindow < 1 {
		config.HitsWindow = DefaultConfig().HitsWindow
	}

	var memory *MemoryCache
	if config.MemoryEnabled {
		memory = NewMemoryCache(config.MaxEntries, config.MaxWeight)
	} else {
		memory = NewMemoryCache(0, 0)
	}

	m := &Manager{
		config: config,
		params: params,
		probe:  noAudio{},
		memory: memory,
		disk:   NewDiskStore(config.Dir),
		admit:  newAdmission(config.AdmitHits, config.HitsWindow, config.MemoryEnabled),
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.metrics = newMetrics(memory)
	memory.onEvict = func(key string) {
		m.metrics.evictions.Inc()
		m.logger.Debug("evicted model from memory", "key", key)
	}

	return m
}

// Disk returns the disk tier.
func (m *Manager) Disk() *DiskStore {
	return m.disk
}

// Memory returns the memory tier.
func (m *Manager) Memory() *MemoryCache {
	return m.memory
}

// Registry returns the Prometheus registry holding the cache collectors.
func (m *Manager) Registry() *prometheus.Registry {
	return m.metrics.registry
}

// memoryKey forms the in-memory key of a lookup.
func memoryKey(modelID, conditionID int64, dataHash, envKey string) string {
	return fmt.Sprintf("%d|%d|perf|%s|%s", modelID, conditionID, dataHash, envKey)
}

// GetOrBuild returns the unified model of a pair for the given samples.
// Disk read problems and stale files lead to a rebuild; only a failure to
// persist the rebuilt model is returned as an error.
func (m *Manager) GetOrBuild(modelID, conditionID int64, samples curve.Samples) (*curve.Model, error) {
	model, _, err := m.Resolve(modelID, conditionID, samples)
	return model, err
}

// Resolve is GetOrBuild that also reports which tier produced the model.
func (m *Manager) Resolve(modelID, conditionID int64, samples curve.Samples) (*curve.Model, CacheLevel, error) {
	params := m.params.Params()
	dataHash := curve.RawTriplesHash(samples.RPM, samples.Airflow, samples.Noise)
	envKey := params.EnvKey()
	key := memoryKey(modelID, conditionID, dataHash, envKey)

	// L1
	if model, ok := m.memory.Get(key); ok {
		m.admit.note(key)
		m.record(resultMemory)
		return model, CacheLevelL1, nil
	}

	// L2
	loaded := m.disk.Load(modelID, conditionID)
	switch loaded.Status {
	case StatusValid:
		if loaded.Model.Matches(dataHash, envKey) {
			model := loaded.Model
			if !loaded.AudioFlagPresent {
				model = model.WithSupportsAudio(m.probe.SupportsAudio(modelID, conditionID))
			}
			m.record(resultDisk)
			m.offer(key, model)
			return model, CacheLevelL2, nil
		}
		m.record(resultStale)
		m.logger.Debug("stored model is stale",
			"model", modelID, "condition", conditionID,
			"stored_hash", loaded.Model.Meta.DataHash, "hash", dataHash)
	case StatusMalformed:
		m.record(resultCorrupt)
		m.logger.Warn("discarding unreadable model file",
			"path", m.disk.Path(modelID, conditionID), "err", loaded.Err)
	default:
		m.record(resultCold)
	}

	// Rebuild
	model, err := m.build(modelID, conditionID, samples, params)
	if err != nil {
		return nil, CacheLevelBuild, err
	}
	m.offer(key, model)
	return model, CacheLevelBuild, nil
}

func (m *Manager) build(modelID, conditionID int64, samples curve.Samples, params curve.Params) (*curve.Model, error) {
	start := time.Now()

	supportsAudio := m.probe.SupportsAudio(modelID, conditionID)
	model := curve.Assemble(modelID, conditionID, samples, params, supportsAudio, m.now())

	path, err := m.disk.Save(model)
	if err != nil {
		m.mu.Lock()
		m.stats.Failures++
		m.mu.Unlock()
		m.metrics.buildFailures.Inc()
		m.logger.Error("failed to persist model", "model", modelID, "condition", conditionID, "err", err)
		return nil, fmt.Errorf("%w %d/%d: %w", ErrPersist, modelID, conditionID, err)
	}

	elapsed := time.Since(start)
	m.mu.Lock()
	m.stats.Builds++
	m.mu.Unlock()
	m.metrics.builds.Inc()
	m.metrics.buildSeconds.Observe(elapsed.Seconds())
	m.logger.Debug("built model",
		"model", modelID, "condition", conditionID,
		"knots", model.PCHIP.Knots(), "path", path, "took", elapsed)

	return model, nil
}

// offer records an admission hit and inserts the model into memory once the
// key has been seen often enough.
func (m *Manager) offer(key string, model *curve.Model) {
	if !m.admit.admit(m.admit.note(key)) {
		return
	}
	m.memory.Put(key, model)
	m.mu.Lock()
	m.stats.Admissions++
	m.mu.Unlock()
	m.metrics.admissions.Inc()
}

func (m *Manager) record(result string) {
	m.metrics.lookups.WithLabelValues(result).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	switch result {
	case resultMemory:
		m.stats.MemoryHits++
	case resultDisk:
		m.stats.DiskHits++
	case resultStale:
		m.stats.Stale++
	case resultCorrupt:
		m.stats.Corrupt++
	}
}

// Lookup reads the stored model of a pair without validating it against
// samples. It returns ErrCacheMiss when nothing is stored and wraps
// ErrCacheCorrupted when the file is unusable.
func (m *Manager) Lookup(modelID, conditionID int64) (*curve.Model, error) {
	loaded := m.disk.Load(modelID, conditionID)
	switch loaded.Status {
	case StatusAbsent:
		return nil, ErrCacheMiss
	case StatusMalformed:
		if errors.Is(loaded.Err, ErrCacheCorrupted) {
			return nil, loaded.Err
		}
		return nil, fmt.Errorf("%w: %w", ErrCacheCorrupted, loaded.Err)
	}

	model := loaded.Model
	if !loaded.AudioFlagPresent {
		model = model.WithSupportsAudio(m.probe.SupportsAudio(modelID, conditionID))
	}
	return model, nil
}

// Invalidate drops a pair from both tiers.
func (m *Manager) Invalidate(modelID, conditionID int64) error {
	prefix := fmt.Sprintf("%d|%d|perf|", modelID, conditionID)
	for _, key := range m.memory.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.memory.Delete(key)
		}
	}
	return m.disk.Delete(modelID, conditionID)
}

// Stats returns aggregated statistics from all cache levels.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	s := ManagerStats{
		MemoryHits: m.stats.MemoryHits,
		DiskHits:   m.stats.DiskHits,
		Stale:      m.stats.Stale,
		Corrupt:    m.stats.Corrupt,
		Builds:     m.stats.Builds,
		Failures:   m.stats.Failures,
		Admissions: m.stats.Admissions,
	}
	m.mu.Unlock()

	s.Memory = m.memory.Stats()
	s.Tracked = m.admit.tracked()
	return s
}

// Request is one pair to resolve in a batch.
type Request struct {
	ModelID     int64
	ConditionID int64
	Samples     curve.Samples
}

// Result is the outcome of one batch request.
type Result struct {
	Request
	Model *curve.Model
	Level CacheLevel
	Err   error
}

// BuildMany resolves requests with at most limit lookups in flight. Per
// request failures are reported in the results; the returned error is only
// set when ctx ends before every request started.
func (m *Manager) BuildMany(ctx context.Context, reqs []Request, limit int) ([]Result, error) {
	results := make([]Result, len(reqs))
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, req := range reqs {
		results[i].Request = req
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			model, level, err := m.Resolve(req.ModelID, req.ConditionID, req.Samples)
			results[i].Model = model
			results[i].Level = level
			results[i].Err = err
			return nil
		})
	}

	_ = g.Wait()
	return results, ctx.Err()
}
