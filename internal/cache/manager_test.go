package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fancool/perfcurve/internal/curve"
)

type probeFunc func(modelID, conditionID int64) bool

func (f probeFunc) SupportsAudio(modelID, conditionID int64) bool { return f(modelID, conditionID) }

// mutableParams lets a test change parameters between lookups.
type mutableParams struct {
	mu sync.Mutex
	p  curve.Params
}

func (m *mutableParams) Params() curve.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p
}

func (m *mutableParams) set(fn func(*curve.Params)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.p)
}

func testSamples() curve.Samples {
	return curve.Samples{
		RPM:     curve.Series{1000, 2000, 3000},
		Airflow: curve.Series{50, 80, 95},
		Noise:   curve.Series{30, 40, 55},
	}
}

func newTestManager(t *testing.T, mutate func(*Config), params ParamsSource, opts ...Option) *Manager {
	t.Helper()
	config := DefaultConfig()
	config.Dir = t.TempDir()
	if mutate != nil {
		mutate(&config)
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{
		WithLogger(log.New(os.Stderr)),
		WithClock(func() time.Time { return fixed }),
	}, opts...)
	return NewManager(config, params, opts...)
}

func TestManager_ColdBuildPersists(t *testing.T) {
	m := newTestManager(t, nil, nil)

	model, err := m.GetOrBuild(7, 3, testSamples())
	if err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	if model.Type != curve.ModelType || model.ModelID != 7 || model.ConditionID != 3 {
		t.Errorf("Unexpected envelope: %+v", model)
	}
	for _, d := range curve.Directions {
		if model.PCHIP.Get(d) == nil {
			t.Errorf("Direction %s missing", d)
		}
	}
	if model.Meta.CreatedAt != "2024-05-01T12:00:00Z" {
		t.Errorf("CreatedAt mismatch: %s", model.Meta.CreatedAt)
	}

	loaded := m.Disk().Load(7, 3)
	if loaded.Status != StatusValid {
		t.Fatalf("Disk status: got %s, want valid (%v)", loaded.Status, loaded.Err)
	}
	if !loaded.AudioFlagPresent {
		t.Error("supports_audio should be written")
	}
	if loaded.Model.Meta != model.Meta {
		t.Errorf("Disk meta mismatch: got %+v, want %+v", loaded.Model.Meta, model.Meta)
	}

	// Temp files must not be left behind
	files, _ := filepath.Glob(filepath.Join(m.Disk().Dir(), "*"))
	if len(files) != 1 {
		t.Errorf("Expected exactly one file in cache dir, got %v", files)
	}
}

func TestManager_IdempotentHit(t *testing.T) {
	m := newTestManager(t, nil, nil)
	path := m.Disk().Path(1, 1)

	first, err := m.GetOrBuild(1, 1, testSamples())
	if err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	second, err := m.GetOrBuild(1, 1, testSamples())
	if err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if !bytes.Equal(before, after) {
		t.Error("Disk file changed on a cache hit")
	}
	if first.Meta.DataHash != second.Meta.DataHash || first.Meta.EnvKey != second.Meta.EnvKey {
		t.Error("Metadata differs between identical lookups")
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("Models differ:\n%s\n%s", a, b)
	}
	if stats := m.Stats(); stats.Builds != 1 || stats.DiskHits != 1 {
		t.Errorf("Expected one build and one disk hit, got %+v", stats)
	}
}

func TestManager_AdmissionPromotesToMemory(t *testing.T) {
	m := newTestManager(t, nil, nil)

	if _, err := m.GetOrBuild(1, 1, testSamples()); err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	if m.Memory().Len() != 0 {
		t.Fatal("A single hit should not be admitted")
	}

	if _, err := m.GetOrBuild(1, 1, testSamples()); err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	if m.Memory().Len() != 1 {
		t.Fatal("Second hit should admit the model")
	}

	if _, err := m.GetOrBuild(1, 1, testSamples()); err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	stats := m.Stats()
	if stats.MemoryHits != 1 || stats.DiskHits != 1 || stats.Builds != 1 {
		t.Errorf("Unexpected tier counts: %+v", stats)
	}
	if stats.Admissions != 1 {
		t.Errorf("Admissions mismatch: got %d, want 1", stats.Admissions)
	}
}

func TestManager_MemoryDisabled(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.MemoryEnabled = false }, nil)

	for range 3 {
		if _, err := m.GetOrBuild(1, 1, testSamples()); err != nil {
			t.Fatalf("GetOrBuild failed: %v", err)
		}
	}
	if m.Memory().Len() != 0 {
		t.Error("Memory tier should stay empty when disabled")
	}
	if stats := m.Stats(); stats.DiskHits != 2 || stats.Tracked != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestManager_InvalidatesOnDataChange(t *testing.T) {
	m := newTestManager(t, nil, nil)

	old, err := m.GetOrBuild(1, 1, testSamples())
	if err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}

	changed := testSamples()
	changed.Airflow[1] = 82
	fresh, err := m.GetOrBuild(1, 1, changed)
	if err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}

	if old.Meta.DataHash == fresh.Meta.DataHash {
		t.Error("Data hash should change with the samples")
	}
	if old.PCHIP.RPMToAirflow.Eval(2000) == fresh.PCHIP.RPMToAirflow.Eval(2000) {
		t.Error("Rebuilt model should reflect the new sample")
	}
	if stats := m.Stats(); stats.Builds != 2 || stats.Stale != 1 {
		t.Errorf("Expected a stale rebuild, got %+v", stats)
	}
}

func TestManager_InvalidatesOnConfigChange(t *testing.T) {
	tests := []struct {
		name   string
		change func(*curve.Params)
	}{
		{"alpha", func(p *curve.Params) { p.RPM.Alpha = 0.5 }},
		{"tau", func(p *curve.Params) { p.Noise.Tau = 0.25 }},
		{"monotone", func(p *curve.Params) { p.RPM.Monotone = false }},
		{"node lock", func(p *curve.Params) { p.Noise.NodeLock = true }},
		{"code version", func(p *curve.Params) { p.CodeVersion = "v2" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := &mutableParams{p: curve.DefaultParams()}
			m := newTestManager(t, nil, params)

			old, err := m.GetOrBuild(1, 1, testSamples())
			if err != nil {
				t.Fatalf("GetOrBuild failed: %v", err)
			}
			params.set(tt.change)
			fresh, err := m.GetOrBuild(1, 1, testSamples())
			if err != nil {
				t.Fatalf("GetOrBuild failed: %v", err)
			}

			if old.Meta.EnvKey == fresh.Meta.EnvKey {
				t.Error("Env key should change")
			}
			if m.Stats().Builds != 2 {
				t.Errorf("Expected a rebuild, got %d builds", m.Stats().Builds)
			}
		})
	}
}

func TestManager_MalformedFileRebuilds(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", "{not json"},
		{"wrong type", `{"type":"spectrum_v2","pchip":{},"meta":{}}`},
		{"missing pchip", `{"type":"perf_pchip_v1","meta":{}}`},
		{"missing meta", `{"type":"perf_pchip_v1","pchip":{}}`},
		{"not an object", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, nil, nil)
			path := m.Disk().Path(4, 2)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			if got := m.Disk().Load(4, 2).Status; got != StatusMalformed {
				t.Fatalf("Status: got %s, want malformed", got)
			}

			model, err := m.GetOrBuild(4, 2, testSamples())
			if err != nil {
				t.Fatalf("GetOrBuild should rebuild, got %v", err)
			}
			if model == nil {
				t.Fatal("Expected a model")
			}
			if got := m.Disk().Load(4, 2).Status; got != StatusValid {
				t.Errorf("File should be repaired, status %s", got)
			}
			if m.Stats().Corrupt != 1 {
				t.Errorf("Corrupt mismatch: got %d, want 1", m.Stats().Corrupt)
			}
		})
	}
}

func TestManager_InconsistentCurveRebuilds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(fit map[string]any)
	}{
		{"truncated values", func(fit map[string]any) { fit["y"] = []float64{50} }},
		{"truncated tangents", func(fit map[string]any) { fit["m"] = []float64{} }},
		{"unsorted knots", func(fit map[string]any) { fit["x"] = []float64{3000, 2000, 1000} }},
		{"domain mismatch", func(fit map[string]any) { fit["x1"] = 9999 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, nil, nil)
			samples := testSamples()
			if _, err := m.GetOrBuild(7, 1, samples); err != nil {
				t.Fatalf("GetOrBuild failed: %v", err)
			}

			// Damage one direction and leave meta intact, so the file still
			// matches the data hash and environment key
			path := m.Disk().Path(7, 1)
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			var doc map[string]any
			if err := json.Unmarshal(data, &doc); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			tt.mutate(doc["pchip"].(map[string]any)["rpm_to_airflow"].(map[string]any))
			data, err = json.Marshal(doc)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			loaded := m.Disk().Load(7, 1)
			if loaded.Status != StatusMalformed {
				t.Fatalf("Status: got %s, want malformed", loaded.Status)
			}
			if !errors.Is(loaded.Err, ErrCacheCorrupted) {
				t.Errorf("Err should wrap ErrCacheCorrupted: %v", loaded.Err)
			}

			model, level, err := m.Resolve(7, 1, samples)
			if err != nil {
				t.Fatalf("Resolve should rebuild, got %v", err)
			}
			if level != CacheLevelBuild {
				t.Errorf("Level: got %s, want %s", level, CacheLevelBuild)
			}
			if got := model.PCHIP.RPMToAirflow.Eval(2500); got < 80 || got > 95 {
				t.Errorf("Eval(2500) = %g, want within [80, 95]", got)
			}
			if got := m.Disk().Load(7, 1).Status; got != StatusValid {
				t.Errorf("File should be repaired, status %s", got)
			}
		})
	}
}

func TestManager_HugeSamplesPersist(t *testing.T) {
	m := newTestManager(t, nil, nil)
	samples := curve.Samples{
		RPM:     curve.Series{0, 1},
		Airflow: curve.Series{-1.7e308, 1.7e308},
		Noise:   curve.Series{10, 20},
	}

	model, err := m.GetOrBuild(3, 4, samples)
	if err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	if err := model.PCHIP.Validate(); err != nil {
		t.Errorf("Built model should be valid: %v", err)
	}
	if got := m.Disk().Load(3, 4).Status; got != StatusValid {
		t.Errorf("Status: got %s, want valid", got)
	}
}

func TestManager_WriteFailureSurfaces(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	m := newTestManager(t, func(c *Config) {
		c.Dir = filepath.Join(blocker, "cache")
		c.AdmitHits = 1
	}, nil)

	model, err := m.GetOrBuild(1, 1, testSamples())
	if err == nil {
		t.Fatal("Expected a persistence error")
	}
	if !errors.Is(err, ErrPersist) {
		t.Errorf("Error should wrap ErrPersist: %v", err)
	}
	if model != nil {
		t.Error("No model should be returned when persisting fails")
	}
	if m.Memory().Len() != 0 {
		t.Error("An unpersisted model must not be cached")
	}
	if m.Stats().Failures != 1 {
		t.Errorf("Failures mismatch: got %d, want 1", m.Stats().Failures)
	}
}

func TestManager_EnrichesMissingAudioFlag(t *testing.T) {
	var probes atomic.Int32
	probe := probeFunc(func(int64, int64) bool {
		probes.Add(1)
		return true
	})
	m := newTestManager(t, nil, nil, WithAudioProbe(probe))

	if _, err := m.GetOrBuild(2, 9, testSamples()); err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}

	// Strip the flag as older files lack it
	path := m.Disk().Path(2, 9)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	delete(raw, "supports_audio")
	data, _ = json.Marshal(raw)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loaded := m.Disk().Load(2, 9)
	if loaded.AudioFlagPresent || loaded.Model.SupportsAudio {
		t.Fatal("Stripped file should report no audio flag")
	}

	model, err := m.GetOrBuild(2, 9, testSamples())
	if err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	if !model.SupportsAudio {
		t.Error("Flag should be derived from the probe")
	}
	if probes.Load() != 2 {
		t.Errorf("Probe calls: got %d, want 2", probes.Load())
	}
	if m.Stats().Builds != 1 {
		t.Error("Enrichment must not trigger a rebuild")
	}
}

func TestManager_LRUFallsBackToDisk(t *testing.T) {
	m := newTestManager(t, func(c *Config) {
		c.MaxEntries = 2
		c.AdmitHits = 1
	}, nil)

	for id := int64(1); id <= 3; id++ {
		if _, err := m.GetOrBuild(id, 1, testSamples()); err != nil {
			t.Fatalf("GetOrBuild(%d) failed: %v", id, err)
		}
	}
	if m.Memory().Len() != 2 {
		t.Fatalf("Memory len: got %d, want 2", m.Memory().Len())
	}

	if _, err := m.GetOrBuild(1, 1, testSamples()); err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	stats := m.Stats()
	if stats.DiskHits != 1 || stats.MemoryHits != 0 {
		t.Errorf("Evicted key should be served from disk, got %+v", stats)
	}
	if stats.Memory.Evictions < 1 {
		t.Errorf("Expected an eviction, got %d", stats.Memory.Evictions)
	}
}

func TestManager_Lookup(t *testing.T) {
	m := newTestManager(t, nil, nil)

	if _, err := m.Lookup(1, 1); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}

	if err := os.WriteFile(m.Disk().Path(1, 1), []byte("{"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := m.Lookup(1, 1); !errors.Is(err, ErrCacheCorrupted) {
		t.Errorf("Expected ErrCacheCorrupted, got %v", err)
	}

	built, err := m.GetOrBuild(1, 1, testSamples())
	if err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	got, err := m.Lookup(1, 1)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Meta != built.Meta {
		t.Errorf("Lookup meta mismatch: %+v", got.Meta)
	}
}

func TestManager_Invalidate(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.AdmitHits = 1 }, nil)

	if _, err := m.GetOrBuild(5, 5, testSamples()); err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}
	if _, err := m.GetOrBuild(5, 6, testSamples()); err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}

	if err := m.Invalidate(5, 5); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if m.Disk().Load(5, 5).Status != StatusAbsent {
		t.Error("Disk file should be removed")
	}
	if m.Memory().Len() != 1 {
		t.Errorf("Only the other pair should remain in memory, got %d", m.Memory().Len())
	}
	if err := m.Invalidate(5, 5); err != nil {
		t.Errorf("Invalidating a missing pair should succeed: %v", err)
	}
}

func TestManager_DiskList(t *testing.T) {
	m := newTestManager(t, nil, nil)
	for _, id := range []int64{3, 1, 2} {
		if _, err := m.GetOrBuild(id, 10, testSamples()); err != nil {
			t.Fatalf("GetOrBuild failed: %v", err)
		}
	}
	// Unrelated files are ignored
	os.WriteFile(filepath.Join(m.Disk().Dir(), "1_10_spectrum.json"), []byte("{}"), 0644)

	entries, err := m.Disk().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Entries: got %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.ModelID != int64(i+1) || e.ConditionID != 10 {
			t.Errorf("Entry %d out of order: %+v", i, e)
		}
	}
}

func TestManager_ConcurrentSameKey(t *testing.T) {
	m := newTestManager(t, nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			model, err := m.GetOrBuild(1, 1, testSamples())
			if err != nil {
				errs <- err
				return
			}
			if model.PCHIP.Knots() != 12 {
				errs <- errors.New("unexpected knot count")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent lookup failed: %v", err)
	}
	if m.Disk().Load(1, 1).Status != StatusValid {
		t.Error("Disk file should be valid after concurrent writers")
	}
}

func TestManager_BuildMany(t *testing.T) {
	m := newTestManager(t, nil, nil)

	var reqs []Request
	for id := int64(1); id <= 8; id++ {
		reqs = append(reqs, Request{ModelID: id, ConditionID: 1, Samples: testSamples()})
	}

	results, err := m.BuildMany(context.Background(), reqs, 3)
	if err != nil {
		t.Fatalf("BuildMany failed: %v", err)
	}
	if len(results) != len(reqs) {
		t.Fatalf("Results: got %d, want %d", len(results), len(reqs))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("Request %d failed: %v", i, r.Err)
			continue
		}
		if r.Model.ModelID != reqs[i].ModelID {
			t.Errorf("Result %d out of order: model %d", i, r.Model.ModelID)
		}
		if r.Level != CacheLevelBuild {
			t.Errorf("Result %d level: got %s, want Build", i, r.Level)
		}
	}

	results, err = m.BuildMany(context.Background(), reqs, 3)
	if err != nil {
		t.Fatalf("BuildMany failed: %v", err)
	}
	for i, r := range results {
		if r.Level != CacheLevelL2 {
			t.Errorf("Result %d level: got %s, want L2-Disk", i, r.Level)
		}
	}
}

func TestManager_BuildManyCancelled(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reqs := []Request{{ModelID: 1, ConditionID: 1, Samples: testSamples()}}
	results, err := m.BuildMany(ctx, reqs, 2)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("Request should report cancellation, got %v", results[0].Err)
	}
	if m.Disk().Load(1, 1).Status != StatusAbsent {
		t.Error("Nothing should be built after cancellation")
	}
}

func TestManager_Metrics(t *testing.T) {
	m := newTestManager(t, nil, nil)
	if _, err := m.GetOrBuild(1, 1, testSamples()); err != nil {
		t.Fatalf("GetOrBuild failed: %v", err)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"perfcurve_cache_lookups_total",
		"perfcurve_cache_builds_total",
		"perfcurve_cache_build_seconds",
		"perfcurve_cache_memory_entries",
	} {
		if !names[want] {
			t.Errorf("Metric %s not registered", want)
		}
	}
}
