package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/fancool/perfcurve/internal/curve"
	"github.com/fancool/perfcurve/internal/pchip"
)

// modelWithKnots returns a model whose rpm_to_airflow curve has n knots.
func modelWithKnots(id int64, n int) *curve.Model {
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := range n {
		xs[i] = float64(i + 1)
		ys[i] = float64(2 * (i + 1))
	}
	return &curve.Model{
		Type:    curve.ModelType,
		ModelID: id,
		PCHIP:   curve.Set{RPMToAirflow: pchip.Build(xs, ys, pchip.DefaultOptions())},
	}
}

func TestMemoryCache_BasicOperations(t *testing.T) {
	cache := NewMemoryCache(10, 100)

	key := "1|1|perf|h|e"
	model := modelWithKnots(1, 3)

	cache.Put(key, model)

	retrieved, ok := cache.Get(key)
	if !ok {
		t.Fatal("Get failed: key not found")
	}
	if retrieved != model {
		t.Error("Retrieved model is not the stored one")
	}

	if !cache.Contains(key) {
		t.Error("Contains returned false for existing key")
	}
	if cache.Weight() != 3 {
		t.Errorf("Weight mismatch: got %d, want 3", cache.Weight())
	}

	cache.Delete(key)
	if cache.Contains(key) {
		t.Error("Key still exists after delete")
	}
	if cache.Weight() != 0 {
		t.Errorf("Weight not zero after delete: %d", cache.Weight())
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	cache := NewMemoryCache(2, 1000)

	cache.Put("a", modelWithKnots(1, 2))
	cache.Put("b", modelWithKnots(2, 2))

	// Touch a so b becomes least recently used
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("a should be cached")
	}

	cache.Put("c", modelWithKnots(3, 2))

	if cache.Len() != 2 {
		t.Fatalf("Len mismatch: got %d, want 2", cache.Len())
	}
	if _, ok := cache.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if !cache.Contains("a") || !cache.Contains("c") {
		t.Error("a and c should still be cached")
	}
	if got := cache.Stats().Evictions; got != 1 {
		t.Errorf("Evictions mismatch: got %d, want 1", got)
	}
}

func TestMemoryCache_WeightEviction(t *testing.T) {
	cache := NewMemoryCache(100, 10)

	cache.Put("a", modelWithKnots(1, 4))
	cache.Put("b", modelWithKnots(2, 4))
	cache.Put("c", modelWithKnots(3, 4))

	if cache.Contains("a") {
		t.Error("a should have been evicted by weight")
	}
	if cache.Weight() != 8 {
		t.Errorf("Weight mismatch: got %d, want 8", cache.Weight())
	}

	// An entry heavier than the whole cache evicts everything including itself
	cache.Put("huge", modelWithKnots(4, 11))
	if cache.Len() != 0 || cache.Weight() != 0 {
		t.Errorf("Cache should be empty, got len=%d weight=%d", cache.Len(), cache.Weight())
	}
}

func TestMemoryCache_Disabled(t *testing.T) {
	tests := []struct {
		name       string
		maxEntries int
		maxWeight  int
	}{
		{"zero entries", 0, 100},
		{"zero weight", 10, 0},
		{"negative", -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewMemoryCache(tt.maxEntries, tt.maxWeight)
			cache.Put("a", modelWithKnots(1, 2))
			if cache.Len() != 0 {
				t.Errorf("Put should be a no-op, got len=%d", cache.Len())
			}
		})
	}
}

func TestMemoryCache_UpdateExisting(t *testing.T) {
	cache := NewMemoryCache(10, 100)

	cache.Put("a", modelWithKnots(1, 2))
	cache.Put("a", modelWithKnots(1, 5))

	if cache.Len() != 1 {
		t.Errorf("Len mismatch: got %d, want 1", cache.Len())
	}
	if cache.Weight() != 5 {
		t.Errorf("Weight mismatch after update: got %d, want 5", cache.Weight())
	}
}

func TestMemoryCache_Keys(t *testing.T) {
	cache := NewMemoryCache(10, 100)
	cache.Put("a", modelWithKnots(1, 1))
	cache.Put("b", modelWithKnots(2, 1))
	cache.Put("c", modelWithKnots(3, 1))
	cache.Get("a")

	want := []string{"a", "c", "b"}
	got := cache.Keys()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Keys mismatch: got %v, want %v", got, want)
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(10, 100)
	cache.Put("a", modelWithKnots(1, 3))

	cache.Get("a")
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	if stats.Hits != 2 {
		t.Errorf("Hits mismatch: got %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses mismatch: got %d, want 1", stats.Misses)
	}
	if stats.ItemCount != 1 || stats.Weight != 3 {
		t.Errorf("State mismatch: items=%d weight=%d", stats.ItemCount, stats.Weight)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("HitRate mismatch: got %f", stats.HitRate)
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	cache := NewMemoryCache(10, 100)
	for i := range 5 {
		cache.Put(fmt.Sprintf("k%d", i), modelWithKnots(int64(i), 2))
	}

	cache.Clear()

	if cache.Len() != 0 || cache.Weight() != 0 {
		t.Errorf("Cache not empty after clear: len=%d weight=%d", cache.Len(), cache.Weight())
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := NewMemoryCache(50, 500)

	var wg sync.WaitGroup
	for g := range 10 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range 100 {
				key := fmt.Sprintf("g%d-k%d", id, i%20)
				cache.Put(key, modelWithKnots(int64(i), 1+i%5))
				cache.Get(key)
			}
		}(g)
	}
	wg.Wait()

	stats := cache.Stats()
	if stats.ItemCount > 50 {
		t.Errorf("Entry cap exceeded: %d", stats.ItemCount)
	}
	if stats.Weight > 500 {
		t.Errorf("Weight cap exceeded: %d", stats.Weight)
	}
}

func TestAdmission(t *testing.T) {
	a := newAdmission(2, 512, true)

	if got := a.note("k"); got != 1 {
		t.Errorf("first note: got %d, want 1", got)
	}
	if a.admit(1) {
		t.Error("one hit should not be admitted")
	}
	if got := a.note("k"); got != 2 {
		t.Errorf("second note: got %d, want 2", got)
	}
	if !a.admit(2) {
		t.Error("two hits should be admitted")
	}
}

func TestAdmission_Bypass(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		enabled   bool
	}{
		{"threshold one", 1, true},
		{"memory disabled", 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdmission(tt.threshold, 512, tt.enabled)
			if got := a.note("k"); got != tt.threshold {
				t.Errorf("note: got %d, want %d", got, tt.threshold)
			}
			if a.tracked() != 0 {
				t.Errorf("bypass should not track keys, got %d", a.tracked())
			}
		})
	}
}

func TestAdmission_WindowPurge(t *testing.T) {
	a := newAdmission(3, 20, true)

	for i := range 20 {
		a.note(fmt.Sprintf("k%d", i))
	}
	a.note("k0")
	if a.tracked() != 20 {
		t.Fatalf("tracked mismatch: got %d, want 20", a.tracked())
	}

	// The 21st key purges the two oldest (k0 and k1)
	a.note("k20")
	if a.tracked() != 19 {
		t.Fatalf("tracked mismatch after purge: got %d, want 19", a.tracked())
	}
	if got := a.note("k0"); got != 1 {
		t.Errorf("purged key should restart at 1, got %d", got)
	}
	if got := a.note("k5"); got != 2 {
		t.Errorf("retained key should keep its count, got %d", got)
	}
}
