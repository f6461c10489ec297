package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/fancool/perfcurve/internal/curve"
)

// LoadStatus classifies the outcome of reading a model file.
type LoadStatus int

const (
	// StatusAbsent means no file exists for the pair.
	StatusAbsent LoadStatus = iota

	// StatusMalformed means the file exists but cannot be used.
	StatusMalformed

	// StatusValid means the file decoded into a usable model.
	StatusValid
)

// String returns the string representation of the status
func (s LoadStatus) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusMalformed:
		return "malformed"
	case StatusValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Loaded is the result of DiskStore.Load.
type Loaded struct {
	Status LoadStatus
	Model  *curve.Model

	// AudioFlagPresent is false when the file predates the supports_audio
	// field; Model.SupportsAudio is then false and should be derived.
	AudioFlagPresent bool

	// Err explains a malformed result.
	Err error
}

// Entry describes one model file for listing.
type Entry struct {
	ModelID     int64
	ConditionID int64
	Path        string
	Size        int64
	ModTime     time.Time
}

// diskRecord mirrors curve.Model with an optional audio flag and required
// sections left as pointers so their absence can be detected.
type diskRecord struct {
	Type          string      `json:"type"`
	ModelID       int64       `json:"model_id"`
	ConditionID   int64       `json:"condition_id"`
	PCHIP         *curve.Set  `json:"pchip"`
	SupportsAudio *bool       `json:"supports_audio"`
	Meta          *curve.Meta `json:"meta"`
}

var fileNamePattern = regexp.MustCompile(`^perf_(-?\d+)_(-?\d+)\.json$`)

// DiskStore implements the L2 disk cache: one JSON file per
// (model, condition) pair. It is the system of record; files are replaced
// atomically so readers see either the old or the new version.
type DiskStore struct {
	dir string
}

// NewDiskStore creates a store rooted at dir. The directory is created on
// first write.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Dir returns the cache directory.
func (d *DiskStore) Dir() string {
	return d.dir
}

// Path returns the file path for a pair.
func (d *DiskStore) Path(modelID, conditionID int64) string {
	return filepath.Join(d.dir, fmt.Sprintf("perf_%d_%d.json", modelID, conditionID))
}

// Load reads the model file of a pair. It never fails; problems are reported
// through the status.
func (d *DiskStore) Load(modelID, conditionID int64) Loaded {
	data, err := os.ReadFile(d.Path(modelID, conditionID))
	if errors.Is(err, fs.ErrNotExist) {
		return Loaded{Status: StatusAbsent}
	}
	if err != nil {
		return Loaded{Status: StatusMalformed, Err: err}
	}
	return decodeRecord(data)
}

func decodeRecord(data []byte) Loaded {
	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Loaded{Status: StatusMalformed, Err: fmt.Errorf("%w: %v", ErrCacheCorrupted, err)}
	}
	if rec.Type != curve.ModelType {
		return Loaded{Status: StatusMalformed, Err: fmt.Errorf("%w: unexpected type %q", ErrCacheCorrupted, rec.Type)}
	}
	if rec.PCHIP == nil || rec.Meta == nil {
		return Loaded{Status: StatusMalformed, Err: fmt.Errorf("%w: missing pchip or meta", ErrCacheCorrupted)}
	}
	if err := rec.PCHIP.Validate(); err != nil {
		return Loaded{Status: StatusMalformed, Err: fmt.Errorf("%w: %w", ErrCacheCorrupted, err)}
	}

	m := &curve.Model{
		Type:        rec.Type,
		ModelID:     rec.ModelID,
		ConditionID: rec.ConditionID,
		PCHIP:       *rec.PCHIP,
		Meta:        *rec.Meta,
	}
	if rec.SupportsAudio != nil {
		m.SupportsAudio = *rec.SupportsAudio
	}
	return Loaded{Status: StatusValid, Model: m, AudioFlagPresent: rec.SupportsAudio != nil}
}

// Save writes the model of its pair. The data goes to a temporary file in
// the same directory which is then renamed over the target.
func (d *DiskStore) Save(m *curve.Model) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode model: %w", err)
	}

	path := d.Path(m.ModelID, m.ConditionID)
	if err := d.writeFile(path, data); err != nil {
		return "", fmt.Errorf("failed to write cache file: %w", err)
	}
	return path, nil
}

// Delete removes the model file of a pair. Removing a missing file is not an
// error.
func (d *DiskStore) Delete(modelID, conditionID int64) error {
	err := os.Remove(d.Path(modelID, conditionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every model file in the directory ordered by model and
// condition id. A missing directory yields an empty list.
func (d *DiskStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(d.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(de.Name())
		if match == nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		modelID, _ := strconv.ParseInt(match[1], 10, 64)
		conditionID, _ := strconv.ParseInt(match[2], 10, 64)
		entries = append(entries, Entry{
			ModelID:     modelID,
			ConditionID: conditionID,
			Path:        filepath.Join(d.dir, de.Name()),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModelID != entries[j].ModelID {
			return entries[i].ModelID < entries[j].ModelID
		}
		return entries[i].ConditionID < entries[j].ConditionID
	})
	return entries, nil
}

// writeFile writes data atomically using a temporary file.
func (d *DiskStore) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, "perf_*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
