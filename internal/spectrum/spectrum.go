// Package spectrum reads and writes the per-(model, condition) spectrum
// cache files that live next to the performance models. The curve cache only
// needs to know whether such a file carries what sweep audio playback
// requires.
package spectrum

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Known spectrum file types.
const (
	TypeV1 = "spectrum_v1"
	TypeV2 = "spectrum_v2"
)

// ErrNotFound is returned when no spectrum file exists for a pair.
var ErrNotFound = errors.New("spectrum cache not found")

// File is the on-disk envelope of a spectrum model.
type File struct {
	Type  string         `json:"type"`
	Model map[string]any `json:"model"`
	Meta  map[string]any `json:"meta"`
}

// Validation describes the state of a spectrum file.
type Validation struct {
	Exists bool           `json:"exists"`
	Valid  bool           `json:"valid"`
	Reason string         `json:"reason,omitempty"`
	Path   string         `json:"path"`
	Meta   map[string]any `json:"meta"`
}

// Store manages spectrum files under one directory.
type Store struct {
	dir    string
	logger *log.Logger
}

// NewStore creates a store rooted at dir. A nil logger uses the default one.
func NewStore(dir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Path returns the file path for a pair.
func (s *Store) Path(modelID, conditionID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%d_spectrum.json", modelID, conditionID))
}

// Exists reports whether a spectrum file is present for the pair.
func (s *Store) Exists(modelID, conditionID int64) bool {
	st, err := os.Stat(s.Path(modelID, conditionID))
	return err == nil && st.Mode().IsRegular()
}

// Load reads the spectrum file of a pair.
func (s *Store) Load(modelID, conditionID int64) (*File, error) {
	data, err := os.ReadFile(s.Path(modelID, conditionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode spectrum %d/%d: %w", modelID, conditionID, err)
	}
	return &f, nil
}

// Save writes model under the spectrum envelope, merging extraMeta into the
// generated metadata. The file is replaced atomically.
func (s *Store) Save(modelID, conditionID int64, model map[string]any, extraMeta map[string]any) (string, error) {
	if model == nil {
		model = map[string]any{}
	}
	meta := map[string]any{
		"model_id":     modelID,
		"condition_id": conditionID,
		"created_at":   time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	for k, v := range extraMeta {
		meta[k] = v
	}

	data, err := json.Marshal(File{Type: TypeV2, Model: model, Meta: meta})
	if err != nil {
		return "", err
	}

	path := s.Path(modelID, conditionID)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("save spectrum %d/%d: %w", modelID, conditionID, err)
	}
	return path, nil
}

// Delete removes the spectrum file of a pair. It reports whether a file was
// removed.
func (s *Store) Delete(modelID, conditionID int64) bool {
	return os.Remove(s.Path(modelID, conditionID)) == nil
}

// Validate checks the structure of a pair's spectrum file.
func (s *Store) Validate(modelID, conditionID int64) Validation {
	v := Validation{Path: s.Path(modelID, conditionID), Meta: map[string]any{}}

	f, err := s.Load(modelID, conditionID)
	switch {
	case errors.Is(err, ErrNotFound):
		v.Reason = "not-found"
		return v
	case err != nil:
		v.Exists = true
		v.Reason = "read-error"
		return v
	}

	v.Exists = true
	if f.Meta != nil {
		v.Meta = f.Meta
	}
	if (f.Type != TypeV1 && f.Type != TypeV2) || f.Model == nil {
		v.Reason = "bad-structure"
		return v
	}
	v.Valid = true
	return v
}

// SupportsAudio reports whether the pair's spectrum model carries both a
// non-empty sweep_frame_index list and a non-empty sweep_audio_meta object.
// Missing or malformed files yield false.
func (s *Store) SupportsAudio(modelID, conditionID int64) bool {
	f, err := s.Load(modelID, conditionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("spectrum check failed", "model", modelID, "condition", conditionID, "err", err)
		}
		return false
	}
	if f.Model == nil {
		return false
	}

	index, _ := f.Model["sweep_frame_index"].([]any)
	meta, _ := f.Model["sweep_audio_meta"].(map[string]any)
	return len(index) > 0 && len(meta) > 0
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "sp_*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
