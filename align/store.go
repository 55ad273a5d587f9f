package align

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// SavedAlignment is an accepted transform for one scan.
type SavedAlignment struct {
	Transform SeedTransform `json:"transform"`
	Target    Dims          `json:"target"`
	Residual  float64       `json:"residual,omitempty"`
	UpdatedAt int64         `json:"updatedAt"`
}

// Store holds accepted alignments keyed by scan id. It is persisted as a
// single JSON document.
type Store struct {
	Scans       map[string]SavedAlignment `json:"scans"`
	LastUpdated int64                     `json:"lastUpdated"`

	mu   sync.RWMutex
	save sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{Scans: make(map[string]SavedAlignment)}
}

// LoadStore reads the store at path. A missing file yields an empty store.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewStore(), nil
		}
		return nil, fmt.Errorf("reading alignment store: %w", err)
	}

	s := NewStore()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing alignment store: %w", err)
	}
	if s.Scans == nil {
		s.Scans = make(map[string]SavedAlignment)
	}
	return s, nil
}

// SaveStore writes s to path, creating parent directories. The document is
// written to a temporary file in the same directory and renamed into place;
// concurrent saves of one store are serialized.
func SaveStore(path string, s *Store) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	s.save.Lock()
	defer s.save.Unlock()

	s.mu.Lock()
	s.LastUpdated = time.Now().Unix()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling alignment store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary store file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing alignment store: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing alignment store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing alignment store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing alignment store: %w", err)
	}
	return nil
}

// Get returns the saved alignment for scanID.
func (s *Store) Get(scanID string) (SavedAlignment, bool) {
	if s == nil {
		return SavedAlignment{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.Scans[scanID]
	return a, ok
}

// Current returns the saved transform for scanID, or the identity seed.
func (s *Store) Current(scanID string) SeedTransform {
	if a, ok := s.Get(scanID); ok {
		return a.Transform
	}
	return IdentitySeed()
}

// Put records an accepted alignment.
func (s *Store) Put(scanID string, a SavedAlignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.UpdatedAt == 0 {
		a.UpdatedAt = time.Now().Unix()
	}
	s.Scans[scanID] = a
}

// PutOutcome records the applied transform of a session outcome.
func (s *Store) PutOutcome(scanID string, out *AlignOutcome) {
	s.Put(scanID, SavedAlignment{
		Transform: out.Applied.Rounded(),
		Target:    out.Target,
		Residual:  out.Result.FinalResidual(),
	})
}

// IDs returns the stored scan ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.Scans))
	for id := range s.Scans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
