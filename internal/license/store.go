package license

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const cacheFileName = "license.json"

// Record is the locally cached license state: "was valid as of the
// last successful check", not a live guarantee. Its presence is what
// the Gate reads. NextCheckAt is epoch milliseconds.
type Record struct {
	LicenseKey  string `json:"licenseKey"`
	ProfileHash string `json:"profileHash"`
	NextCheckAt int64  `json:"nextCheckAt"`
}

// NextCheck returns NextCheckAt as a time.Time.
func (r Record) NextCheck() time.Time {
	return time.UnixMilli(r.NextCheckAt)
}

// Store persists the license cache as a single JSON file, written
// wholesale and atomically. It is never field-by-field mutated.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewStore creates a store persisting under stateDir.
func NewStore(stateDir string, logger *slog.Logger) *Store {
	return &Store{
		path:   filepath.Join(stateDir, cacheFileName),
		logger: logger.With(slog.String("component", "license_store")),
	}
}

// Load returns the cached record, or (nil, nil) when no license is
// cached. A corrupt cache file counts as absent: the device simply
// presents as unlicensed until re-activation.
func (s *Store) Load() (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read license cache: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("license cache corrupt, treating as unlicensed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if rec.LicenseKey == "" || rec.ProfileHash == "" {
		return nil, nil
	}
	return &rec, nil
}

// Save replaces the cached record.
func (s *Store) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license cache: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write license cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write license cache: %w", err)
	}
	return nil
}

// Clear removes the cached record. Clearing an absent cache is a
// no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear license cache: %w", err)
	}
	return nil
}
