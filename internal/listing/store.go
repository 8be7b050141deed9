package listing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store persists listings as one JSON document per SKU under the data
// directory, the same layout the desktop exporter reads.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewStore creates a listing store rooted at dataDir/listings.
func NewStore(dataDir string, logger *slog.Logger) *Store {
	return &Store{
		dir:    filepath.Join(dataDir, "listings"),
		logger: logger.With(slog.String("component", "listing_store")),
	}
}

// ErrNotFound is returned when no listing exists for a SKU.
var ErrNotFound = fmt.Errorf("listing not found")

// Get loads one listing by SKU.
func (s *Store) Get(sku string) (*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(sku))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read listing %s: %w", sku, err)
	}

	var l Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse listing %s: %w", sku, err)
	}
	return &l, nil
}

// Put validates and persists a listing, replacing any existing record
// for the same SKU.
func (s *Store) Put(l *Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create listing dir: %w", err)
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal listing %s: %w", l.SKU, err)
	}

	path := s.path(l.SKU)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write listing %s: %w", l.SKU, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write listing %s: %w", l.SKU, err)
	}
	return nil
}

// Delete removes a listing by SKU.
func (s *Store) Delete(sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(sku))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete listing %s: %w", sku, err)
	}
	return nil
}

// List returns all stored listings sorted by SKU. Unreadable files are
// skipped with a warning rather than failing the whole listing.
func (s *Store) List() ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read listing dir: %w", err)
	}

	var out []*Listing
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable listing file",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		var l Listing
		if err := json.Unmarshal(data, &l); err != nil {
			s.logger.Warn("skipping corrupt listing file",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, &l)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// path maps a SKU to its file, flattening path separators so a SKU can
// never escape the listing directory.
func (s *Store) path(sku string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(sku)
	return filepath.Join(s.dir, safe+".json")
}
