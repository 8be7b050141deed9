// Package device derives the stable, privacy-preserving identity that
// binds a license seat to one installation. The raw profile ID is a
// random UUID persisted once under the state directory; only its
// SHA-256 hash ever leaves the device.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrStorageUnavailable indicates the profile file could not be read or
// written. Licensing cannot proceed without a stable identity, so this
// is fatal for the feature; callers must not retry.
var ErrStorageUnavailable = errors.New("device identity storage unavailable")

const profileFileName = "profile.json"

// profileRecord is the on-disk shape of the device profile.
type profileRecord struct {
	ProfileID string `json:"profileId"`
}

// Identity provides the device fingerprint. Safe for concurrent use.
type Identity struct {
	path   string
	logger *slog.Logger

	mu          sync.Mutex
	fingerprint string
}

// NewIdentity creates an identity provider persisting under stateDir.
func NewIdentity(stateDir string, logger *slog.Logger) *Identity {
	return &Identity{
		path:   filepath.Join(stateDir, profileFileName),
		logger: logger.With(slog.String("component", "device_identity")),
	}
}

// Fingerprint returns the SHA-256 hash of the persisted profile ID as
// lowercase hex. The first call generates and persists the profile ID;
// every later call, across restarts, returns the identical hash.
func (i *Identity) Fingerprint() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.fingerprint != "" {
		return i.fingerprint, nil
	}

	profileID, err := i.loadProfileID()
	if err != nil {
		return "", err
	}
	if profileID == "" {
		profileID = uuid.NewString()
		if err := i.saveProfileID(profileID); err != nil {
			return "", err
		}
		i.logger.Info("device profile created",
			slog.String("path", i.path),
		)
	}

	sum := sha256.Sum256([]byte(profileID))
	i.fingerprint = hex.EncodeToString(sum[:])
	return i.fingerprint, nil
}

func (i *Identity) loadProfileID() (string, error) {
	data, err := os.ReadFile(i.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var rec profileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt profile file would silently mint a new identity
		// and orphan the license seat; refuse instead.
		return "", fmt.Errorf("%w: corrupt profile file: %v", ErrStorageUnavailable, err)
	}
	return rec.ProfileID, nil
}

func (i *Identity) saveProfileID(profileID string) error {
	if err := os.MkdirAll(filepath.Dir(i.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	data, err := json.MarshalIndent(profileRecord{ProfileID: profileID}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	tmp := i.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, i.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
