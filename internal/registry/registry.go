// Package registry holds the license service's authoritative state:
// licenses, their seats, and the activations bound to them. It
// enforces the seat policy the client relies on (activation is
// idempotent per fingerprint, validation never consumes a seat) so
// interleaved calls from two tabs or two devices can never double-book
// a seat.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"closethopper/pkg/contracts/licensing"
)

// Registry errors, mapped to wire codes by the HTTP layer.
var (
	ErrInvalidKey     = errors.New("license key not found")
	ErrRevoked        = errors.New("license is not active")
	ErrSeatsExhausted = errors.New("license has no free seats")
	ErrNotBound       = errors.New("profile is not bound to this license")
)

// DefaultSeatLimit is the seat allowance for new licenses.
const DefaultSeatLimit = 1

// NextCheckInDays is the revalidation window the service hands to
// clients on every successful validation.
const NextCheckInDays = 14

// Activation binds one profile hash to one license seat.
type Activation struct {
	ID          string    `json:"id"`
	ProfileHash string    `json:"profileHash"`
	ActivatedAt time.Time `json:"activatedAt"`
	LastCheckAt time.Time `json:"lastCheckAt"`
}

// License is the server-owned license record.
type License struct {
	Key         string       `json:"key"`
	Plan        string       `json:"plan"`
	Status      string       `json:"status"`
	SeatLimit   int          `json:"seatLimit"`
	Activations []Activation `json:"activations"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ValidationInfo is what Validate reports back for the wire response.
type ValidationInfo struct {
	Status    string
	Plan      string
	SeatsUsed int
	SeatLimit int
	Bound     bool
}

// Registry is an in-memory license store with optional JSON snapshot
// persistence across restarts. All operations take the registry lock;
// the idempotency rules below are what make concurrent activations
// safe, not the lock alone.
type Registry struct {
	mu           sync.Mutex
	licenses     map[string]*License
	snapshotPath string
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a registry. snapshotPath may be empty to disable
// persistence; when set, existing state is loaded from it.
func New(snapshotPath string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		licenses:     make(map[string]*License),
		snapshotPath: snapshotPath,
		logger:       logger.With(slog.String("component", "license_registry")),
		now:          time.Now,
	}
	if snapshotPath != "" {
		if err := r.load(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Create mints a new license. An empty status defaults to "available";
// licenses only grant capability once active.
func (r *Registry) Create(plan, status string) (*License, error) {
	if status == "" {
		status = licensing.StatusAvailable
	}

	key, err := licensing.NewKey()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lic := &License{
		Key:       key,
		Plan:      plan,
		Status:    status,
		SeatLimit: DefaultSeatLimit,
		CreatedAt: r.now(),
	}
	r.licenses[licensing.NormalizeKey(key)] = lic

	r.logger.Info("license created",
		slog.String("plan", plan),
		slog.String("status", status),
	)
	r.persistLocked()
	return cloned(lic), nil
}

// Put inserts or replaces a license record verbatim. Used by seeding
// and tests.
func (r *Registry) Put(lic License) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lic.SeatLimit == 0 {
		lic.SeatLimit = DefaultSeatLimit
	}
	r.licenses[licensing.NormalizeKey(lic.Key)] = &lic
	r.persistLocked()
}

// Activate binds profileHash to the license's seat. Re-activating an
// already bound profile reports alreadyActivated and changes nothing;
// that idempotency is what keeps a seat from being double-booked by
// concurrent attempts from the same device.
func (r *Registry) Activate(key, profileHash string) (alreadyActivated bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.licenses[licensing.NormalizeKey(key)]
	if !ok {
		return false, ErrInvalidKey
	}
	if lic.Status != licensing.StatusActive {
		return false, ErrRevoked
	}

	for _, act := range lic.Activations {
		if act.ProfileHash == profileHash {
			return true, nil
		}
	}

	if len(lic.Activations) >= lic.SeatLimit {
		return false, ErrSeatsExhausted
	}

	now := r.now()
	lic.Activations = append(lic.Activations, Activation{
		ID:          uuid.NewString(),
		ProfileHash: profileHash,
		ActivatedAt: now,
		LastCheckAt: now,
	})

	r.logger.Info("seat activated",
		slog.Int("seats_used", len(lic.Activations)),
		slog.Int("seat_limit", lic.SeatLimit),
	)
	r.persistLocked()
	return false, nil
}

// Validate reports the license state for profileHash. When the profile
// is bound its freshness timestamp advances; when it is not bound and
// seats remain the caller learns bound=false. Validation never binds.
func (r *Registry) Validate(key, profileHash string) (*ValidationInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.licenses[licensing.NormalizeKey(key)]
	if !ok {
		return nil, ErrInvalidKey
	}
	if lic.Status != licensing.StatusActive {
		return nil, ErrRevoked
	}

	info := &ValidationInfo{
		Status:    lic.Status,
		Plan:      lic.Plan,
		SeatsUsed: len(lic.Activations),
		SeatLimit: lic.SeatLimit,
	}

	for i := range lic.Activations {
		if lic.Activations[i].ProfileHash == profileHash {
			lic.Activations[i].LastCheckAt = r.now()
			info.Bound = true
			r.persistLocked()
			return info, nil
		}
	}

	if len(lic.Activations) >= lic.SeatLimit {
		return nil, ErrSeatsExhausted
	}
	return info, nil
}

// Ping refreshes the freshness timestamp for a bound profile. Unknown
// keys or unbound profiles are tolerated: ping grants and revokes
// nothing.
func (r *Registry) Ping(key, profileHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.licenses[licensing.NormalizeKey(key)]
	if !ok {
		return
	}
	for i := range lic.Activations {
		if lic.Activations[i].ProfileHash == profileHash {
			lic.Activations[i].LastCheckAt = r.now()
			r.persistLocked()
			return
		}
	}
}

// Deactivate frees the seat bound to profileHash so another device can
// take it. Seat release is not part of the historical flow; it exists
// so a lost or reset device does not strand a paid seat forever.
func (r *Registry) Deactivate(key, profileHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.licenses[licensing.NormalizeKey(key)]
	if !ok {
		return ErrInvalidKey
	}

	for i, act := range lic.Activations {
		if act.ProfileHash == profileHash {
			lic.Activations = append(lic.Activations[:i], lic.Activations[i+1:]...)
			r.logger.Info("seat released",
				slog.Int("seats_used", len(lic.Activations)),
			)
			r.persistLocked()
			return nil
		}
	}
	return ErrNotBound
}

// Revoke marks a license revoked. Every subsequent validate or
// activate for it fails authoritatively.
func (r *Registry) Revoke(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.licenses[licensing.NormalizeKey(key)]
	if !ok {
		return ErrInvalidKey
	}
	lic.Status = licensing.StatusRevoked

	r.logger.Info("license revoked")
	r.persistLocked()
	return nil
}

// Get returns a copy of the license record, or nil when absent.
func (r *Registry) Get(key string) *License {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.licenses[licensing.NormalizeKey(key)]
	if !ok {
		return nil
	}
	return cloned(lic)
}

// Count returns the number of licenses held.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.licenses)
}

func cloned(lic *License) *License {
	out := *lic
	out.Activations = append([]Activation(nil), lic.Activations...)
	return &out
}

// persistLocked writes the snapshot if persistence is enabled. Called
// with the registry lock held.
func (r *Registry) persistLocked() {
	if r.snapshotPath == "" {
		return
	}

	data, err := json.MarshalIndent(r.licenses, "", "  ")
	if err != nil {
		r.logger.Error("failed to marshal license snapshot", slog.String("error", err.Error()))
		return
	}

	if err := os.MkdirAll(filepath.Dir(r.snapshotPath), 0o700); err != nil {
		r.logger.Error("failed to create snapshot dir", slog.String("error", err.Error()))
		return
	}

	tmp := r.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		r.logger.Error("failed to write license snapshot", slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmp, r.snapshotPath); err != nil {
		os.Remove(tmp)
		r.logger.Error("failed to write license snapshot", slog.String("error", err.Error()))
	}
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.snapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read license snapshot: %w", err)
	}

	if err := json.Unmarshal(data, &r.licenses); err != nil {
		return fmt.Errorf("failed to parse license snapshot: %w", err)
	}

	r.logger.Info("license snapshot loaded",
		slog.String("path", r.snapshotPath),
		slog.Int("licenses", len(r.licenses)),
	)
	return nil
}
