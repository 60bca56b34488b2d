// Package admin manages the set of guideline URLs the service keeps
// indexed: the persisted URL registry, refresh job tracking, and the
// interval refresh scheduler.
package admin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/blob"
)

// DefaultRegistryKey is where the registry persists in the blob store.
const DefaultRegistryKey = "config/managed_urls.json"

// Index status values for a managed URL.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ManagedURL is one registered guideline page.
type ManagedURL struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	AddedAt         time.Time  `json:"added_at"`
	LastIndexedAt   *time.Time `json:"last_indexed_at,omitempty"`
	LastIndexStatus string     `json:"last_index_status"`
	LastError       string     `json:"last_error,omitempty"`
	// ContentHash is the sha256 of the last indexed content, used to
	// skip re-embedding unchanged pages.
	ContentHash string `json:"content_hash,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Schedule holds the periodic refresh state.
type Schedule struct {
	Enabled   bool       `json:"enabled"`
	Interval  Duration   `json:"interval"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// Duration marshals as a Go duration string inside the registry JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type registryState struct {
	URLs     []ManagedURL `json:"urls"`
	Schedule Schedule     `json:"schedule"`
}

// Registry is the persisted managed-URL list. All mutations
// read-modify-write the full blob under a lock.
type Registry struct {
	store  blob.Store
	key    string
	logger *slog.Logger

	mu    sync.Mutex
	state registryState
	// loaded guards against serving the zero state before Load.
	loaded bool
}

// NewRegistry creates a registry persisting to the given blob store.
func NewRegistry(store blob.Store, key string, logger *slog.Logger) *Registry {
	if key == "" {
		key = DefaultRegistryKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, key: key, logger: logger}
}

// Load reads the registry from the blob store. A missing blob yields
// an empty registry with a daily refresh schedule.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *Registry) loadLocked(ctx context.Context) error {
	data, err := r.store.Get(ctx, r.key)
	if err != nil {
		if blob.IsNotFound(err) {
			r.state = registryState{
				URLs:     []ManagedURL{},
				Schedule: Schedule{Enabled: true, Interval: Duration(24 * time.Hour)},
			}
			r.loaded = true
			r.logger.Info("url registry not found, starting empty", "key", r.key)
			return nil
		}
		return err
	}

	var state registryState
	if err := json.Unmarshal(data, &state); err != nil {
		return apperr.Corrupt("admin.load", fmt.Errorf("decode %s: %w", r.key, err))
	}
	if state.URLs == nil {
		state.URLs = []ManagedURL{}
	}
	r.state = state
	r.loaded = true
	r.logger.Info("url registry loaded", "urls", len(state.URLs))
	return nil
}

func (r *Registry) ensureLoadedLocked(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	return r.loadLocked(ctx)
}

func (r *Registry) persistLocked(ctx context.Context) error {
	data, err := json.MarshalIndent(r.state, "", "  ")
	if err != nil {
		return apperr.Internal("admin.save", err)
	}
	return r.store.Put(ctx, r.key, data)
}

// List returns a copy of all managed URLs.
func (r *Registry) List(ctx context.Context) ([]ManagedURL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]ManagedURL, len(r.state.URLs))
	copy(out, r.state.URLs)
	return out, nil
}

// Enabled returns only the URLs eligible for refresh.
func (r *Registry) Enabled(ctx context.Context) ([]ManagedURL, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0:0]
	for _, u := range all {
		if u.Enabled {
			enabled = append(enabled, u)
		}
	}
	return enabled, nil
}

// Add registers a new URL. Duplicate URLs are rejected.
func (r *Registry) Add(ctx context.Context, name, url string) (ManagedURL, error) {
	if url == "" {
		return ManagedURL{}, apperr.Invalid("admin.add", "url is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return ManagedURL{}, err
	}

	for _, existing := range r.state.URLs {
		if existing.URL == url {
			return ManagedURL{}, apperr.Invalid("admin.add", fmt.Sprintf("url already managed: %s", url))
		}
	}

	entry := ManagedURL{
		ID:              "url-" + uuid.NewString()[:8],
		Name:            name,
		URL:             url,
		AddedAt:         time.Now().UTC(),
		LastIndexStatus: StatusPending,
		Enabled:         true,
	}
	r.state.URLs = append(r.state.URLs, entry)
	if err := r.persistLocked(ctx); err != nil {
		return ManagedURL{}, err
	}

	r.logger.Info("url added", "id", entry.ID, "url", url)
	return entry, nil
}

// Remove deletes a URL by ID. Returns the removed entry.
func (r *Registry) Remove(ctx context.Context, id string) (ManagedURL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return ManagedURL{}, err
	}

	for i, u := range r.state.URLs {
		if u.ID == id {
			r.state.URLs = append(r.state.URLs[:i], r.state.URLs[i+1:]...)
			if err := r.persistLocked(ctx); err != nil {
				return ManagedURL{}, err
			}
			r.logger.Info("url removed", "id", id, "url", u.URL)
			return u, nil
		}
	}
	return ManagedURL{}, apperr.NotFound("admin.remove", fmt.Sprintf("url id %s not found", id))
}

// SetEnabled flips a URL's refresh eligibility.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	for i := range r.state.URLs {
		if r.state.URLs[i].ID == id {
			r.state.URLs[i].Enabled = enabled
			return r.persistLocked(ctx)
		}
	}
	return apperr.NotFound("admin.enable", fmt.Sprintf("url id %s not found", id))
}

// UpdateStatus records the outcome of an index attempt.
func (r *Registry) UpdateStatus(ctx context.Context, id, status, indexErr, contentHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	for i := range r.state.URLs {
		if r.state.URLs[i].ID != id {
			continue
		}
		r.state.URLs[i].LastIndexStatus = status
		r.state.URLs[i].LastError = indexErr
		if status == StatusSuccess {
			now := time.Now().UTC()
			r.state.URLs[i].LastIndexedAt = &now
		}
		if contentHash != "" {
			r.state.URLs[i].ContentHash = contentHash
		}
		return r.persistLocked(ctx)
	}
	return apperr.NotFound("admin.status", fmt.Sprintf("url id %s not found", id))
}

// Schedule returns the current refresh schedule.
func (r *Registry) Schedule(ctx context.Context) (Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return Schedule{}, err
	}
	return r.state.Schedule, nil
}

// UpdateSchedule changes the refresh schedule. Nil fields are left
// untouched.
func (r *Registry) UpdateSchedule(ctx context.Context, enabled *bool, interval *time.Duration) (Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return Schedule{}, err
	}

	if enabled != nil {
		r.state.Schedule.Enabled = *enabled
	}
	if interval != nil {
		if *interval <= 0 {
			return Schedule{}, apperr.Invalid("admin.schedule", "interval must be positive")
		}
		r.state.Schedule.Interval = Duration(*interval)
	}
	if r.state.Schedule.LastRunAt != nil && r.state.Schedule.Enabled {
		next := r.state.Schedule.LastRunAt.Add(time.Duration(r.state.Schedule.Interval))
		r.state.Schedule.NextRunAt = &next
	}
	if err := r.persistLocked(ctx); err != nil {
		return Schedule{}, err
	}
	return r.state.Schedule, nil
}

// MarkRun records a completed refresh run and computes the next one.
func (r *Registry) MarkRun(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	at = at.UTC()
	r.state.Schedule.LastRunAt = &at
	if r.state.Schedule.Enabled {
		next := at.Add(time.Duration(r.state.Schedule.Interval))
		r.state.Schedule.NextRunAt = &next
	}
	return r.persistLocked(ctx)
}

// ContentHash returns the sha256 hex of content, the registry's
// change-detection key.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
