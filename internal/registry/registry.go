// Package registry keeps an in-memory mirror of the model catalog in front
// of the backing store, which is itself refreshed from the upstream catalog.
//
// Reads are served from memory while the mirror is fresh (MemoryTTL). An
// expired or cold mirror is reloaded from the store; a store older than
// StoreTTL triggers a background upstream sync, an empty store a
// synchronous one. Loads and syncs are coalesced so concurrent callers share
// one in-flight operation. A failed sync never removes data that was
// previously served.
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"model_registry/internal/apperrors"
	"model_registry/internal/catalog"
	"model_registry/internal/metrics"
	"model_registry/internal/models"
	"model_registry/internal/storage"
	"model_registry/internal/utils"
)

const (
	DefaultMemoryTTL     = time.Hour
	DefaultStoreTTL      = 24 * time.Hour
	DefaultSyncBatchSize = 50

	flightLoad = "load"
	flightSync = "sync"
)

var (
	// ErrEmptyCatalog is a sync failure: upstream listed nothing while models exist locally
	ErrEmptyCatalog = errors.New("upstream catalog is empty")

	// ErrEmptyReload is a sync failure: the store had no active rows after reconciliation
	ErrEmptyReload = errors.New("no active models after sync")
)

// Store is the backing store of the registry
type Store interface {
	ListActive(ctx context.Context) ([]*models.Model, error)
	Get(ctx context.Context, id string) (*models.Model, error)
	Upsert(ctx context.Context, model *models.Model) error
	ListActiveIDs(ctx context.Context) ([]string, error)
	Deactivate(ctx context.Context, ids []string, at time.Time) (int64, error)
}

// Catalog is the upstream model listing
type Catalog interface {
	ListModels(ctx context.Context) ([]catalog.RawModel, error)
}

// Config holds the cache policy
type Config struct {
	MemoryTTL     time.Duration
	StoreTTL      time.Duration
	SyncBatchSize int
}

// DefaultConfig returns the default cache policy
func DefaultConfig() Config {
	return Config{
		MemoryTTL:     DefaultMemoryTTL,
		StoreTTL:      DefaultStoreTTL,
		SyncBatchSize: DefaultSyncBatchSize,
	}
}

// GetOptions tweaks GetModels
type GetOptions struct {
	// ForceRefresh performs a full upstream sync before reading
	ForceRefresh bool
}

// Stats is a snapshot of the registry state
type Stats struct {
	Entries       int       `json:"entries"`
	Warm          bool      `json:"warm"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	LastSyncAt    time.Time `json:"last_sync_at,omitempty"`
	LastSyncError string    `json:"last_sync_error,omitempty"`
}

// Registry is the two-tier model cache. One instance per process.
type Registry struct {
	store   Store
	catalog Catalog
	config  Config
	metrics *metrics.Metrics
	logger  *utils.Logger
	now     func() time.Time

	mu        sync.RWMutex
	byID      map[string]*models.Model
	ordered   []*models.Model
	expiresAt time.Time

	statsMu       sync.Mutex
	lastSyncAt    time.Time
	lastSyncError string

	flights    singleflight.Group
	background sync.WaitGroup
}

// New creates a registry. m may be nil.
func New(store Store, upstream Catalog, config Config, m *metrics.Metrics) *Registry {
	if config.MemoryTTL <= 0 {
		config.MemoryTTL = DefaultMemoryTTL
	}
	if config.StoreTTL <= 0 {
		config.StoreTTL = DefaultStoreTTL
	}
	if config.SyncBatchSize <= 0 {
		config.SyncBatchSize = DefaultSyncBatchSize
	}

	return &Registry{
		store:   store,
		catalog: upstream,
		config:  config,
		metrics: m,
		logger:  utils.NewLogger("registry"),
		now:     time.Now,
	}
}

// GetModel returns the active model with the given ID, or nil if there is
// none. An error is returned only when the backing store fails and nothing
// is cached.
func (r *Registry) GetModel(ctx context.Context, id string) (*models.Model, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	if model, found, warm := r.lookup(id); warm {
		return r.fromMirror(model, found)
	}

	if err := r.ensureLoaded(ctx); err != nil {
		if err = readError(err); err != nil {
			return nil, err
		}
	}

	// A warm mirror holds every active model, so a miss there is final.
	// Only a mirror that could not be reloaded defers to the store.
	model, found, warm := r.lookup(id)
	if found || warm {
		return r.fromMirror(model, found)
	}
	return r.lookupStore(ctx, id, r.hasData())
}

func (r *Registry) fromMirror(model *models.Model, found bool) (*models.Model, error) {
	if !found {
		r.metrics.RecordLookup(metrics.LookupMiss)
		return nil, nil
	}
	r.metrics.RecordLookup(metrics.LookupHit)
	return model, nil
}

// GetModels returns every active model, most recently synced first.
func (r *Registry) GetModels(ctx context.Context, opts GetOptions) ([]*models.Model, error) {
	if opts.ForceRefresh {
		// The sync already reloaded the mirror or fell back to the store;
		// loading again would sync a second time on an empty store.
		if err := r.SyncModels(ctx); err != nil {
			if err = readError(err); err != nil {
				return nil, err
			}
		}
		return r.snapshot(), nil
	}

	if err := r.ensureLoaded(ctx); err != nil {
		if err = readError(err); err != nil {
			return nil, err
		}
	}
	return r.snapshot(), nil
}

func (r *Registry) snapshot() []*models.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Model, 0, len(r.ordered))
	for _, m := range r.ordered {
		out = append(out, m.Clone())
	}
	return out
}

// SyncModels performs a full upstream sync, joining one already in flight.
func (r *Registry) SyncModels(ctx context.Context) error {
	ch := r.flights.DoChan(flightSync, func() (interface{}, error) {
		return nil, r.runSync(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearCache drops the in-memory mirror; the next read reloads it.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = nil
	r.ordered = nil
	r.expiresAt = time.Time{}
	r.metrics.SetActiveModels(0)
}

// Wait blocks until background syncs started so far have finished.
func (r *Registry) Wait() {
	r.background.Wait()
}

// Stats returns a snapshot of the registry state
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	stats := Stats{
		Entries:   len(r.ordered),
		Warm:      r.byID != nil && r.now().Before(r.expiresAt),
		ExpiresAt: r.expiresAt,
	}
	r.mu.RUnlock()

	r.statsMu.Lock()
	stats.LastSyncAt = r.lastSyncAt
	stats.LastSyncError = r.lastSyncError
	r.statsMu.Unlock()
	return stats
}

// lookup reads the mirror. warm is false when the mirror is cold or expired;
// found reports a hit in whatever the mirror holds.
func (r *Registry) lookup(id string) (model *models.Model, found bool, warm bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	warm = r.byID != nil && r.now().Before(r.expiresAt)
	if m, ok := r.byID[id]; ok {
		return m.Clone(), true, warm
	}
	return nil, false, warm
}

func (r *Registry) hasData() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered) > 0
}

func (r *Registry) isWarm() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID != nil && r.now().Before(r.expiresAt)
}

// lookupStore falls back to a single-row read when the mirror could not be
// reloaded. The mirror is not patched. Store failures are only surfaced when
// nothing is cached.
func (r *Registry) lookupStore(ctx context.Context, id string, cached bool) (*models.Model, error) {
	model, err := r.store.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrModelNotFound):
		r.metrics.RecordLookup(metrics.LookupMiss)
		return nil, nil
	case err != nil:
		if cached {
			r.logger.Warn("Store lookup failed, treating model as absent", "model", id, "error", err)
			r.metrics.RecordLookup(metrics.LookupMiss)
			return nil, nil
		}
		return nil, apperrors.BackingStore("failed to look up model", err)
	case model == nil || !model.IsActive:
		r.metrics.RecordLookup(metrics.LookupMiss)
		return nil, nil
	}
	r.metrics.RecordLookup(metrics.LookupStore)
	return model, nil
}

// ensureLoaded reloads a cold or expired mirror through a coalesced load.
func (r *Registry) ensureLoaded(ctx context.Context) error {
	if r.isWarm() {
		return nil
	}
	ch := r.flights.DoChan(flightLoad, func() (interface{}, error) {
		if r.isWarm() {
			return nil, nil
		}
		return nil, r.load(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load refreshes the mirror from the backing store.
func (r *Registry) load(ctx context.Context) error {
	rows, err := r.store.ListActive(ctx)
	if err != nil {
		r.metrics.RecordStoreLoad("error")
		if r.hasData() {
			r.logger.Warn("Store load failed, serving cached models", "error", err)
			return nil
		}
		return apperrors.BackingStore("failed to load models", err)
	}

	if len(rows) == 0 {
		r.metrics.RecordStoreLoad("empty")
		r.logger.Info("Backing store is empty, syncing from upstream")
		return r.SyncModels(ctx)
	}

	r.metrics.RecordStoreLoad("ok")
	r.install(rows)

	if newest := newestSync(rows); r.now().Sub(newest) > r.config.StoreTTL {
		r.logger.Info("Backing store is stale, syncing in background", "last_synced_at", newest)
		r.syncInBackground()
	}
	return nil
}

// syncInBackground starts (or joins) a sync without waiting for it.
func (r *Registry) syncInBackground() {
	r.background.Add(1)
	ch := r.flights.DoChan(flightSync, func() (interface{}, error) {
		return nil, r.runSync(context.Background())
	})
	go func() {
		defer r.background.Done()
		if res := <-ch; res.Err != nil {
			r.logger.Warn("Background sync failed", "error", res.Err)
		}
	}()
}

// install swaps in a new mirror built from rows; the first row per ID wins.
func (r *Registry) install(rows []*models.Model) {
	byID := make(map[string]*models.Model, len(rows))
	ordered := make([]*models.Model, 0, len(rows))
	for _, m := range rows {
		if m == nil || !m.IsActive {
			continue
		}
		if _, dup := byID[m.ID]; dup {
			continue
		}
		byID[m.ID] = m
		ordered = append(ordered, m)
	}

	r.mu.Lock()
	r.byID = byID
	r.ordered = ordered
	r.expiresAt = r.now().Add(r.config.MemoryTTL)
	r.mu.Unlock()

	r.metrics.SetActiveModels(len(ordered))
}

func newestSync(rows []*models.Model) time.Time {
	var newest time.Time
	for _, m := range rows {
		if m.LastSyncedAt.After(newest) {
			newest = m.LastSyncedAt
		}
	}
	return newest
}

// readError decides which failures a read surfaces. Upstream failures are
// absorbed since reads fall back to whatever is available.
func readError(err error) error {
	switch {
	case err == nil:
		return nil
	case apperrors.Is(err, apperrors.KindBackingStore):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if _, typed := apperrors.As(err); typed {
			return nil
		}
		return err
	default:
		return nil
	}
}
