package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"model_registry/internal/catalog"
	"model_registry/internal/models"
	"model_registry/internal/storage"
)

// fakeStore is an in-memory Store with failure injection and call counters.
type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]*models.Model
	listErr   error
	getErr    error
	upsertErr map[string]error

	listCalls   atomic.Int32
	getCalls    atomic.Int32
	upsertCalls atomic.Int32
}

func newFakeStore(rows ...*models.Model) *fakeStore {
	s := &fakeStore{rows: make(map[string]*models.Model), upsertErr: make(map[string]error)}
	for _, m := range rows {
		s.rows[m.ID] = m.Clone()
	}
	return s
}

func (s *fakeStore) ListActive(ctx context.Context) ([]*models.Model, error) {
	s.listCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Model
	for _, m := range s.rows {
		if m.IsActive {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSyncedAt.Equal(out[j].LastSyncedAt) {
			return out[i].LastSyncedAt.After(out[j].LastSyncedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*models.Model, error) {
	s.getCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	m, ok := s.rows[id]
	if !ok {
		return nil, storage.ErrModelNotFound
	}
	return m.Clone(), nil
}

func (s *fakeStore) Upsert(ctx context.Context, model *models.Model) error {
	s.upsertCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErr[model.ID]; err != nil {
		return err
	}
	s.rows[model.ID] = model.Clone()
	return nil
}

func (s *fakeStore) ListActiveIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var ids []string
	for id, m := range s.rows {
		if m.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeStore) Deactivate(ctx context.Context, ids []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if m, ok := s.rows[id]; ok && m.IsActive {
			m.IsActive = false
			m.LastSyncedAt = at
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) row(id string) *models.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.rows[id]; ok {
		return m.Clone()
	}
	return nil
}

func (s *fakeStore) setListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// fakeCatalog serves a configurable listing. When gate is set every call
// blocks until it is closed.
type fakeCatalog struct {
	mu    sync.Mutex
	items []catalog.RawModel
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func newFakeCatalog(ids ...string) *fakeCatalog {
	c := &fakeCatalog{}
	c.set(ids...)
	return c
}

func (c *fakeCatalog) ListModels(ctx context.Context) ([]catalog.RawModel, error) {
	c.calls.Add(1)
	c.mu.Lock()
	gate, items, err := c.gate, c.items, c.err
	c.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (c *fakeCatalog) set(ids ...string) {
	items := make([]catalog.RawModel, 0, len(ids))
	for _, id := range ids {
		items = append(items, catalog.RawModel{
			ID:   id,
			Name: id,
			Pricing: &catalog.RawPricing{
				Prompt:     "0.000001",
				Completion: "0.000002",
			},
		})
	}
	c.mu.Lock()
	c.items = items
	c.err = nil
	c.mu.Unlock()
}

func (c *fakeCatalog) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

var errUpstream = errors.New("upstream unavailable")

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(store Store, upstream Catalog, clk *clock) *Registry {
	r := New(store, upstream, DefaultConfig(), nil)
	r.now = clk.Now
	return r
}

func storedModel(id string, syncedAt time.Time) *models.Model {
	return &models.Model{
		ID:           id,
		Name:         id,
		Modality:     models.DefaultModality,
		IsActive:     true,
		LastSyncedAt: syncedAt,
	}
}

func ids(list []*models.Model) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	sort.Strings(out)
	return out
}
