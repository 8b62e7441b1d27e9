package registry

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"model_registry/internal/apperrors"
	"model_registry/internal/models"
)

// runSync runs one sync and applies the failure policy: a populated mirror
// keeps serving, an empty one gets a second chance from the backing store.
func (r *Registry) runSync(ctx context.Context) error {
	start := r.now()
	err := r.syncOnce(ctx)
	elapsed := r.now().Sub(start)
	r.metrics.RecordSync(err, elapsed)

	r.statsMu.Lock()
	if err == nil {
		r.lastSyncAt = start
		r.lastSyncError = ""
	} else {
		r.lastSyncError = err.Error()
	}
	r.statsMu.Unlock()

	if err == nil {
		r.logger.Info("Model sync completed", "duration", elapsed.String())
		return nil
	}

	if r.hasData() {
		r.logger.Warn("Model sync failed, serving cached models", "error", err)
		return nil
	}

	rows, loadErr := r.store.ListActive(ctx)
	switch {
	case loadErr != nil:
		r.logger.Error("Model sync failed and backing store is unreadable", "error", err, "store_error", loadErr)
		return apperrors.BackingStore("failed to load models after sync failure", loadErr)
	case len(rows) > 0:
		r.logger.Warn("Model sync failed, serving models from backing store", "error", err)
		r.install(rows)
		return nil
	default:
		r.logger.Error("Model sync failed and no models are available anywhere", "error", err)
		return err
	}
}

// syncOnce fetches the upstream catalog and reconciles it into the store,
// then rebuilds the mirror from the store.
func (r *Registry) syncOnce(ctx context.Context) error {
	raw, err := r.catalog.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("fetching catalog: %w", err)
	}

	fetched := make([]*models.Model, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		m, ok := toModel(item)
		if !ok {
			r.logger.Debug("Skipping catalog entry without id", "name", item.Name)
			continue
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		fetched = append(fetched, m)
	}

	previous, err := r.store.ListActiveIDs(ctx)
	if err != nil {
		return apperrors.BackingStore("failed to list active models", err)
	}
	if len(fetched) == 0 && (r.hasData() || len(previous) > 0) {
		return ErrEmptyCatalog
	}

	now := r.now().UTC().Truncate(time.Microsecond)
	failed := r.upsertAll(ctx, fetched, now)

	var missing []string
	for _, id := range previous {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		n, err := r.store.Deactivate(ctx, missing, now)
		if err != nil {
			return apperrors.BackingStore("failed to deactivate models", err)
		}
		r.logger.Info("Deactivated models missing from catalog", "count", n)
	}

	wasPopulated := r.hasData()
	rows, err := r.store.ListActive(ctx)
	if err != nil {
		return apperrors.BackingStore("failed to reload models", err)
	}
	if len(rows) == 0 && wasPopulated {
		return ErrEmptyReload
	}
	r.install(rows)

	r.logger.Info("Reconciled catalog",
		"fetched", len(fetched),
		"failed", failed,
		"deactivated", len(missing),
		"active", len(rows))
	return nil
}

// upsertAll writes models in batches, concurrently within a batch. It
// returns the number of models that failed and were skipped.
func (r *Registry) upsertAll(ctx context.Context, fetched []*models.Model, now time.Time) int {
	failed := 0
	for start := 0; start < len(fetched); start += r.config.SyncBatchSize {
		end := min(start+r.config.SyncBatchSize, len(fetched))
		batch := fetched[start:end]
		errs := make([]error, len(batch))

		var g errgroup.Group
		for i, m := range batch {
			m.IsActive = true
			m.LastSyncedAt = now
			g.Go(func() error {
				errs[i] = r.store.Upsert(ctx, m)
				return nil
			})
		}
		_ = g.Wait()

		for i, err := range errs {
			if err != nil {
				failed++
				r.logger.Warn("Failed to upsert model", "model", batch[i].ID, "error", err)
			}
		}
	}
	return failed
}
