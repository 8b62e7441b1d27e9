package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"model_registry/internal/models"
)

const modelColumns = `
	id, name, description, context_length, max_completion_tokens,
	modality, input_modalities, output_modalities, tokenizer, supported_parameters,
	pricing_prompt AS "pricing.prompt",
	pricing_completion AS "pricing.completion",
	pricing_request AS "pricing.request",
	pricing_image AS "pricing.image",
	is_active, last_synced_at, created_at, updated_at`

// ModelRepository persists the model catalog mirror
type ModelRepository struct {
	db *DB
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{db: db}
}

// ListActive returns every active model, most recently synced first
func (r *ModelRepository) ListActive(ctx context.Context) ([]*models.Model, error) {
	query := r.db.conn.Rebind(`SELECT` + modelColumns + `
		FROM models
		WHERE is_active = ?
		ORDER BY last_synced_at DESC, id ASC`)

	var rows []*models.Model
	if err := r.db.conn.SelectContext(ctx, &rows, query, true); err != nil {
		return nil, fmt.Errorf("failed to list active models: %w", err)
	}
	return rows, nil
}

// Get retrieves a model by ID regardless of its active flag
func (r *ModelRepository) Get(ctx context.Context, id string) (*models.Model, error) {
	query := r.db.conn.Rebind(`SELECT` + modelColumns + ` FROM models WHERE id = ?`)

	var model models.Model
	err := r.db.conn.GetContext(ctx, &model, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &model, nil
}

// Upsert inserts a model or overwrites every mutable field of an existing
// one. created_at is kept on update.
func (r *ModelRepository) Upsert(ctx context.Context, model *models.Model) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	row := *model
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	row.LastSyncedAt = row.LastSyncedAt.UTC().Truncate(time.Microsecond)
	row.CreatedAt = row.CreatedAt.UTC().Truncate(time.Microsecond)

	query := `
		INSERT INTO models (
			id, name, description, context_length, max_completion_tokens,
			modality, input_modalities, output_modalities, tokenizer, supported_parameters,
			pricing_prompt, pricing_completion, pricing_request, pricing_image,
			is_active, last_synced_at, created_at, updated_at
		) VALUES (
			:id, :name, :description, :context_length, :max_completion_tokens,
			:modality, :input_modalities, :output_modalities, :tokenizer, :supported_parameters,
			:pricing.prompt, :pricing.completion, :pricing.request, :pricing.image,
			:is_active, :last_synced_at, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			context_length = excluded.context_length,
			max_completion_tokens = excluded.max_completion_tokens,
			modality = excluded.modality,
			input_modalities = excluded.input_modalities,
			output_modalities = excluded.output_modalities,
			tokenizer = excluded.tokenizer,
			supported_parameters = excluded.supported_parameters,
			pricing_prompt = excluded.pricing_prompt,
			pricing_completion = excluded.pricing_completion,
			pricing_request = excluded.pricing_request,
			pricing_image = excluded.pricing_image,
			is_active = excluded.is_active,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`

	if _, err := r.db.conn.NamedExecContext(ctx, query, &row); err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", model.ID, err)
	}
	return nil
}

// ListActiveIDs returns the IDs of every active model
func (r *ModelRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	query := r.db.conn.Rebind(`SELECT id FROM models WHERE is_active = ? ORDER BY id`)

	var ids []string
	if err := r.db.conn.SelectContext(ctx, &ids, query, true); err != nil {
		return nil, fmt.Errorf("failed to list active model ids: %w", err)
	}
	return ids, nil
}

// Deactivate soft-deletes the given models, stamping them with at. Only
// active rows are touched; the number of rows flipped is returned.
func (r *ModelRepository) Deactivate(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	at = at.UTC().Truncate(time.Microsecond)

	query, args, err := sqlx.In(`
		UPDATE models
		SET is_active = ?, last_synced_at = ?, updated_at = ?
		WHERE is_active = ? AND id IN (?)`,
		false, at, at, true, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to build deactivate query: %w", err)
	}

	result, err := r.db.conn.ExecContext(ctx, r.db.conn.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate models: %w", err)
	}
	return result.RowsAffected()
}

// CountActive returns the number of active models
func (r *ModelRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	query := r.db.conn.Rebind(`SELECT COUNT(*) FROM models WHERE is_active = ?`)
	if err := r.db.conn.GetContext(ctx, &count, query, true); err != nil {
		return 0, fmt.Errorf("failed to count models: %w", err)
	}
	return count, nil
}
