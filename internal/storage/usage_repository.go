package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"model_registry/internal/models"
)

const insertUsageQuery = `
	INSERT INTO usage_records (
		id, plugin_id, tenant_id, user_id, model_id,
		prompt_tokens, completion_tokens, total_tokens,
		prompt_cost, completion_cost, total_cost,
		duration_ms, status, error_message, metadata, created_at
	) VALUES (
		:id, :plugin_id, :tenant_id, :user_id, :model_id,
		:prompt_tokens, :completion_tokens, :total_tokens,
		:prompt_cost, :completion_cost, :total_cost,
		:duration_ms, :status, :error_message, :metadata, :created_at
	)`

// usageRow reads cost columns as text so a bad value zeroes one row
// instead of failing the whole scan.
type usageRow struct {
	ID               string         `db:"id"`
	PluginID         string         `db:"plugin_id"`
	TenantID         sql.NullString `db:"tenant_id"`
	UserID           sql.NullString `db:"user_id"`
	ModelID          string         `db:"model_id"`
	PromptTokens     int            `db:"prompt_tokens"`
	CompletionTokens int            `db:"completion_tokens"`
	TotalTokens      int            `db:"total_tokens"`
	PromptCost       sql.NullString `db:"prompt_cost"`
	CompletionCost   sql.NullString `db:"completion_cost"`
	TotalCost        sql.NullString `db:"total_cost"`
	DurationMs       int64          `db:"duration_ms"`
	Status           string         `db:"status"`
	ErrorMessage     sql.NullString `db:"error_message"`
	Metadata         models.JSONB   `db:"metadata"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r usageRow) toRecord() *models.UsageRecord {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		id = uuid.Nil
	}
	return &models.UsageRecord{
		ID:               id,
		PluginID:         r.PluginID,
		TenantID:         nullStringPtr(r.TenantID),
		UserID:           nullStringPtr(r.UserID),
		ModelID:          r.ModelID,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		PromptCost:       models.ParseDecimalOrZero(r.PromptCost.String),
		CompletionCost:   models.ParseDecimalOrZero(r.CompletionCost.String),
		TotalCost:        models.ParseDecimalOrZero(r.TotalCost.String),
		DurationMs:       r.DurationMs,
		Status:           models.UsageStatus(r.Status),
		ErrorMessage:     nullStringPtr(r.ErrorMessage),
		Metadata:         r.Metadata,
		CreatedAt:        r.CreatedAt,
	}
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// UsageFilter narrows a usage listing. Empty fields don't filter.
type UsageFilter struct {
	PluginID string
	UserID   string
	TenantID string
	From     time.Time // inclusive
	To       time.Time // exclusive
	Limit    int
}

// UsageRepository handles usage record database operations. Records are
// insert-only.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func prepareUsage(record *models.UsageRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = record.CreatedAt.UTC().Truncate(time.Microsecond)
}

// Create inserts a single usage record
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	prepareUsage(record)
	if _, err := r.db.conn.NamedExecContext(ctx, insertUsageQuery, record); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// CreateBatch inserts records in a single transaction; either all land or none.
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		prepareUsage(record)
		if _, err := tx.NamedExecContext(ctx, insertUsageQuery, record); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", record.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a usage record by ID
func (r *UsageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	var row usageRow
	query := r.db.conn.Rebind(`SELECT * FROM usage_records WHERE id = ?`)
	if err := r.db.conn.GetContext(ctx, &row, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUsageRecordNotFound
		}
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return row.toRecord(), nil
}

// List returns usage records matching filter, oldest first
func (r *UsageRepository) List(ctx context.Context, filter UsageFilter) ([]*models.UsageRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.PluginID != "" {
		where = append(where, "plugin_id = ?")
		args = append(args, filter.PluginID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.To.UTC())
	}

	var b strings.Builder
	b.WriteString(`SELECT * FROM usage_records`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at ASC, id ASC")
	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}

	var rows []usageRow
	if err := r.db.conn.SelectContext(ctx, &rows, r.db.conn.Rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	records := make([]*models.UsageRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}
