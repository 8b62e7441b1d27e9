package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model_registry/internal/models"
	"model_registry/internal/utils"
)

func testUsage(pluginID string, createdAt time.Time, cost string) *models.UsageRecord {
	total := decimal.RequireFromString(cost)
	return &models.UsageRecord{
		PluginID:         pluginID,
		UserID:           utils.Ptr("user-1"),
		ModelID:          "openai/gpt-4o",
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
		PromptCost:       total,
		CompletionCost:   decimal.Zero,
		TotalCost:        total,
		DurationMs:       420,
		Status:           models.UsageStatusSuccess,
		Metadata:         models.JSONB{"source": "test"},
		CreatedAt:        createdAt,
	}
}

func TestUsageRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageRepository()
	ctx := context.Background()

	record := testUsage("summarizer", time.Now(), "0.000000000001")
	record.ErrorMessage = utils.Ptr("none")
	require.NoError(t, repo.Create(ctx, record))
	require.NotEqual(t, uuid.Nil, record.ID)

	got, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "summarizer", got.PluginID)
	assert.Equal(t, "user-1", utils.StringPtrValue(got.UserID))
	assert.Nil(t, got.TenantID)
	assert.Equal(t, 150, got.TotalTokens)
	assert.True(t, got.TotalCost.Equal(decimal.RequireFromString("0.000000000001")))
	assert.Equal(t, models.UsageStatusSuccess, got.Status)
	assert.Equal(t, "test", got.Metadata["source"])
	assert.Equal(t, "none", utils.StringPtrValue(got.ErrorMessage))

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUsageRecordNotFound)
}

func TestUsageRepository_CreateBatchIsAtomic(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageRepository()
	ctx := context.Background()
	now := time.Now()

	first := testUsage("summarizer", now, "1")
	require.NoError(t, repo.CreateBatch(ctx, []*models.UsageRecord{first, testUsage("summarizer", now, "2")}))

	// a duplicate id fails the whole batch
	dup := testUsage("summarizer", now, "3")
	dup.ID = first.ID
	err := repo.CreateBatch(ctx, []*models.UsageRecord{testUsage("summarizer", now, "4"), dup})
	require.Error(t, err)

	records, err := repo.List(ctx, UsageFilter{PluginID: "summarizer"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, repo.CreateBatch(ctx, nil))
}

func TestUsageRepository_ListFilters(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageRepository()
	ctx := context.Background()
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	a := testUsage("summarizer", day.Add(time.Hour), "1")
	b := testUsage("translator", day.Add(2*time.Hour), "2")
	b.UserID = utils.Ptr("user-2")
	b.TenantID = utils.Ptr("acme")
	c := testUsage("summarizer", day.Add(26*time.Hour), "3")
	for _, r := range []*models.UsageRecord{a, b, c} {
		require.NoError(t, repo.Create(ctx, r))
	}

	byPlugin, err := repo.List(ctx, UsageFilter{PluginID: "summarizer"})
	require.NoError(t, err)
	require.Len(t, byPlugin, 2)
	assert.Equal(t, a.ID, byPlugin[0].ID)

	byTenant, err := repo.List(ctx, UsageFilter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, byTenant, 1)
	assert.Equal(t, b.ID, byTenant[0].ID)

	byUser, err := repo.List(ctx, UsageFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	firstDay, err := repo.List(ctx, UsageFilter{From: day, To: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, firstDay, 2)

	limited, err := repo.List(ctx, UsageFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUsageRepository_UnparsableCostReadsAsZero(t *testing.T) {
	db := newTestDB(t)
	repo := db.NewUsageRepository()
	ctx := context.Background()

	record := testUsage("summarizer", time.Now(), "5")
	require.NoError(t, repo.Create(ctx, record))

	_, err := db.Conn().ExecContext(ctx, `UPDATE usage_records SET total_cost = 'n/a' WHERE id = ?`, record.ID.String())
	require.NoError(t, err)

	records, err := repo.List(ctx, UsageFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].TotalCost.IsZero())
	assert.True(t, records[0].PromptCost.Equal(decimal.NewFromInt(5)))
}
