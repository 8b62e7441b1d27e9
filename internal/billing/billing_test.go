package billing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNoopService(t *testing.T) {
	service := NewNoopService()
	ctx := context.Background()

	require.NoError(t, service.AddUsage(ctx, "summarizer", d("10.5")))

	spent, err := service.MonthlySpending(ctx, "summarizer")
	require.NoError(t, err)
	assert.True(t, spent.IsZero())
}

func TestRedisService_AddUsage(t *testing.T) {
	mr, client := setupRedis(t)
	service := NewRedisService(client)
	service.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, service.AddUsage(ctx, "summarizer", d("0.25")))
	require.NoError(t, service.AddUsage(ctx, "summarizer", d("0.5")))
	require.NoError(t, service.AddUsage(ctx, "translator", d("1")))

	spent, err := service.MonthlySpending(ctx, "summarizer")
	require.NoError(t, err)
	assert.True(t, spent.Equal(d("0.75")), "spent %s", spent)

	assert.True(t, mr.Exists("spend:summarizer:2026:03"))
	assert.Greater(t, mr.TTL("spend:summarizer:2026:03"), time.Duration(0))

	other, err := service.Spending(ctx, "translator", 2026, 3)
	require.NoError(t, err)
	assert.True(t, other.Equal(decimal.NewFromInt(1)))
}

func TestRedisService_ZeroCostIsSkipped(t *testing.T) {
	mr, client := setupRedis(t)
	service := NewRedisService(client)

	require.NoError(t, service.AddUsage(context.Background(), "summarizer", decimal.Zero))
	assert.Empty(t, mr.Keys())
}

func TestRedisService_MissingMonth(t *testing.T) {
	_, client := setupRedis(t)
	service := NewRedisService(client)

	spent, err := service.Spending(context.Background(), "nobody", 2020, 1)
	require.NoError(t, err)
	assert.True(t, spent.IsZero())
}

func TestRedisService_Reset(t *testing.T) {
	_, client := setupRedis(t)
	service := NewRedisService(client)
	ctx := context.Background()

	require.NoError(t, service.AddUsage(ctx, "summarizer", d("3")))
	require.NoError(t, service.ResetMonthlySpending(ctx, "summarizer"))

	spent, err := service.MonthlySpending(ctx, "summarizer")
	require.NoError(t, err)
	assert.True(t, spent.IsZero())
}

func TestRedisService_SmallCostsAccumulateExactly(t *testing.T) {
	mr, client := setupRedis(t)
	service := NewRedisService(client)
	service.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	// 0.1 and 0.2 do not sum exactly as floats.
	require.NoError(t, service.AddUsage(ctx, "summarizer", d("0.1")))
	require.NoError(t, service.AddUsage(ctx, "summarizer", d("0.2")))
	for i := 0; i < 1000; i++ {
		require.NoError(t, service.AddUsage(ctx, "summarizer", d("0.0000015")))
	}

	spent, err := service.MonthlySpending(ctx, "summarizer")
	require.NoError(t, err)
	assert.True(t, spent.Equal(d("0.3015")), "spent %s", spent)

	raw, err := mr.Get("spend:summarizer:2026:03")
	require.NoError(t, err)
	assert.Equal(t, "301500000", raw)
}

func TestRedisService_SubUnitCostIsSkipped(t *testing.T) {
	mr, client := setupRedis(t)
	service := NewRedisService(client)

	require.NoError(t, service.AddUsage(context.Background(), "summarizer", d("0.0000000001")))
	assert.Empty(t, mr.Keys())
}

func TestRedisService_CorruptCounter(t *testing.T) {
	mr, client := setupRedis(t)
	service := NewRedisService(client)
	service.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, mr.Set("spend:summarizer:2026:03", "not-a-number"))

	_, err := service.MonthlySpending(context.Background(), "summarizer")
	assert.Error(t, err)
}
