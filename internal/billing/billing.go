package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Service keeps running spend totals per plugin per calendar month.
type Service interface {
	AddUsage(ctx context.Context, pluginID string, cost decimal.Decimal) error
	MonthlySpending(ctx context.Context, pluginID string) (decimal.Decimal, error)
}

// NoopService discards usage.
type NoopService struct{}

func NewNoopService() *NoopService {
	return &NoopService{}
}

func (s *NoopService) AddUsage(ctx context.Context, pluginID string, cost decimal.Decimal) error {
	return nil
}

func (s *NoopService) MonthlySpending(ctx context.Context, pluginID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// spendTTL keeps a month's counter around long enough to be read next month.
const spendTTL = 60 * 24 * time.Hour

// spendScale is the decimal exponent of one counter unit. Counters hold
// integer nano-dollars; cost below one unit is rounded half away from zero.
const spendScale = 9

// RedisService tracks spend in Redis counters keyed by plugin and month.
type RedisService struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRedisService creates a new spend tracker
func NewRedisService(client *redis.Client) *RedisService {
	return &RedisService{
		redis: client,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddUsage adds cost to the running total of the current month.
func (s *RedisService) AddUsage(ctx context.Context, pluginID string, cost decimal.Decimal) error {
	if cost.IsZero() {
		return nil
	}
	units := cost.Shift(spendScale).Round(0).IntPart()
	if units == 0 {
		return nil
	}
	now := s.now()
	key := s.monthlyKey(pluginID, now.Year(), int(now.Month()))

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, units)
		pipe.Expire(ctx, key, spendTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	return nil
}

// MonthlySpending returns the current month's spending for a plugin
func (s *RedisService) MonthlySpending(ctx context.Context, pluginID string) (decimal.Decimal, error) {
	now := s.now()
	return s.Spending(ctx, pluginID, now.Year(), int(now.Month()))
}

// Spending returns spending for a specific month
func (s *RedisService) Spending(ctx context.Context, pluginID string, year int, month int) (decimal.Decimal, error) {
	key := s.monthlyKey(pluginID, year, month)

	units, err := s.redis.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get spending: %w", err)
	}
	return decimal.New(units, -spendScale), nil
}

// ResetMonthlySpending clears the current month's counter.
func (s *RedisService) ResetMonthlySpending(ctx context.Context, pluginID string) error {
	now := s.now()
	key := s.monthlyKey(pluginID, now.Year(), int(now.Month()))
	return s.redis.Del(ctx, key).Err()
}

// monthlyKey generates the Redis key for monthly spending
func (s *RedisService) monthlyKey(pluginID string, year int, month int) string {
	return fmt.Sprintf("spend:%s:%d:%02d", pluginID, year, month)
}
