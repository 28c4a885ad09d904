package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCostMirror_AccumulatesPerMonth(t *testing.T) {
	mr, client := setupTestRedis(t)
	m := NewRedisCostMirror(client)
	m.now = func() time.Time { return time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	march := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	for _, agent := range []string{"a1", "a1", "a2", ""} {
		rec := testRecord("r-" + agent)
		rec.AgentID = agent
		rec.CostUSD = 0.25
		rec.CreatedAt = march
		require.NoError(t, m.Persist(ctx, rec))
	}
	feb := testRecord("old")
	feb.CostUSD = 9
	feb.CreatedAt = time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC)
	require.NoError(t, m.Persist(ctx, feb))

	spent, err := m.MonthlySpending(ctx, "t1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, spent, 1e-9)

	spent, err = m.Spending(ctx, "t1", 2025, 2)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, spent, 1e-9)

	u, err := m.Usage(ctx, "t1", 2025, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), u.Requests)
	assert.Equal(t, int64(600), u.Tokens)
	assert.InDelta(t, 0.5, u.AgentCosts["a1"], 1e-9)
	assert.InDelta(t, 0.25, u.AgentCosts["a2"], 1e-9)
	assert.InDelta(t, 0.25, u.AgentCosts["default"], 1e-9)

	assert.Greater(t, mr.TTL("cost:t1:2025:03"), 59*24*time.Hour)
}

func TestRedisCostMirror_UnknownTenant(t *testing.T) {
	_, client := setupTestRedis(t)
	m := NewRedisCostMirror(client)

	spent, err := m.MonthlySpending(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, spent)

	u, err := m.Usage(context.Background(), "nobody", 2025, 1)
	require.NoError(t, err)
	assert.Zero(t, u.Requests)
	assert.Nil(t, u.AgentCosts)
}

func TestRedisCostMirror_Reset(t *testing.T) {
	_, client := setupTestRedis(t)
	m := NewRedisCostMirror(client)
	ctx := context.Background()

	rec := testRecord("r1")
	rec.CreatedAt = time.Time{}
	require.NoError(t, m.Persist(ctx, rec))

	spent, err := m.MonthlySpending(ctx, "t1")
	require.NoError(t, err)
	assert.InDelta(t, 0.0004, spent, 1e-9)

	require.NoError(t, m.ResetMonthlySpending(ctx, "t1"))
	spent, err = m.MonthlySpending(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, spent)
}

func TestRedisCostMirror_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	m := NewRedisCostMirror(client)
	mr.Close()

	err := m.Persist(context.Background(), testRecord("r1"))
	assert.Error(t, err)
}
