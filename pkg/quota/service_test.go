package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/store"
)

// memQuotaStore mirrors the SQL counter semantics in memory.
type memQuotaStore struct {
	quotas   map[string]*models.UsageQuota
	counters map[string]*models.UsageCounter
}

func newMemQuotaStore() *memQuotaStore {
	return &memQuotaStore{
		quotas:   make(map[string]*models.UsageQuota),
		counters: make(map[string]*models.UsageCounter),
	}
}

func key(userID string, period models.QuotaPeriod) string { return userID + "/" + string(period) }

func (m *memQuotaStore) GetQuota(_ context.Context, userID string, period models.QuotaPeriod) (*models.UsageQuota, error) {
	q, ok := m.quotas[key(userID, period)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return q, nil
}

func (m *memQuotaStore) GetCounter(_ context.Context, userID string, period models.QuotaPeriod) (*models.UsageCounter, error) {
	c, ok := m.counters[key(userID, period)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *memQuotaStore) BumpCounter(_ context.Context, userID string, period models.QuotaPeriod, runs, tokens int, windowStart time.Time) error {
	k := key(userID, period)
	c, ok := m.counters[k]
	if !ok || c.WindowStart.Before(windowStart) {
		c = &models.UsageCounter{UserID: userID, Period: period, WindowStart: windowStart}
		m.counters[k] = c
	}
	c.RunsUsed += runs
	c.TokensUsed += tokens
	return nil
}

func newTestService() (*Service, *memQuotaStore, *time.Time) {
	st := newMemQuotaStore()
	svc := NewService(st, Defaults{RunsPerHour: 3, TokensPerDay: 1000})
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, st, &now
}

func TestReserveRunSlotWithinLimit(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.ReserveRunSlot(ctx, "u1"))
	}
}

func TestReserveRunSlotRejectsAtLimit(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.ReserveRunSlot(ctx, "u1"))
	}

	err := svc.ReserveRunSlot(ctx, "u1")
	require.Error(t, err)
	rle, ok := AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, CodeRunsPerHour, rle.Code)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), rle.ResetAt)
}

func TestReserveRunSlotWindowResets(t *testing.T) {
	svc, _, now := newTestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.ReserveRunSlot(ctx, "u1"))
	}
	require.Error(t, svc.ReserveRunSlot(ctx, "u1"))

	// Counters reset exactly once after the window boundary.
	*now = now.Add(61 * time.Minute)
	assert.NoError(t, svc.ReserveRunSlot(ctx, "u1"))
}

func TestPerUserQuotaOverridesDefault(t *testing.T) {
	svc, st, _ := newTestService()
	ctx := context.Background()
	st.quotas[key("vip", models.PeriodHour)] = &models.UsageQuota{
		UserID: "vip", Period: models.PeriodHour, MaxRuns: 5,
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.ReserveRunSlot(ctx, "vip"))
	}
	require.Error(t, svc.ReserveRunSlot(ctx, "vip"))
}

func TestDailyTokenHeadroom(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.EnsureDailyTokenHeadroom(ctx, "u1"))
	require.NoError(t, svc.RecordTokenUsage(ctx, "u1", 1000))

	err := svc.EnsureDailyTokenHeadroom(ctx, "u1")
	require.Error(t, err)
	rle, ok := AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, CodeTokensPerDay, rle.Code)
}

func TestUsersAreIndependent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.ReserveRunSlot(ctx, "u1"))
	}
	assert.NoError(t, svc.ReserveRunSlot(ctx, "u2"))
}

func TestIPBucketAllowsWithinWindow(t *testing.T) {
	b := NewIPBucket(3, time.Minute)
	for i := 0; i < 3; i++ {
		ok, _ := b.Allow("10.0.0.1")
		assert.True(t, ok)
	}
	ok, retryAfter := b.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.GreaterOrEqual(t, retryAfter, 1)

	// Other IPs unaffected.
	ok, _ = b.Allow("10.0.0.2")
	assert.True(t, ok)
}

func TestIPBucketWindowExpires(t *testing.T) {
	b := NewIPBucket(1, time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	ok, _ := b.Allow("10.0.0.1")
	require.True(t, ok)
	ok, _ = b.Allow("10.0.0.1")
	require.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = b.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestIPBucketCheckReturnsRateLimitError(t *testing.T) {
	b := NewIPBucket(1, time.Minute)
	require.NoError(t, b.Check("10.0.0.1"))
	err := b.Check("10.0.0.1")
	require.Error(t, err)
	rle, ok := AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, CodeIPRateLimit, rle.Code)
	assert.GreaterOrEqual(t, rle.RetryAfter(time.Now()), 1)
}

func TestIPBucketSweep(t *testing.T) {
	b := NewIPBucket(1, time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Allow("10.0.0.1")
	now = now.Add(2 * time.Minute)
	b.Sweep()

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.counts)
}
