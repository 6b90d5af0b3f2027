package quota

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBucket(t *testing.T, maxCalls int, window time.Duration) (*RedisIPBucket, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisIPBucket("redis://"+mr.Addr(), maxCalls, window)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestRedisIPBucketAllowsWithinLimit(t *testing.T) {
	b, _ := newTestRedisBucket(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.NoError(t, b.Check("10.0.0.1"))
	}

	err := b.Check("10.0.0.1")
	rle, ok := AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, CodeIPRateLimit, rle.Code)
	assert.True(t, rle.ResetAt.After(time.Now()))

	// Other addresses have their own window.
	assert.NoError(t, b.Check("10.0.0.2"))
}

func TestRedisIPBucketWindowReset(t *testing.T) {
	b, mr := newTestRedisBucket(t, 1, time.Minute)

	require.NoError(t, b.Check("10.0.0.1"))
	require.Error(t, b.Check("10.0.0.1"))

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, b.Check("10.0.0.1"))
}

func TestRedisIPBucketFailsOpen(t *testing.T) {
	b, mr := newTestRedisBucket(t, 1, time.Minute)
	mr.Close()

	assert.NoError(t, b.Check("10.0.0.1"))
}
