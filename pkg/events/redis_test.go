package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://"+mr.Addr(), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRedisPublishSubscribe(t *testing.T) {
	b := newTestRedisBroker(t)

	ch, err := b.Subscribe(context.Background(), "debate:1", 0)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "debate:1",
		Event{Seq: 1, Type: EventTypeSeatMessage, Timestamp: time.Now(), Data: map[string]any{"seat_id": "s1", "content": "pro"}}))
	require.NoError(t, b.Publish(context.Background(), "debate:1",
		Event{Seq: 2, Type: EventTypeFinal, Timestamp: time.Now(), Data: map[string]any{"content": "done"}}))

	got := collect(t, ch, 3*time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, EventTypeSeatMessage, got[0].Type)
	assert.Equal(t, "s1", got[0].Data["seat_id"])
	assert.Equal(t, int64(2), got[1].Seq)
	assert.Equal(t, EventTypeFinal, got[1].Type)
}

func TestRedisSubscribeIdleTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://"+mr.Addr(), 50*time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	ch, err := b.Subscribe(context.Background(), "debate:1", 0)
	require.NoError(t, err)
	got := collect(t, ch, 2*time.Second)
	assert.Empty(t, got)
}

func TestRedisPing(t *testing.T) {
	b := newTestRedisBroker(t)
	assert.NoError(t, b.Ping(context.Background()))
}

func TestRedisEventRoundTrip(t *testing.T) {
	in := Event{Seq: 9, Type: EventTypeScore, Timestamp: time.Now().UTC(), Data: map[string]any{
		"round": float64(2), "scores": map[string]any{"optimist": 7.5},
	}}
	data, err := in.MarshalJSON()
	require.NoError(t, err)

	var out Event
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, in.Seq, out.Seq)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Data["round"], out.Data["round"])
}
