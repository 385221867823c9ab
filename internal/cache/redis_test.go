package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestPutAndInvalidatePlotSummary(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.PutPlotSummary(ctx, "p1", map[string]int{"activityCount": 4}))
	require.NoError(t, c.PutPlotSummary(ctx, "p2", map[string]int{"activityCount": 0}))

	got, err := mr.Get("plot:summary:p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"activityCount":4}`, got)
	assert.Equal(t, DefaultSummaryTTL, mr.TTL("plot:summary:p1"))

	require.NoError(t, c.InvalidatePlotSummaries(ctx, "p1", "p2", "missing"))
	assert.False(t, mr.Exists("plot:summary:p1"))
	assert.False(t, mr.Exists("plot:summary:p2"))

	require.NoError(t, c.InvalidatePlotSummaries(ctx))
}

func TestNotifyPublishesOnChannel(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC) }

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, NotificationChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Notify(ctx, "u1", "chat-1", "hello"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var n Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.Equal(t, Notification{
		UserID: "u1",
		ChatID: "chat-1",
		Text:   "hello",
		SentAt: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC),
	}, n)
}
