// Package cache keeps derived plot data in Redis and publishes reminders the
// messaging bot consumes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	NotificationChannel = "notifications:daily"
	DefaultSummaryTTL   = 24 * time.Hour
	summaryKeyPrefix    = "plot:summary:"
)

type Redis struct {
	client     *redis.Client
	channel    string
	summaryTTL time.Duration
	now        func() time.Time
}

func New(client *redis.Client) *Redis {
	return &Redis{
		client:     client,
		channel:    NotificationChannel,
		summaryTTL: DefaultSummaryTTL,
		now:        time.Now,
	}
}

// Dial builds a client from connection settings and checks it answers.
func Dial(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client), nil
}

func (c *Redis) Close() error { return c.client.Close() }

func SummaryKey(plotID string) string { return summaryKeyPrefix + plotID }

func (c *Redis) PutPlotSummary(ctx context.Context, plotID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return c.client.Set(ctx, SummaryKey(plotID), b, c.summaryTTL).Err()
}

func (c *Redis) InvalidatePlotSummaries(ctx context.Context, plotIDs ...string) error {
	if len(plotIDs) == 0 {
		return nil
	}
	keys := make([]string, len(plotIDs))
	for i, id := range plotIDs {
		keys[i] = SummaryKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Notification is the message published on the notification channel.
type Notification struct {
	UserID string    `json:"userId"`
	ChatID string    `json:"chatId"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

func (c *Redis) Notify(ctx context.Context, userID, chatID, text string) error {
	b, err := json.Marshal(Notification{
		UserID: userID,
		ChatID: chatID,
		Text:   text,
		SentAt: c.now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.channel, b).Err()
}
