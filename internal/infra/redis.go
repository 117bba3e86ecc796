// Package infra provides the concrete Redis adapter shared by the pending
// store, the event dispatcher, and the realtime relay.
//
// One client serves regular commands; pub/sub consumers get their own
// dedicated connection from the driver's Subscribe call, as Redis requires.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter wraps go-redis v9 behind the minimal interfaces the platform
// consumes (events.Publisher, the relay's subscriber).
type RedisAdapter struct {
	rdb *redis.Client
}

// NewRedisAdapter connects and pings Redis. The caller decides whether a
// connection failure is fatal or degrades to local-only fan-out.
func NewRedisAdapter(addr, password string, db int) (*RedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &RedisAdapter{rdb: rdb}, nil
}

// Client exposes the underlying go-redis client for stores that need richer
// commands (the pending store's SCAN iterator).
func (a *RedisAdapter) Client() *redis.Client {
	return a.rdb
}

// Close shuts down the client.
func (a *RedisAdapter) Close() error {
	return a.rdb.Close()
}

// Publish sends a message to a channel. Implements events.Publisher.
func (a *RedisAdapter) Publish(ctx context.Context, channel string, message []byte) error {
	return a.rdb.Publish(ctx, channel, message).Err()
}

// PSubscribe registers a handler for messages matching a channel pattern.
// The subscription runs on its own connection; the returned function
// unsubscribes and releases it.
func (a *RedisAdapter) PSubscribe(ctx context.Context, pattern string, handler func(channel string, payload []byte)) (func(), error) {
	sub := a.rdb.PSubscribe(ctx, pattern)

	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
