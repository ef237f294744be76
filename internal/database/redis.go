package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartstay/booking-core/internal/config"
)

// NewRedisClient connects to the draft snapshot store and pings it
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// RedisPinger adapts a redis client to the health check
type RedisPinger struct {
	Client *redis.Client
}

// PingContext pings redis
func (p RedisPinger) PingContext(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}
