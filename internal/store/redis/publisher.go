// Package redis mirrors scan snapshots into Redis so other services can
// read the latest scan without hitting the scanner's HTTP API.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"stock-scanner/internal/model"
)

const (
	snapshotKeyPrefix = "scan:snapshot:"
	updatesChannel    = "scan:updates"
	snapshotTTL       = 30 * time.Minute
)

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes snapshots to Redis keys and announces each cycle on a
// pub/sub channel.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// PublishCycle pipelines SET scan:snapshot:<symbol> for every snapshot, then
// announces the completed cycle on scan:updates.
func (p *Publisher) PublishCycle(ctx context.Context, snapshots []*model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, snap := range snapshots {
		pipe.Set(ctx, snapshotKeyPrefix+snap.Symbol, snap.JSON(), snapshotTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	msg := fmt.Sprintf(`{"symbols":%d,"at":%q}`, len(snapshots), time.Now().Format(time.RFC3339))
	if err := p.client.Publish(ctx, updatesChannel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Snapshot reads one symbol's latest snapshot, if present.
func (p *Publisher) Snapshot(ctx context.Context, symbol string) ([]byte, error) {
	raw, err := p.client.Get(ctx, snapshotKeyPrefix+symbol).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	return raw, err
}

// Close closes the Redis connection.
func (p *Publisher) Close() error { return p.client.Close() }
