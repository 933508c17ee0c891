// Package notify delivers warning and forfeit messages to runners.
package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/config"
)

// Notifier is the abstract send capability the timeout enforcer uses.
type Notifier interface {
	Send(ctx context.Context, runnerID int64, message string) error
}

// Redis publishes messages to a per-runner channel that chat front-ends
// subscribe to.
type Redis struct {
	rdb *redis.Client
}

// NewRedis builds a redis-backed notifier.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Send publishes the message on the runner's channel.
func (n *Redis) Send(ctx context.Context, runnerID int64, message string) error {
	channel := fmt.Sprintf("runner:%d", runnerID)
	if err := n.rdb.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Log records notifications without delivering them, for deployments with no
// redis configured.
type Log struct {
	log *zap.Logger
}

// NewLog builds a log-only notifier.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

// Send logs the message.
func (n *Log) Send(_ context.Context, runnerID int64, message string) error {
	n.log.Info("notification",
		zap.Int64("runner", runnerID),
		zap.String("message", message))
	return nil
}

// FromConfig picks the redis notifier when an address is configured, the log
// notifier otherwise.
func FromConfig(cfg *config.Config, log *zap.Logger) Notifier {
	if cfg.RedisAddr == "" {
		return NewLog(log)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})
	return NewRedis(rdb)
}
