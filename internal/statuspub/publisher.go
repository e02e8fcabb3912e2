// Package statuspub publishes task snapshots to Redis: the latest snapshot is
// kept under a per-task key and every update is broadcast on a channel.
package statuspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"edustat/internal/config"
	apperrors "edustat/internal/errors"
	"edustat/internal/infrastructure"
	"edustat/internal/operations"
)

// Publisher implements operations.StatusPublisher on Redis
type Publisher struct {
	rdb       *goredis.Client
	channel   string
	keyPrefix string
	ttl       time.Duration
	logger    *slog.Logger
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Publisher, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperrors.NewStorageError(fmt.Sprintf("redis ping %s", cfg.Addr), err)
	}
	return NewWithClient(rdb, cfg, logger), nil
}

// NewWithClient wraps an existing client without pinging it
func NewWithClient(rdb *goredis.Client, cfg config.RedisConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Publisher{
		rdb:       rdb,
		channel:   cfg.Channel,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.SnapshotTTL,
		logger:    infrastructure.WithComponent(logger, "status_publisher"),
	}
}

// Key returns the Redis key holding a task's latest snapshot
func (p *Publisher) Key(taskID string) string {
	return p.keyPrefix + taskID
}

// Publish stores the snapshot and announces it on the channel in one pipeline
func (p *Publisher) Publish(ctx context.Context, snapshot *operations.TaskSnapshot) error {
	if snapshot == nil {
		return nil
	}
	raw, err := Encode(snapshot)
	if err != nil {
		return err
	}

	_, err = p.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, p.Key(snapshot.TaskID), raw, p.ttl)
		pipe.Publish(ctx, p.channel, raw)
		return nil
	})
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("publish task %s", snapshot.TaskID), err)
	}
	return nil
}

// Latest returns the last published snapshot of a task
func (p *Publisher) Latest(ctx context.Context, taskID string) (*operations.TaskSnapshot, error) {
	raw, err := p.rdb.Get(ctx, p.Key(taskID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("task %s", taskID))
	}
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("read task %s", taskID), err)
	}
	return Decode(raw)
}

// Watch delivers every snapshot published on the channel until ctx is done
func (p *Publisher) Watch(ctx context.Context, onSnapshot func(*operations.TaskSnapshot)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return apperrors.NewStorageError("redis subscribe", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			snapshot, err := Decode([]byte(msg.Payload))
			if err != nil {
				p.logger.WarnContext(ctx, "bad_snapshot_payload", slog.String("error", err.Error()))
				continue
			}
			onSnapshot(snapshot)
		}
	}
}

// Close closes the Redis client
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Encode serializes a snapshot into its published form
func Encode(snapshot *operations.TaskSnapshot) ([]byte, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, apperrors.NewDataValidationError(fmt.Sprintf("encode task %s: %v", snapshot.TaskID, err))
	}
	return raw, nil
}

// Decode parses a published snapshot
func Decode(raw []byte) (*operations.TaskSnapshot, error) {
	var snapshot operations.TaskSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, apperrors.NewDataValidationError(fmt.Sprintf("decode task snapshot: %v", err))
	}
	if snapshot.TaskID == "" {
		return nil, apperrors.NewDataValidationError("task snapshot without id")
	}
	return &snapshot, nil
}
