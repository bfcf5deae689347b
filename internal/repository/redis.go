package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"weelo/internal/config"
	"weelo/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	lastReportKey = "sync:last_report"
	deadLetterKey = "sync:deadletter"
)

type RedisReportRepository struct {
	client *redis.Client
}

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisReportRepository(client *redis.Client) *RedisReportRepository {
	return &RedisReportRepository{client: client}
}

func (r *RedisReportRepository) SaveReport(ctx context.Context, report *models.SyncReport) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := r.client.Set(ctx, lastReportKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save report in redis: %w", err)
	}
	return nil
}

func (r *RedisReportRepository) LastReport(ctx context.Context) (*models.SyncReport, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, lastReportKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report from redis: %w", err)
	}

	var report models.SyncReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

func (r *RedisReportRepository) PushDeadLetter(ctx context.Context, op *models.PendingOperation) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := r.client.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

func (r *RedisReportRepository) DeadLetters(ctx context.Context, limit int64) ([]models.PendingOperation, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 {
		limit = 100
	}
	vals, err := r.client.LRange(ctx, deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	ops := make([]models.PendingOperation, 0, len(vals))
	for _, val := range vals {
		var op models.PendingOperation
		if err := json.Unmarshal([]byte(val), &op); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
