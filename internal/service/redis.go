package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-engine/internal/apperror"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/workingtime"
)

// ─── Lock ───────────────────────────────────────────────────────────────────

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker creates a new RedisLocker.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

// Acquire takes the lock for at most ttl.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, apperror.ErrGenerationInProgress
	}
	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// ─── Pub/Sub ────────────────────────────────────────────────────────────────

// WorkingTimeMessage is published whenever working times change.
type WorkingTimeMessage struct {
	ExamID  uuid.UUID            `json:"exam_id"`
	Changes []workingtime.Change `json:"changes"`
}

// RedisPublisher implements Publisher and Notifier on Redis Pub/Sub.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish marshals payload to JSON and publishes it.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.rdb.Publish(ctx, channel, data).Err()
}

// NotifyExamWorkingTime publishes one message for the whole exam.
func (p *RedisPublisher) NotifyExamWorkingTime(ctx context.Context, examID uuid.UUID, changes []workingtime.Change) error {
	return p.Publish(ctx, config.CacheKey.WorkingTimeChannel(examID.String()), WorkingTimeMessage{
		ExamID:  examID,
		Changes: changes,
	})
}

// NotifyStudentExamWorkingTime publishes on the participant's own channel.
func (p *RedisPublisher) NotifyStudentExamWorkingTime(ctx context.Context, change workingtime.Change) error {
	return p.Publish(ctx, config.CacheKey.StudentExamWorkingTimeChannel(change.StudentExamID.String()), change)
}

// ─── Queue ──────────────────────────────────────────────────────────────────

// RedisQueue implements Queue with RPUSH, consumed by the workers via BLPOP.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue creates a new RedisQueue.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// Push enqueues all payloads in one pipeline.
func (q *RedisQueue) Push(ctx context.Context, queue string, payloads ...any) error {
	if len(payloads) == 0 {
		return nil
	}
	pipe := q.rdb.Pipeline()
	for _, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", queue, err)
		}
		pipe.RPush(ctx, queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push %s: %w", queue, err)
	}
	return nil
}

// ─── Cache ──────────────────────────────────────────────────────────────────

// RedisCache implements Cache with JSON values.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache creates a new RedisCache.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Get decodes the cached value into dst. It reports false on a miss.
func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set stores v for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}
