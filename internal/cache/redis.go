package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"binportal/internal/config"
	"binportal/internal/models"
)

const (
	// Key prefixes
	scheduleCachePrefix = "bins:cache:"
	lookupQueue         = "bins:queue"
	deadLetterQueue     = "bins:dlq"
	lookupLockPrefix    = "bins:lock:"

	// Default values
	defaultQueueTimeout = 30 * time.Second
	maxRetryCount       = 3
)

// Redis holds the schedule cache and the async lookup queue
type Redis struct {
	client *redis.Client
	config config.RedisConfig
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{
		client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}

func scheduleKey(module, cacheKey string) string {
	return scheduleCachePrefix + module + ":" + cacheKey
}

// GetSchedule returns a cached schedule, or nil when absent
func (r *Redis) GetSchedule(ctx context.Context, module, cacheKey string) ([]models.Bin, error) {
	data, err := r.client.Get(ctx, scheduleKey(module, cacheKey)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read schedule cache: %w", err)
	}

	var bins []models.Bin
	if err := json.Unmarshal(data, &bins); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached schedule: %w", err)
	}

	return bins, nil
}

// SetSchedule caches a schedule with the configured TTL
func (r *Redis) SetSchedule(ctx context.Context, module, cacheKey string, bins []models.Bin) error {
	data, err := json.Marshal(bins)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	if err := r.client.Set(ctx, scheduleKey(module, cacheKey), data, r.config.CacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache schedule: %w", err)
	}

	return nil
}

// InvalidateSchedule drops a cached schedule
func (r *Redis) InvalidateSchedule(ctx context.Context, module, cacheKey string) error {
	if err := r.client.Del(ctx, scheduleKey(module, cacheKey)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate schedule cache: %w", err)
	}
	return nil
}

// AcquireLookupLock claims a short-lived lock so concurrent requests for the
// same address do not trigger duplicate scrapes. Returns false when a scrape
// is already in flight.
func (r *Redis) AcquireLookupLock(ctx context.Context, module, cacheKey string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, lookupLockPrefix+module+":"+cacheKey, "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lookup lock: %w", err)
	}
	return ok, nil
}

// ReleaseLookupLock releases a lookup lock
func (r *Redis) ReleaseLookupLock(ctx context.Context, module, cacheKey string) error {
	return r.client.Del(ctx, lookupLockPrefix+module+":"+cacheKey).Err()
}

// EnqueueLookup adds an async lookup request to the queue
func (r *Redis) EnqueueLookup(ctx context.Context, req *models.LookupRequest) error {
	msg := models.QueueMessage{
		RequestID:     req.RequestID,
		Module:        req.Module,
		AddressData:   req.AddressData,
		RetryCount:    0,
		FirstEnqueued: time.Now().UTC(),
		LastEnqueued:  time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	if err := r.client.LPush(ctx, lookupQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue lookup request: %w", err)
	}

	return nil
}

// DequeueLookup retrieves and removes a lookup request from the queue,
// blocking up to the queue timeout. Returns nil when nothing is available.
func (r *Redis) DequeueLookup(ctx context.Context) (*models.QueueMessage, error) {
	result, err := r.client.BRPop(ctx, defaultQueueTimeout, lookupQueue).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // No messages available
		}
		return nil, fmt.Errorf("failed to dequeue message: %w", err)
	}

	// result[0] is the queue name, result[1] is the message
	var msg models.QueueMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}

	return &msg, nil
}

// nextAttempt advances the retry counters on a message headed back to the
// queue, or reports that its retries are exhausted and it belongs on the dead
// letter queue instead.
func nextAttempt(msg *models.QueueMessage) (deadLetter bool) {
	if msg.RetryCount >= maxRetryCount {
		return true
	}
	msg.RetryCount++
	msg.LastEnqueued = time.Now().UTC()
	return false
}

// RequeueLookup puts a failed lookup back in the queue for retry. The caller
// is expected to have waited out the retry backoff already.
func (r *Redis) RequeueLookup(ctx context.Context, msg *models.QueueMessage) error {
	if nextAttempt(msg) {
		return r.moveToDeadLetterQueue(ctx, msg)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	if err := r.client.LPush(ctx, lookupQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to requeue lookup request: %w", err)
	}

	return nil
}

// moveToDeadLetterQueue moves a failed message to the dead letter queue
func (r *Redis) moveToDeadLetterQueue(ctx context.Context, msg *models.QueueMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	if err := r.client.LPush(ctx, deadLetterQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to move message to DLQ: %w", err)
	}

	return nil
}

// GetDeadLetterMessages retrieves messages from the dead letter queue
func (r *Redis) GetDeadLetterMessages(ctx context.Context, limit int64) ([]*models.QueueMessage, error) {
	results, err := r.client.LRange(ctx, deadLetterQueue, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ messages: %w", err)
	}

	messages := make([]*models.QueueMessage, 0, len(results))
	for _, result := range results {
		var msg models.QueueMessage
		if err := json.Unmarshal([]byte(result), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal DLQ message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, nil
}

// QueueLength returns the number of pending async lookups
func (r *Redis) QueueLength(ctx context.Context) (int64, error) {
	length, err := r.client.LLen(ctx, lookupQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return length, nil
}

// Ping checks the connection to Redis
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
