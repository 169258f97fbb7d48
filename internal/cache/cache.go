package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/redis/go-redis/v9"
)

// ProgressTTL bounds how long a run's progress snapshot outlives its last update.
const ProgressTTL = 24 * time.Hour

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetProgress(ctx context.Context, evaluationID uuid.UUID, p models.EvaluationProgress, ttl time.Duration) error
	GetProgress(ctx context.Context, evaluationID uuid.UUID) (*models.EvaluationProgress, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetProgress stores a counter snapshot. Writes from concurrent workers may land
// out of order, so a snapshot with fewer processed images never replaces a newer one
// unless it carries a terminal status.
func (c *RedisCache) SetProgress(ctx context.Context, evaluationID uuid.UUID, p models.EvaluationProgress, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ProgressTTL
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return setIfNewer.Run(ctx, c.client, []string{ProgressKey(evaluationID)},
		data, p.ProcessedImages, terminalFlag(p.Status), ttl.Milliseconds()).Err()
}

func (c *RedisCache) GetProgress(ctx context.Context, evaluationID uuid.UUID) (*models.EvaluationProgress, bool, error) {
	raw, found, err := c.Get(ctx, ProgressKey(evaluationID))
	if err != nil || !found {
		return nil, false, err
	}
	var p models.EvaluationProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("unmarshal progress: %w", err)
	}
	return &p, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// setIfNewer keeps the snapshot with the highest processed_images.
// ARGV: payload, processed_images, terminal (0/1), ttl in ms.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and ARGV[3] == '0' then
  local ok, decoded = pcall(cjson.decode, cur)
  if ok and decoded['processed_images'] and tonumber(decoded['processed_images']) > tonumber(ARGV[2]) then
    return 0
  end
  if ok and (decoded['status'] == 'completed' or decoded['status'] == 'failed') then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
return 1
`)

func terminalFlag(status string) int {
	if status == models.EvaluationStatusCompleted || status == models.EvaluationStatusFailed {
		return 1
	}
	return 0
}
