package advisor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCacheConfig holds connection settings for the shared verdict cache.
type RedisCacheConfig struct {
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

// RedisCache is a VerdictCache backed by Redis, for deployments where
// several processes share one advisory budget. Redis failures degrade to
// cache misses; after maxFailures consecutive errors the cache stops
// issuing commands until a successful ping.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	maxFailures  int
	lastCheck    time.Time
}

// NewRedisCache connects to Redis. A failed initial ping returns the cache
// in degraded mode rather than an error.
func NewRedisCache(cfg RedisCacheConfig, logger zerolog.Logger) *RedisCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	rc := &RedisCache{
		client:      client,
		ttl:         cfg.TTL,
		logger:      logger.With().Str("component", "redis_cache").Logger(),
		maxFailures: 3,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		rc.logger.Warn().Err(err).Msg("initial redis connection failed, starting degraded")
		return rc
	}

	rc.healthy = true
	rc.lastCheck = time.Now()
	rc.logger.Info().Str("address", cfg.Address).Msg("redis verdict cache connected")
	return rc
}

// Get reads a verdict; any Redis problem reads as a miss.
func (rc *RedisCache) Get(fp Fingerprint) (Verdict, bool) {
	if !rc.isHealthy() {
		rc.checkHealth()
		return Verdict{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := rc.client.Get(ctx, fp.Key()).Bytes()
	if err == redis.Nil {
		rc.recordSuccess()
		return Verdict{}, false
	}
	if err != nil {
		rc.recordFailure(err)
		return Verdict{}, false
	}
	rc.recordSuccess()

	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		rc.logger.Warn().Err(err).Str("key", fp.Key()).Msg("corrupt cache entry, dropping")
		rc.client.Del(ctx, fp.Key())
		return Verdict{}, false
	}
	return v, true
}

// Put stores a verdict under the fingerprint key; Redis handles expiry.
func (rc *RedisCache) Put(fp Fingerprint, v Verdict) {
	if !rc.isHealthy() {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		rc.logger.Warn().Err(err).Msg("failed to marshal verdict")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rc.client.Set(ctx, fp.Key(), data, rc.ttl).Err(); err != nil {
		rc.recordFailure(err)
		return
	}
	rc.recordSuccess()
}

// Len counts advisory keys currently stored.
func (rc *RedisCache) Len() int {
	if !rc.isHealthy() {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	keys, err := rc.client.Keys(ctx, "advisory:*").Result()
	if err != nil {
		rc.recordFailure(err)
		return 0
	}
	rc.recordSuccess()
	return len(keys)
}

// Close releases the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) isHealthy() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.healthy
}

func (rc *RedisCache) recordFailure(err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.failureCount++
	if rc.failureCount >= rc.maxFailures {
		if rc.healthy {
			rc.logger.Warn().Err(err).Int("failures", rc.failureCount).Msg("redis marked unhealthy")
		}
		rc.healthy = false
	}
}

func (rc *RedisCache) recordSuccess() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.healthy {
		rc.logger.Info().Msg("redis recovered")
	}
	rc.healthy = true
	rc.failureCount = 0
	rc.lastCheck = time.Now()
}

// checkHealth pings at most every 30 seconds while degraded.
func (rc *RedisCache) checkHealth() {
	rc.mu.Lock()
	if time.Since(rc.lastCheck) < 30*time.Second {
		rc.mu.Unlock()
		return
	}
	rc.lastCheck = time.Now()
	rc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rc.client.Ping(ctx).Err(); err == nil {
		rc.recordSuccess()
	}
}
