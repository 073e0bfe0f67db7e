package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cardverse/token_layer/pkg/logger"
)

const (
	// IdempotencyHeader carries the client-chosen key for a mutating request.
	IdempotencyHeader = "Idempotency-Key"

	// IdempotencyCacheTTL bounds how long a replayable response is kept.
	IdempotencyCacheTTL = 24 * time.Hour

	// LockTimeout releases the in-flight marker if a request never finishes.
	LockTimeout = 10 * time.Second

	responseKeyPrefix = "idempotency:"
	lockKeyPrefix     = "idempotency-lock:"
)

// IdempotencyCache stores replayable responses and in-flight markers.
type IdempotencyCache interface {
	// Get returns the cached value for key, or found=false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Acquire marks key as in flight; it reports false when already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache backs IdempotencyCache with Redis so replays survive restarts
// and are shared across instances.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *RedisCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, "processing", ttl).Result()
}

func (c *RedisCache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is the in-process IdempotencyCache used when no Redis
// address is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) lookup(key string) (memoryEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (c *MemoryCache) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.lookup(key); held {
		return false, nil
	}
	c.entries[key] = memoryEntry{value: []byte("processing"), expires: c.expiry(ttl)}
	return true, nil
}

func (c *MemoryCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: append([]byte(nil), value...), expires: c.expiry(ttl)}
	return nil
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

// cachedResponse is the stored replay envelope.
type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// captureWriter records status and body while writing through.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *captureWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *captureWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Idempotency replays the first successful response for a repeated
// Idempotency-Key. Keys are scoped to the authenticated caller, so two
// users choosing the same key never collide. Requests without the header,
// and safe methods, pass straight through.
func Idempotency(cache IdempotencyCache, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("idempotency")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			scope := GetUserID(ctx) + ":" + r.Method + ":" + r.URL.Path + ":" + key
			cacheKey := responseKeyPrefix + scope
			lockKey := lockKeyPrefix + scope
			entry := log.WithContext(ctx).WithField("idempotency_key", key)

			if replay(ctx, w, cache, cacheKey, entry) {
				return
			}

			acquired, err := cache.Acquire(ctx, lockKey, LockTimeout)
			if err != nil {
				entry.WithError(err).Error("idempotency lock failed")
				writeError(w, http.StatusInternalServerError, "internal", "internal server error")
				return
			}
			if !acquired {
				writeError(w, http.StatusConflict, "conflict", "a request with this idempotency key is in progress")
				return
			}
			defer func() {
				if err := cache.Release(context.WithoutCancel(ctx), lockKey); err != nil {
					entry.WithError(err).Warn("failed to release idempotency lock")
				}
			}()

			// The previous holder may have stored its response between the
			// first lookup and Acquire.
			if replay(ctx, w, cache, cacheKey, entry) {
				return
			}

			wrapper := &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			if wrapper.statusCode < 200 || wrapper.statusCode >= 300 || !json.Valid(wrapper.body.Bytes()) {
				return
			}
			payload, err := json.Marshal(cachedResponse{Status: wrapper.statusCode, Body: wrapper.body.Bytes()})
			if err != nil {
				return
			}
			if err := cache.Set(context.WithoutCancel(ctx), cacheKey, payload, IdempotencyCacheTTL); err != nil {
				entry.WithError(err).Warn("failed to cache response")
			}
		})
	}
}

// replay writes the cached response for cacheKey, if any, and reports
// whether it did.
func replay(ctx context.Context, w http.ResponseWriter, cache IdempotencyCache, cacheKey string, entry *logrus.Entry) bool {
	raw, found, err := cache.Get(ctx, cacheKey)
	if err != nil {
		entry.WithError(err).Warn("idempotency lookup failed")
		return false
	}
	if !found {
		return false
	}
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		entry.Warn("discarding unreadable cached response")
		return false
	}
	entry.Debug("replaying cached response")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Hit", "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
	return true
}
