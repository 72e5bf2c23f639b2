// Package ratelimit throttles login attempts per client address, either
// shared across instances through Redis or per process in memory.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// Limiter decides whether one more request for key fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every instance that
// points at the same Redis.
type RedisLimiter struct {
	client    redis.Cmdable
	namespace string
	limit     int64
	window    time.Duration
	now       func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, namespace string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, namespace: namespace, limit: int64(limit), window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().UnixNano() / int64(l.window)
	k := fmt.Sprintf("%s:ratelimit:%s:%d", l.namespace, key, slot)
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit expire: %w", err)
		}
	}
	return n <= l.limit, nil
}

// NewRedisClient connects to Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		DisableIdentity: true,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

const maxLocalKeys = 10000

// LocalLimiter keeps a token bucket per key in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocalLimiter allows perMinute requests per key per minute, with bursts
// up to the same amount.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &LocalLimiter{
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		idleTTL: 5 * time.Minute,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxLocalKeys {
			l.evict(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1), nil
}

func (l *LocalLimiter) evict(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.idleTTL {
			delete(l.buckets, k)
		}
	}
}

// Failover asks primary first and falls back to secondary when primary
// errors, so a Redis outage degrades to per-instance limits.
type Failover struct {
	primary   Limiter
	secondary Limiter
	logger    *zap.SugaredLogger
}

func NewFailover(primary, secondary Limiter, logger *zap.SugaredLogger) *Failover {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Failover{primary: primary, secondary: secondary, logger: logger}
}

func (f *Failover) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := f.primary.Allow(ctx, key)
	if err == nil {
		return ok, nil
	}
	f.logger.Warnw("primary rate limiter unavailable, using local limiter", "err", err)
	return f.secondary.Allow(ctx, key)
}

// Middleware rejects requests over budget with 429. The key is the client
// address. Limiter errors let the request through.
func Middleware(l Limiter, retryAfter time.Duration, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	secs := strconv.Itoa(int((retryAfter + time.Second - 1) / time.Second))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), clientKey(r))
			if err != nil {
				logger.Warnw("rate limiter failed, request allowed", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Retry-After", secs)
				utilities.WriteJSON(w, http.StatusTooManyRequests, utilities.ErrorResponse{
					Error: "too many requests",
					Code:  "rate_limited",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
