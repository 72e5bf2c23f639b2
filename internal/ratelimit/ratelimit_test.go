package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr, client := newRedis(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewRedisLimiter(client, "identity", 3, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	assert.Contains(t, keys[0], "identity:ratelimit:")
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))

	now = now.Add(time.Minute)
	ok, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "new window")
}

func TestRedisLimiterReportsOutage(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLimiter(client, "identity", 3, time.Minute)
	mr.Close()

	_, err := l.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
}

func TestLocalLimiter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(2)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for _, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}
	ok, _ := l.Allow(ctx, "b")
	assert.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok, "one token refilled")
}

func TestLocalLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(10)
	l.now = func() time.Time { return now }
	for i := 0; i < maxLocalKeys; i++ {
		_, _ = l.Allow(context.Background(), time.Duration(i).String())
	}
	now = now.Add(10 * time.Minute)
	_, _ = l.Allow(context.Background(), "fresh")
	assert.Len(t, l.buckets, 1)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestFailoverUsesSecondary(t *testing.T) {
	f := NewFailover(brokenLimiter{}, NewLocalLimiter(1), nil)
	ok, err := f.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	_, client := newRedis(t)
	l := NewRedisLimiter(client, "identity", 1, time.Minute)
	h := Middleware(l, time.Minute, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/login", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1000").Code)
	rec := call("10.0.0.1:2000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests","code":"rate_limited"}`, rec.Body.String())
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1000").Code)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	h := Middleware(brokenLimiter{}, time.Minute, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/login", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
