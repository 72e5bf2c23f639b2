package device

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	devicerepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

var (
	_ Store = (*devicerepo.DeviceRepo)(nil)
	_ Store = (*devicerepo.MemoryRepo)(nil)
)

type seqIDs struct {
	mu   sync.Mutex
	next int
}

func (s *seqIDs) NewSnowflakeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%d", s.next)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestHandshakeIdempotent(t *testing.T) {
	store := devicerepo.NewMemoryRepo("uid-1")
	svc := NewService(store, &seqIDs{}, nil)
	ctx := context.Background()

	first, err := svc.Handshake(ctx, "uid-1", "Kitchen iPad", "ios")
	require.NoError(t, err)
	second, err := svc.Handshake(ctx, "uid-1", "Kitchen iPad", "IOS")
	require.NoError(t, err)
	assert.Equal(t, first.RegistrationID, second.RegistrationID)

	other, err := svc.Handshake(ctx, "uid-1", "Kitchen iPad", "android")
	require.NoError(t, err)
	assert.NotEqual(t, first.RegistrationID, other.RegistrationID)

	list, err := svc.List(ctx, "uid-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestHandshakeConcurrentSameDevice(t *testing.T) {
	gen, err := utilities.NewIDGenerator(3)
	require.NoError(t, err)
	svc := NewService(devicerepo.NewMemoryRepo("uid-1"), gen, nil)

	ids := make(chan string, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.Handshake(context.Background(), "uid-1", "pos-1", "web")
			if assert.NoError(t, err) {
				ids <- d.RegistrationID
			}
		}()
	}
	wg.Wait()
	close(ids)

	distinct := map[string]bool{}
	for id := range ids {
		distinct[id] = true
	}
	assert.Len(t, distinct, 1)
}

func TestHandshakeRequiresActiveRestaurant(t *testing.T) {
	store := devicerepo.NewMemoryRepo("uid-1")
	svc := NewService(store, &seqIDs{}, nil)
	ctx := context.Background()

	_, err := svc.Handshake(ctx, "unknown", "pos", "web")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	d, err := svc.Handshake(ctx, "uid-1", "pos", "web")
	require.NoError(t, err)

	store.SetRestaurantActive("uid-1", false)
	_, err = svc.Handshake(ctx, "uid-1", "pos", "web")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Heartbeat(ctx, d.RegistrationID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHandshakeValidation(t *testing.T) {
	svc := NewService(devicerepo.NewMemoryRepo("uid-1"), &seqIDs{}, nil)
	cases := []struct{ uid, label, platform, field string }{
		{"", "pos", "web", "restaurant_uid"},
		{"uid-1", "  ", "web", "device_label"},
		{"uid-1", strings.Repeat("x", 129), "web", "device_label"},
		{"uid-1", "pos", "smartwatch", "platform"},
		{"uid-1\x00", "pos", "web", "restaurant_uid"},
		{"uid-1", "pos\x00", "web", "device_label"},
		{"uid-1", "till \xff", "web", "device_label"},
	}
	for _, tc := range cases {
		_, err := svc.Handshake(context.Background(), tc.uid, tc.label, tc.platform)
		var verr *apperr.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, tc.field, verr.Field)
	}
}

func TestRegistrationIDsMustBeStorable(t *testing.T) {
	svc := NewService(devicerepo.NewMemoryRepo("uid-1"), &seqIDs{}, nil)
	ctx := context.Background()

	_, err := svc.Heartbeat(ctx, "1\x00")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.ErrorIs(t, svc.MarkOffline(ctx, "\xff"), apperr.ErrValidation)
	_, err = svc.List(ctx, "uid-1\x00")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	devices, err := svc.List(ctx, "uid-1")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

type collidingIDs struct{}

func (collidingIDs) NewSnowflakeID() string { return "dup" }

func TestHandshakeIDCollisionExhausted(t *testing.T) {
	store := devicerepo.NewMemoryRepo("uid-1")
	svc := NewService(store, collidingIDs{}, nil)
	_, err := svc.Handshake(context.Background(), "uid-1", "pos-1", "web")
	require.NoError(t, err)

	_, err = svc.Handshake(context.Background(), "uid-1", "pos-2", "web")
	assert.ErrorIs(t, err, apperr.ErrTransient)
}

func TestHeartbeatAndSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	store := devicerepo.NewMemoryRepo("uid-1")
	svc := NewService(store, &seqIDs{}, nil, WithClock(clock.Now))
	ctx := context.Background()

	pos, err := svc.Handshake(ctx, "uid-1", "pos", "web")
	require.NoError(t, err)
	kds, err := svc.Handshake(ctx, "uid-1", "kds", "android")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	beat, err := svc.Heartbeat(ctx, pos.RegistrationID)
	require.NoError(t, err)
	assert.True(t, beat.LastSeenAt.Equal(clock.Now()))

	sweeper := NewSweeper(svc, 90*time.Second, time.Minute, nil)
	sweeper.now = clock.Now
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := svc.List(ctx, "uid-1")
	require.NoError(t, err)
	for _, d := range list {
		assert.Equal(t, d.RegistrationID == pos.RegistrationID, d.IsOnline, d.DeviceLabel)
	}

	_, err = svc.Heartbeat(ctx, kds.RegistrationID)
	require.NoError(t, err)
	require.NoError(t, svc.MarkOffline(ctx, kds.RegistrationID))
	assert.ErrorIs(t, svc.MarkOffline(ctx, "missing"), apperr.ErrNotFound)
	_, err = svc.Heartbeat(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	svc := NewService(devicerepo.NewMemoryRepo(), &seqIDs{}, nil)
	sweeper := NewSweeper(svc, time.Minute, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestHandlerRoutes(t *testing.T) {
	svc := NewService(devicerepo.NewMemoryRepo("uid-1"), &seqIDs{}, nil)
	h := NewHandler(svc, zap.NewNop().Sugar())
	r := chi.NewRouter()
	r.Post("/v1/handshake", h.Handshake)
	r.Post("/v1/heartbeat", h.Heartbeat)
	r.Get("/v1/restaurants/{uid}/devices", h.List)
	r.Post("/v1/devices/{registration_id}/offline", h.MarkOffline)

	send := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := send(http.MethodPost, "/v1/handshake", `{"restaurant_uid":"uid-1","device_label":"pos","platform":"web"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"registration_id":"1"`)
	assert.Contains(t, rec.Body.String(), `"is_online":true`)

	rec = send(http.MethodPost, "/v1/handshake", `{"restaurant_uid":"nope","device_label":"pos","platform":"web"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(http.MethodPost, "/v1/heartbeat", `{"registration_id":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = send(http.MethodPost, "/v1/heartbeat", `{"registration_id":"99"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(http.MethodPost, "/v1/devices/1/offline", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = send(http.MethodGet, "/v1/restaurants/uid-1/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_online":false`)
}
