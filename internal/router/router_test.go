package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit"
	auditrepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/auth"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device"
	devicerepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant"
	restaurantrepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/token"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

const (
	operatorKey   = "operator-key-for-tests"
	onboardingKey = "onboarding-key-for-tests"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type stack struct {
	handler http.Handler
	devices *devicerepo.MemoryRepo
}

func newStack(t *testing.T, db Pinger, loginPerMinute int) *stack {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}

	restaurants := restaurantrepo.NewMemoryRepo()
	devices := devicerepo.NewMemoryRepo()
	ids, err := utilities.NewIDGenerator(1)
	require.NoError(t, err)
	tokens, err := token.NewService(strings.Repeat("s", 32), "identity-test", time.Hour)
	require.NoError(t, err)

	auditSvc := audit.NewService(auditrepo.NewMemoryRepo(), nil, audit.WithObserver(m))
	restaurantSvc := restaurant.NewService(restaurants, hasher, nil, restaurant.WithObserver(m))
	deviceSvc := device.NewService(devices, ids, nil, device.WithObserver(m))
	authSvc := auth.NewService(restaurants, auditSvc, hasher, nil, auth.WithTokenIssuer(tokens))

	d := Deps{
		DB:            db,
		Restaurants:   restaurant.NewHandler(restaurantSvc, nil),
		Devices:       device.NewHandler(deviceSvc, nil),
		Auth:          auth.NewHandler(authSvc, nil),
		Audit:         audit.NewHandler(auditSvc, nil),
		Session:       token.NewHandler(tokens, nil),
		Metrics:       m,
		OperatorKey:   operatorKey,
		OnboardingKey: onboardingKey,
		CORSOrigins:   []string{"https://backoffice.example"},
	}
	if loginPerMinute > 0 {
		d.LoginLimit = ratelimit.Middleware(ratelimit.NewLocalLimiter(loginPerMinute), time.Minute, nil)
	}
	return &stack{handler: New(d), devices: devices}
}

func (s *stack) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "198.51.100.4:40000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

var operator = map[string]string{"Authorization": "Bearer " + operatorKey}

func TestHealthAndSecurityHeaders(t *testing.T) {
	s := newStack(t, pinger{}, 0)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/readyz", "", nil).Code)

	down := newStack(t, pinger{err: errors.New("connection refused")}, 0)
	rec = down.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestOnboardingLoginAndSession(t *testing.T) {
	s := newStack(t, nil, 0)
	body := `{"external_ref":"web-42","name":"Noodle Bar","phone":"+15550100","email":"owner@noodle.example","username":"chef1","password":"correct-horse"}`

	rec := s.do(http.MethodPost, "/v1/register", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	keyed := map[string]string{"X-Onboarding-Key": onboardingKey}
	rec = s.do(http.MethodPost, "/v1/register", body, keyed)
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg restaurant.RegisterResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reg))
	require.NotEmpty(t, reg.InternalUID)

	rec = s.do(http.MethodPost, "/v1/register", body, keyed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), reg.InternalUID)

	s.devices.SetRestaurantActive(reg.InternalUID, true)
	rec = s.do(http.MethodPost, "/v1/handshake", `{"restaurant_uid":"`+reg.InternalUID+`","device_label":"Till 1","platform":"web"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_online":true`)

	rec = s.do(http.MethodPost, "/v1/login", `{"username":"chef1","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var login auth.LoginResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&login))
	assert.Equal(t, reg.InternalUID, login.RestaurantUID)
	require.NotEmpty(t, login.AccessToken)

	rec = s.do(http.MethodGet, "/v1/session", "", map[string]string{"Authorization": "Bearer " + login.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), reg.InternalUID)

	rec = s.do(http.MethodGet, "/v1/session", "", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `identity_login_attempts_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `identity_registrations_total{created="true"} 1`)
	assert.Contains(t, rec.Body.String(), `identity_device_handshakes_total 1`)
}

func TestOperatorRoutesRequireKey(t *testing.T) {
	s := newStack(t, nil, 0)
	rec := s.do(http.MethodPost, "/v1/register",
		`{"external_ref":"web-7","phone":"+15550101","email":"a@b.example","username":"till7","password":"correct-horse"}`,
		map[string]string{"X-Onboarding-Key": onboardingKey})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg restaurant.RegisterResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reg))
	uid := reg.InternalUID

	for _, headers := range []map[string]string{nil, {"Authorization": "Bearer wrong"}, {"Authorization": operatorKey}} {
		assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/audit-log", "", headers).Code)
		assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/restaurants/"+uid, "", headers).Code)
	}

	rec = s.do(http.MethodGet, "/v1/restaurants/"+uid, "", operator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	s.do(http.MethodPost, "/v1/login", `{"username":"till7","password":"nope"}`, nil)
	rec = s.do(http.MethodGet, "/v1/audit-log?restaurant_uid="+uid, "", operator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"bad_credentials"`)
	assert.Contains(t, rec.Body.String(), `"source":"198.51.100.4"`)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/v1/restaurants/"+uid+"/unlock", "", operator).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/v1/restaurants/"+uid+"/deactivate", "", operator).Code)
	rec = s.do(http.MethodPost, "/v1/login", `{"username":"till7","password":"correct-horse"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/v1/restaurants/"+uid+"/reactivate", "", operator).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPut, "/v1/restaurants/"+uid+"/credentials",
		`{"username":"till7","password":"another-horse"}`, operator).Code)
	rec = s.do(http.MethodPost, "/v1/login", `{"username":"till7","password":"another-horse"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/v1/restaurants/"+uid+"/devices", "", operator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestEmptyOperatorKeyRefusesAll(t *testing.T) {
	h := RequireOperator("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/audit-log", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	s := newStack(t, nil, 2)
	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/v1/login", `{"username":"nobody","password":"x"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(http.MethodPost, "/v1/login", `{"username":"nobody","password":"x"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newStack(t, nil, 0)
	rec := s.do(http.MethodOptions, "/v1/login", "", map[string]string{
		"Origin":                        "https://backoffice.example",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, "https://backoffice.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
