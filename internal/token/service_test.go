package token

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewService(secret, "identity", time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	tok, exp, err := svc.Issue("uid-1")
	require.NoError(t, err)
	assert.True(t, exp.Equal(now.Add(time.Hour)))

	sess, err := svc.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", sess.RestaurantUID)
	assert.NotEmpty(t, sess.TokenID)
	assert.True(t, sess.ExpiresAt.Equal(exp))
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	svc, err := NewService(secret, "identity", time.Hour, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	tok, _, err := svc.Issue("uid-1")
	require.NoError(t, err)

	other, err := NewService("ffffffffffffffffffffffffffffffff", "identity", time.Hour)
	require.NoError(t, err)
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	wrongIssuer, err := NewService(secret, "someone-else", time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = wrongIssuer.Parse(tok)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "uid-1", Issuer: "identity"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Parse(none)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	clock = now.Add(2 * time.Hour)
	_, err = svc.Parse(tok)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService("", "identity", time.Hour)
	assert.Error(t, err)
	_, err = NewService(secret, "identity", 0)
	assert.Error(t, err)
}

func TestSessionHandler(t *testing.T) {
	svc, err := NewService(secret, "identity", time.Hour)
	require.NoError(t, err)
	h := NewHandler(svc, zap.NewNop().Sugar())
	tok, _, err := svc.Issue("uid-9")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.Session(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"restaurant_uid":"uid-9"`)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.Session(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}
