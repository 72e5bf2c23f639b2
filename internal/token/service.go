// Package token issues and validates the HS256 session tokens handed out
// after a successful restaurant login.
package token

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// Service signs session tokens with a shared secret.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(secret, issuer string, ttl time.Duration, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	s := &Service{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Session is the validated content of a token.
type Session struct {
	RestaurantUID string    `json:"restaurant_uid"`
	TokenID       string    `json:"token_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Issue creates a token whose subject is the restaurant UID.
func (s *Service) Issue(restaurantUID string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   restaurantUID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp.Truncate(time.Second), nil
}

// Parse validates signature, issuer and expiry. Any failure is reported as
// apperr.ErrUnauthorized.
func (s *Service) Parse(raw string) (*Session, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", apperr.ErrUnauthorized)
	}
	return &Session{RestaurantUID: claims.Subject, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Handler serves GET /v1/session.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	raw, ok := BearerToken(r)
	if !ok {
		utilities.WriteError(w, apperr.ErrUnauthorized)
		return
	}
	sess, err := h.svc.Parse(raw)
	if err != nil {
		h.logger.Debugw("session rejected", "err", err)
		utilities.WriteError(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, sess)
}

// BearerToken extracts the credential of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}
