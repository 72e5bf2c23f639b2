package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device/entity"
	devicerepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

const (
	maxLabelLength = 128
	maxIDAttempts  = 3
)

// Store is the persistence used by the handshake flow. *repo.DeviceRepo
// implements it.
type Store interface {
	Upsert(ctx context.Context, registrationID, restaurantUID, label string, platform entity.Platform, now time.Time) (*entity.Device, error)
	Touch(ctx context.Context, registrationID string, now time.Time) (*entity.Device, error)
	MarkOffline(ctx context.Context, registrationID string) error
	ListByRestaurant(ctx context.Context, restaurantUID string) ([]entity.Device, error)
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// IDSource yields registration IDs; *utilities.IDGenerator implements it.
type IDSource interface {
	NewSnowflakeID() string
}

// Observer receives handshake events; *metrics.Metrics implements it.
type Observer interface {
	Handshake()
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// Service registers kitchen devices under restaurant identities and tracks
// their liveness.
type Service struct {
	store    Store
	ids      IDSource
	logger   *zap.SugaredLogger
	observer Observer
	now      func() time.Time
}

func NewService(store Store, ids IDSource, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{store: store, ids: ids, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handshake registers (restaurantUID, label, platform) or refreshes the
// existing registration. Repeating it returns the same registration ID.
func (s *Service) Handshake(ctx context.Context, restaurantUID, label, platform string) (*entity.Device, error) {
	restaurantUID, err := requireText("restaurant_uid", restaurantUID)
	if err != nil {
		return nil, err
	}
	label, err = requireText("device_label", label)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(label) > maxLabelLength {
		return nil, apperr.Invalid("device_label", fmt.Sprintf("must be at most %d characters", maxLabelLength))
	}
	p, err := entity.ParsePlatform(platform)
	if err != nil {
		return nil, apperr.Invalid("platform", "must be one of ios, android, web, desktop")
	}

	now := s.now().UTC()
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		d, err := s.store.Upsert(ctx, s.ids.NewSnowflakeID(), restaurantUID, label, p, now)
		if errors.Is(err, devicerepo.ErrIDCollision) {
			s.logger.Warnw("registration id collision, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		s.logger.Debugw("device handshake", "registration_id", d.RegistrationID, "restaurant_uid", restaurantUID, "platform", p)
		if s.observer != nil {
			s.observer.Handshake()
		}
		return d, nil
	}
	return nil, apperr.Transient("device.handshake", fmt.Errorf("%d consecutive registration id collisions", maxIDAttempts))
}

// Heartbeat marks the device online and refreshes last_seen_at.
func (s *Service) Heartbeat(ctx context.Context, registrationID string) (*entity.Device, error) {
	registrationID, err := requireText("registration_id", registrationID)
	if err != nil {
		return nil, err
	}
	return s.store.Touch(ctx, registrationID, s.now().UTC())
}

func (s *Service) MarkOffline(ctx context.Context, registrationID string) error {
	registrationID, err := requireText("registration_id", registrationID)
	if err != nil {
		return err
	}
	return s.store.MarkOffline(ctx, registrationID)
}

func (s *Service) List(ctx context.Context, restaurantUID string) ([]entity.Device, error) {
	restaurantUID, err := requireText("restaurant_uid", restaurantUID)
	if err != nil {
		return nil, err
	}
	return s.store.ListByRestaurant(ctx, restaurantUID)
}

// SweepStale marks devices not seen since cutoff offline. The staleness
// window belongs to the caller.
func (s *Service) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.MarkStale(ctx, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Infow("marked stale devices offline", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// requireText trims s and rejects it when empty or not storable.
func requireText(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Invalid(field, "must not be empty")
	}
	if !utilities.StorableText(s) {
		return "", apperr.Invalid(field, "must be valid UTF-8 without NUL bytes")
	}
	return s, nil
}
