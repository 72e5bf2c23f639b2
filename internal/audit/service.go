package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

const (
	DefaultQueryLimit = 500
	MaxQueryLimit     = 5000
)

// Store is the append-only persistence of the audit trail.
type Store interface {
	Insert(ctx context.Context, e *entity.Entry) error
	Query(ctx context.Context, f entity.Filter) ([]entity.Entry, error)
}

// Observer counts appended outcomes; *metrics.Metrics implements it.
type Observer interface {
	LoginOutcome(outcome string)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// Service records one entry per authentication attempt and answers queries
// over the trail.
type Service struct {
	store    Store
	logger   *zap.SugaredLogger
	observer Observer
	now      func() time.Time
	newID    func() string
}

func NewService(store Store, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{store: store, logger: logger, now: time.Now, newID: utilities.NewULID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append durably records e before returning. LogID and Timestamp are
// assigned here when empty.
func (s *Service) Append(ctx context.Context, e *entity.Entry) error {
	if !e.Outcome.Valid() {
		return apperr.Invalid("outcome", fmt.Sprintf("unknown outcome %q", e.Outcome))
	}
	if e.LogID == "" {
		e.LogID = s.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if err := s.store.Insert(ctx, e); err != nil {
		s.logger.Warnw("audit append failed", "outcome", e.Outcome, "err", err)
		return err
	}
	if s.observer != nil {
		s.observer.LoginOutcome(string(e.Outcome))
	}
	return nil
}

// Query returns matching entries in timestamp order.
func (s *Service) Query(ctx context.Context, f entity.Filter) ([]entity.Entry, error) {
	if !utilities.StorableText(f.RestaurantUID) {
		return nil, apperr.Invalid("restaurant_uid", "must be valid UTF-8 without NUL bytes")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, apperr.Invalid("from", "must not be after to")
	}
	switch {
	case f.Limit < 0:
		return nil, apperr.Invalid("limit", "must not be negative")
	case f.Limit == 0:
		f.Limit = DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		f.Limit = MaxQueryLimit
	}
	return s.store.Query(ctx, f)
}
