package restaurant

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant/entity"
	restaurantrepo "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant/repo"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// maxUIDAttempts bounds retries after an internal UID collision.
const maxUIDAttempts = 3

// Store is the persistence the registration flow needs. *repo.RestaurantRepo
// implements it.
type Store interface {
	Insert(ctx context.Context, uid string, p entity.Profile, username, passwordHash *string, now time.Time) (bool, error)
	RefreshProfile(ctx context.Context, p entity.Profile, now time.Time) (string, error)
	GetByUID(ctx context.Context, uid string) (*entity.Restaurant, error)
	SetCredentials(ctx context.Context, uid, username, passwordHash string, now time.Time) error
	SetActive(ctx context.Context, uid string, active bool, now time.Time) error
}

// PasswordHasher hashes initial and replacement passwords.
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
}

// Observer receives registration outcomes; *metrics.Metrics implements it.
type Observer interface {
	Registration(created bool)
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithUIDGenerator overrides internal UID generation.
func WithUIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newUID = gen }
}

// WithPasswordMinLength sets the minimum accepted password length.
func WithPasswordMinLength(n int) Option {
	return func(s *Service) { s.minPassword = n }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// Service onboards restaurants and manages their identity lifecycle.
type Service struct {
	store       Store
	hasher      PasswordHasher
	logger      *zap.SugaredLogger
	observer    Observer
	now         func() time.Time
	newUID      func() string
	minPassword int
}

func NewService(store Store, hasher PasswordHasher, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		store:       store,
		hasher:      hasher,
		logger:      logger,
		now:         time.Now,
		newUID:      utilities.NewKSUID,
		minPassword: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput is the onboarding payload. Username and Password are
// optional but must be given together.
type RegisterInput struct {
	ExternalRef string
	Name        string
	Phone       string
	Email       string
	Address     string
	CallbackURL string
	Username    string
	Password    string
}

type RegisterResult struct {
	InternalUID string `json:"internal_uid"`
	Created     bool   `json:"created"`
}

// Register creates the identity for in.ExternalRef or, when one exists,
// refreshes its metadata and returns the existing UID. Concurrent calls for
// the same reference all resolve to the same UID.
func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	p, err := normalizeProfile(in)
	if err != nil {
		return RegisterResult{}, err
	}

	var username, passwordHash *string
	if in.Username != "" || in.Password != "" {
		u, h, err := s.prepareCredentials(in.Username, in.Password)
		if err != nil {
			return RegisterResult{}, err
		}
		username, passwordHash = &u, &h
	}

	now := s.now().UTC()
	for attempt := 1; attempt <= maxUIDAttempts; attempt++ {
		uid := s.newUID()
		created, err := s.store.Insert(ctx, uid, p, username, passwordHash, now)
		if errors.Is(err, restaurantrepo.ErrUIDCollision) {
			s.logger.Warnw("internal uid collision, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return RegisterResult{}, err
		}
		if created {
			s.logger.Infow("restaurant registered", "internal_uid", uid, "external_ref", p.ExternalRef)
			s.observe(true)
			return RegisterResult{InternalUID: uid, Created: true}, nil
		}

		existing, err := s.store.RefreshProfile(ctx, p, now)
		if err != nil {
			return RegisterResult{}, err
		}
		s.logger.Debugw("restaurant already registered", "internal_uid", existing, "external_ref", p.ExternalRef)
		s.observe(false)
		return RegisterResult{InternalUID: existing, Created: false}, nil
	}
	return RegisterResult{}, apperr.Transient("restaurant.register", fmt.Errorf("%d consecutive uid collisions", maxUIDAttempts))
}

// Get returns the identity for uid.
func (s *Service) Get(ctx context.Context, uid string) (*entity.Restaurant, error) {
	uid, err := normalizeUID(uid)
	if err != nil {
		return nil, err
	}
	return s.store.GetByUID(ctx, uid)
}

// SetCredentials assigns a username and password to an active identity and
// clears its lockout state.
func (s *Service) SetCredentials(ctx context.Context, uid, username, password string) error {
	uid, err := normalizeUID(uid)
	if err != nil {
		return err
	}
	u, h, err := s.prepareCredentials(username, password)
	if err != nil {
		return err
	}
	if err := s.store.SetCredentials(ctx, uid, u, h, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Infow("credentials updated", "internal_uid", uid, "username", u)
	return nil
}

// Deactivate soft-disables an identity. Logins and handshakes are refused
// until it is reactivated.
func (s *Service) Deactivate(ctx context.Context, uid string) error {
	return s.setActive(ctx, uid, false)
}

func (s *Service) Reactivate(ctx context.Context, uid string) error {
	return s.setActive(ctx, uid, true)
}

func (s *Service) setActive(ctx context.Context, uid string, active bool) error {
	uid, err := normalizeUID(uid)
	if err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, uid, active, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Infow("restaurant activation changed", "internal_uid", uid, "is_active", active)
	return nil
}

func (s *Service) observe(created bool) {
	if s.observer != nil {
		s.observer.Registration(created)
	}
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]{3,64}$`)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

func (s *Service) prepareCredentials(username, password string) (string, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return "", "", apperr.Invalid("username", "required when a password is given")
	}
	if !usernamePattern.MatchString(username) {
		return "", "", apperr.Invalid("username", "must be 3-64 characters of a-z, 0-9, '.', '_' or '-'")
	}
	if password == "" {
		return "", "", apperr.Invalid("password", "required when a username is given")
	}
	if !utilities.StorableText(password) {
		return "", "", apperr.Invalid("password", notStorable)
	}
	if len([]rune(password)) < s.minPassword {
		return "", "", apperr.Invalid("password", fmt.Sprintf("must be at least %d characters", s.minPassword))
	}
	if len(password) > maxPasswordBytes {
		return "", "", apperr.Invalid("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}
	hash, _, err := s.hasher.Hash(password)
	if err != nil {
		return "", "", fmt.Errorf("hash password: %w", err)
	}
	return username, hash, nil
}

const notStorable = "must be valid UTF-8 without NUL bytes"

func normalizeUID(uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", apperr.Invalid("internal_uid", "must not be empty")
	}
	if !utilities.StorableText(uid) {
		return "", apperr.Invalid("internal_uid", notStorable)
	}
	return uid, nil
}

func normalizeProfile(in RegisterInput) (entity.Profile, error) {
	p := entity.Profile{
		ExternalRef: strings.TrimSpace(in.ExternalRef),
		Name:        strings.TrimSpace(in.Name),
		Phone:       strings.TrimSpace(in.Phone),
		Email:       strings.TrimSpace(in.Email),
		Address:     strings.TrimSpace(in.Address),
		CallbackURL: strings.TrimSpace(in.CallbackURL),
	}
	for _, f := range []struct{ name, value string }{
		{"external_ref", p.ExternalRef},
		{"name", p.Name},
		{"phone", p.Phone},
		{"email", p.Email},
		{"address", p.Address},
		{"callback_url", p.CallbackURL},
	} {
		if !utilities.StorableText(f.value) {
			return p, apperr.Invalid(f.name, notStorable)
		}
	}
	if p.ExternalRef == "" {
		return p, apperr.Invalid("external_ref", "must not be empty")
	}
	if len(p.ExternalRef) > 255 {
		return p, apperr.Invalid("external_ref", "must be at most 255 characters")
	}
	if p.Phone == "" {
		return p, apperr.Invalid("phone", "must not be empty")
	}
	addr, err := mail.ParseAddress(p.Email)
	if err != nil || addr.Address != p.Email {
		return p, apperr.Invalid("email", "not a valid address")
	}
	if p.CallbackURL != "" {
		u, err := url.Parse(p.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return p, apperr.Invalid("callback_url", "must be an absolute http(s) url")
		}
	}
	return p, nil
}
