package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	auditentity "github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

const maxAuditUsername = 256

// CredentialStore is the slice of the identity store used for logins.
// *repo.RestaurantRepo implements it.
type CredentialStore interface {
	GetByUsername(ctx context.Context, username string) (*entity.Restaurant, error)
	UnlockIfExpired(ctx context.Context, uid string, now time.Time) (bool, error)
	RecordFailure(ctx context.Context, uid string, threshold int, lockUntil, now time.Time) (entity.LoginState, error)
	ResetOnSuccess(ctx context.Context, uid string, now time.Time) (bool, error)
	Unlock(ctx context.Context, uid string, now time.Time) error
	UpdatePasswordHash(ctx context.Context, uid, passwordHash string, now time.Time) error
}

// AuditLog receives one entry per attempt; *audit.Service implements it.
type AuditLog interface {
	Append(ctx context.Context, e *auditentity.Entry) error
}

// TokenIssuer mints a session token for a restaurant; *token.Service
// implements it.
type TokenIssuer interface {
	Issue(restaurantUID string) (string, time.Time, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLockout sets how many consecutive failures lock an identity and for
// how long.
func WithLockout(threshold int, duration time.Duration) Option {
	return func(s *Service) {
		s.threshold = threshold
		s.lockFor = duration
	}
}

func WithTokenIssuer(t TokenIssuer) Option {
	return func(s *Service) { s.tokens = t }
}

// Service authenticates restaurant staff with brute-force lockout. Lock
// state lives in the store; the service keeps none between calls.
type Service struct {
	store     CredentialStore
	audit     AuditLog
	hasher    PasswordHasher
	tokens    TokenIssuer
	logger    *zap.SugaredLogger
	now       func() time.Time
	threshold int
	lockFor   time.Duration

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store CredentialStore, audit AuditLog, hasher PasswordHasher, logger *zap.SugaredLogger, opts ...Option) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		store:     store,
		audit:     audit,
		hasher:    hasher,
		logger:    logger,
		now:       time.Now,
		threshold: 5,
		lockFor:   15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type LoginInput struct {
	Username  string
	Password  string
	Source    string
	UserAgent string
}

type LoginResult struct {
	RestaurantUID string     `json:"restaurant_uid"`
	AccessToken   string     `json:"access_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Login evaluates one attempt and records it in the audit log before
// answering. Unknown usernames, inactive identities and wrong passwords all
// yield apperr.ErrAuthenticationFailed. A locked identity yields
// *apperr.LockedOutError without the password being checked. If the audit
// entry cannot be written the attempt fails with a transient error.
// The entry records the username as sent. Lookup uses the trimmed,
// lower-cased form.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	now := s.now().UTC()

	outcome, uid, loginErr := s.evaluate(ctx, username, in.Password, now)

	entry := &auditentity.Entry{
		AttemptedUsername: auditText(in.Username),
		Outcome:           outcome,
		Timestamp:         now,
		Source:            auditText(in.Source),
		UserAgent:         auditText(in.UserAgent),
	}
	if uid != "" {
		entry.RestaurantUID = &uid
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Errorw("login refused, audit entry not written", "outcome", outcome, "err", err)
		if errors.Is(err, apperr.ErrTransient) {
			return LoginResult{}, err
		}
		return LoginResult{}, apperr.Transient("auth.audit", err)
	}
	if loginErr != nil {
		return LoginResult{}, loginErr
	}

	res := LoginResult{RestaurantUID: uid}
	if s.tokens != nil {
		tok, exp, err := s.tokens.Issue(uid)
		if err != nil {
			return LoginResult{}, fmt.Errorf("issue token: %w", err)
		}
		res.AccessToken, res.ExpiresAt = tok, &exp
	}
	return res, nil
}

// evaluate runs the lockout state machine and returns the audit outcome,
// the identity it applies to (empty when none matched) and the error for
// the caller.
func (s *Service) evaluate(ctx context.Context, username, password string, now time.Time) (auditentity.Outcome, string, error) {
	if username == "" || !utilities.StorableText(username) {
		s.burnHash(password)
		return auditentity.OutcomeInactiveAccount, "", apperr.ErrAuthenticationFailed
	}

	r, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.burnHash(password)
			return auditentity.OutcomeInactiveAccount, "", apperr.ErrAuthenticationFailed
		}
		return auditentity.OutcomeUnavailable, "", err
	}
	uid := r.InternalUID
	if !r.IsActive {
		s.burnHash(password)
		return auditentity.OutcomeInactiveAccount, uid, apperr.ErrAuthenticationFailed
	}

	// expired lock auto-unlock
	if r.AccountLockedUntil != nil && !r.LockedAt(now) {
		cleared, err := s.store.UnlockIfExpired(ctx, uid, now)
		if err != nil {
			return auditentity.OutcomeUnavailable, uid, err
		}
		if cleared {
			r.FailedLoginAttempts = 0
			r.AccountLockedUntil = nil
		} else {
			// another attempt cleared or re-locked the row first
			if r, err = s.store.GetByUsername(ctx, username); err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					s.burnHash(password)
					return auditentity.OutcomeInactiveAccount, uid, apperr.ErrAuthenticationFailed
				}
				return auditentity.OutcomeUnavailable, uid, err
			}
			if !r.IsActive {
				s.burnHash(password)
				return auditentity.OutcomeInactiveAccount, uid, apperr.ErrAuthenticationFailed
			}
		}
	}
	if r.LockedAt(now) {
		return auditentity.OutcomeLockedOut, uid, &apperr.LockedOutError{Until: *r.AccountLockedUntil}
	}

	if r.PasswordHash == nil || !s.hasher.Verify(*r.PasswordHash, password) {
		if r.PasswordHash == nil {
			s.burnHash(password)
		}
		st, err := s.store.RecordFailure(ctx, uid, s.threshold, now.Add(s.lockFor), now)
		if err != nil {
			return auditentity.OutcomeUnavailable, uid, err
		}
		if st.AccountLockedUntil != nil && st.FailedLoginAttempts == s.threshold {
			s.logger.Infow("identity locked after failed logins", "internal_uid", uid,
				"attempts", st.FailedLoginAttempts, "locked_until", st.AccountLockedUntil)
		}
		return auditentity.OutcomeBadCredentials, uid, apperr.ErrAuthenticationFailed
	}

	ok, err := s.store.ResetOnSuccess(ctx, uid, now)
	if err != nil {
		return auditentity.OutcomeUnavailable, uid, err
	}
	if !ok {
		// lost a race with a failure that locked the row, or a deactivation
		return s.reclassify(ctx, username, uid, now)
	}

	if s.hasher.NeedsRehash(*r.PasswordHash) {
		if hash, _, err := s.hasher.Hash(password); err == nil {
			if err := s.store.UpdatePasswordHash(ctx, uid, hash, now); err != nil {
				s.logger.Warnw("password rehash not stored", "internal_uid", uid, "err", err)
			}
		}
	}
	s.logger.Debugw("login succeeded", "internal_uid", uid)
	return auditentity.OutcomeSuccess, uid, nil
}

func (s *Service) reclassify(ctx context.Context, username, uid string, now time.Time) (auditentity.Outcome, string, error) {
	r, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return auditentity.OutcomeInactiveAccount, uid, apperr.ErrAuthenticationFailed
		}
		return auditentity.OutcomeUnavailable, uid, err
	}
	if !r.IsActive {
		return auditentity.OutcomeInactiveAccount, uid, apperr.ErrAuthenticationFailed
	}
	until := now.Add(time.Second)
	if r.AccountLockedUntil != nil && r.AccountLockedUntil.After(now) {
		until = *r.AccountLockedUntil
	}
	return auditentity.OutcomeLockedOut, uid, &apperr.LockedOutError{Until: until}
}

// Unlock clears the failure counter and any lock immediately.
func (s *Service) Unlock(ctx context.Context, uid string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return apperr.Invalid("internal_uid", "must not be empty")
	}
	if err := s.store.Unlock(ctx, uid, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Infow("identity unlocked by operator", "internal_uid", uid)
	return nil
}

// burnHash compares against a placeholder hash so that every failed
// attempt costs one bcrypt comparison.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		if h, _, err := s.hasher.Hash("identity-placeholder-password"); err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		s.hasher.Verify(s.dummyHash, password)
	}
}

// ConstantTimeEqual compares secrets such as operator keys.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
// auditText makes caller-supplied text storable and bounds its length.
func auditText(s string) string {
	return truncate(utilities.SanitizeText(s), maxAuditUsername)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
