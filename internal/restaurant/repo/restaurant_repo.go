package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/database"
)

const (
	pkeyConstraint     = "restaurants_pkey"
	usernameConstraint = "restaurants_username_key"
)

// ErrUIDCollision means the generated internal UID already exists. The
// caller retries with a fresh UID; it never reaches clients.
var ErrUIDCollision = errors.New("internal uid collision")

const selectColumns = `internal_uid, external_ref, name, phone, email, address, callback_url,
		username, password_hash, failed_login_attempts, account_locked_until, last_login_at,
		is_active, created_at, updated_at, deactivated_at`

// RestaurantRepo provides data access for the restaurants table using sqlx.
// Every lockout mutation is a single-row statement so concurrent logins never
// lose updates.
type RestaurantRepo struct {
	db *sqlx.DB
}

func NewRestaurantRepo(db *sqlx.DB) *RestaurantRepo { return &RestaurantRepo{db: db} }

// Insert creates the identity unless one already exists for p.ExternalRef,
// in which case it reports false without touching the existing row.
func (r *RestaurantRepo) Insert(ctx context.Context, uid string, p entity.Profile, username, passwordHash *string, now time.Time) (bool, error) {
	const q = `INSERT INTO restaurants (internal_uid, external_ref, name, phone, email, address, callback_url,
		username, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $10)
		ON CONFLICT (external_ref) DO NOTHING
		RETURNING internal_uid`
	var got string
	err := r.db.QueryRowxContext(ctx, q, uid, p.ExternalRef, p.Name, p.Phone, p.Email, p.Address, p.CallbackURL,
		username, passwordHash, now).Scan(&got)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if constraint, ok := database.UniqueViolation(err); ok {
			switch constraint {
			case pkeyConstraint:
				return false, ErrUIDCollision
			case usernameConstraint:
				return false, fmt.Errorf("username already taken: %w", apperr.ErrConflict)
			}
		}
		return false, database.Wrap("restaurant.insert", err)
	}
	return true, nil
}

// RefreshProfile overwrites the mutable metadata of the identity owning
// p.ExternalRef and returns its internal UID. Credentials are left alone.
func (r *RestaurantRepo) RefreshProfile(ctx context.Context, p entity.Profile, now time.Time) (string, error) {
	const q = `UPDATE restaurants SET name=$2, phone=$3, email=$4, address=$5, callback_url=$6, updated_at=$7
		WHERE external_ref=$1 RETURNING internal_uid`
	var uid string
	err := r.db.QueryRowxContext(ctx, q, p.ExternalRef, p.Name, p.Phone, p.Email, p.Address, p.CallbackURL, now).Scan(&uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.NotFound("restaurant")
		}
		return "", database.Wrap("restaurant.refresh_profile", err)
	}
	return uid, nil
}

// GetByUID fetches a full row.
func (r *RestaurantRepo) GetByUID(ctx context.Context, uid string) (*entity.Restaurant, error) {
	q := `SELECT ` + selectColumns + ` FROM restaurants WHERE internal_uid=$1`
	var row entity.Restaurant
	if err := r.db.GetContext(ctx, &row, q, uid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("restaurant")
		}
		return nil, database.Wrap("restaurant.get", err)
	}
	return &row, nil
}

// GetByUsername fetches by login name.
func (r *RestaurantRepo) GetByUsername(ctx context.Context, username string) (*entity.Restaurant, error) {
	q := `SELECT ` + selectColumns + ` FROM restaurants WHERE username=$1`
	var row entity.Restaurant
	if err := r.db.GetContext(ctx, &row, q, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("restaurant")
		}
		return nil, database.Wrap("restaurant.get_by_username", err)
	}
	return &row, nil
}

// UnlockIfExpired clears a lock whose deadline has passed, resetting the
// failure counter with it. Reports whether a lock was cleared.
func (r *RestaurantRepo) UnlockIfExpired(ctx context.Context, uid string, now time.Time) (bool, error) {
	const q = `UPDATE restaurants SET failed_login_attempts=0, account_locked_until=NULL, updated_at=$2
		WHERE internal_uid=$1 AND account_locked_until IS NOT NULL AND account_locked_until <= $2 RETURNING 1`
	var one int
	if err := r.db.GetContext(ctx, &one, q, uid, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, database.Wrap("restaurant.unlock_if_expired", err)
	}
	return true, nil
}

// RecordFailure increments the failure counter and sets the lock when the
// new count reaches threshold, in one statement.
func (r *RestaurantRepo) RecordFailure(ctx context.Context, uid string, threshold int, lockUntil, now time.Time) (entity.LoginState, error) {
	const q = `UPDATE restaurants SET failed_login_attempts = failed_login_attempts + 1,
		account_locked_until = CASE
			WHEN account_locked_until IS NULL AND failed_login_attempts + 1 >= $2 THEN $3
			ELSE account_locked_until END,
		updated_at=$4
		WHERE internal_uid=$1
		RETURNING failed_login_attempts, account_locked_until`
	var st entity.LoginState
	if err := r.db.GetContext(ctx, &st, q, uid, threshold, lockUntil, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.LoginState{}, apperr.NotFound("restaurant")
		}
		return entity.LoginState{}, database.Wrap("restaurant.record_failure", err)
	}
	return st, nil
}

// ResetOnSuccess clears the counter and stamps last_login_at, but only while
// the row is active and not locked at now. Reports false when a concurrent
// failure locked the row first.
func (r *RestaurantRepo) ResetOnSuccess(ctx context.Context, uid string, now time.Time) (bool, error) {
	const q = `UPDATE restaurants SET failed_login_attempts=0, account_locked_until=NULL, last_login_at=$2, updated_at=$2
		WHERE internal_uid=$1 AND is_active AND (account_locked_until IS NULL OR account_locked_until <= $2)
		RETURNING 1`
	var one int
	if err := r.db.GetContext(ctx, &one, q, uid, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, database.Wrap("restaurant.reset_on_success", err)
	}
	return true, nil
}

// Unlock clears counter and lock unconditionally.
func (r *RestaurantRepo) Unlock(ctx context.Context, uid string, now time.Time) error {
	const q = `UPDATE restaurants SET failed_login_attempts=0, account_locked_until=NULL, updated_at=$2 WHERE internal_uid=$1`
	return r.execOne(ctx, "restaurant.unlock", q, uid, now)
}

// SetCredentials replaces username and password hash of an active identity
// and clears any lockout state.
func (r *RestaurantRepo) SetCredentials(ctx context.Context, uid, username, passwordHash string, now time.Time) error {
	const q = `UPDATE restaurants SET username=$2, password_hash=$3, failed_login_attempts=0, account_locked_until=NULL, updated_at=$4
		WHERE internal_uid=$1 AND is_active`
	err := r.execOne(ctx, "restaurant.set_credentials", q, uid, username, passwordHash, now)
	if constraint, ok := database.UniqueViolation(err); ok && constraint == usernameConstraint {
		return fmt.Errorf("username already taken: %w", apperr.ErrConflict)
	}
	return err
}

// UpdatePasswordHash stores a rehashed password.
func (r *RestaurantRepo) UpdatePasswordHash(ctx context.Context, uid, passwordHash string, now time.Time) error {
	const q = `UPDATE restaurants SET password_hash=$2, updated_at=$3 WHERE internal_uid=$1`
	return r.execOne(ctx, "restaurant.update_password_hash", q, uid, passwordHash, now)
}

// SetActive flips is_active. Identities are never physically deleted.
func (r *RestaurantRepo) SetActive(ctx context.Context, uid string, active bool, now time.Time) error {
	const q = `UPDATE restaurants SET is_active=$2::boolean,
		deactivated_at = CASE WHEN $2::boolean THEN NULL ELSE COALESCE(deactivated_at, $3) END,
		updated_at=$3
		WHERE internal_uid=$1`
	return r.execOne(ctx, "restaurant.set_active", q, uid, active, now)
}

func (r *RestaurantRepo) execOne(ctx context.Context, op, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return err
		}
		return database.Wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.Wrap(op, err)
	}
	if n == 0 {
		return apperr.NotFound("restaurant")
	}
	return nil
}
