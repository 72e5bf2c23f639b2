package entity

import "time"

// Restaurant is a row of the `restaurants` table: the durable cloud identity
// of one onboarded restaurant plus its login lockout state.
type Restaurant struct {
	InternalUID         string     `db:"internal_uid" json:"internal_uid"`
	ExternalRef         string     `db:"external_ref" json:"external_ref"`
	Name                string     `db:"name" json:"name"`
	Phone               string     `db:"phone" json:"phone"`
	Email               string     `db:"email" json:"email"`
	Address             string     `db:"address" json:"address"`
	CallbackURL         string     `db:"callback_url" json:"callback_url,omitempty"`
	Username            *string    `db:"username" json:"username,omitempty"`
	PasswordHash        *string    `db:"password_hash" json:"-"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"failed_login_attempts"`
	AccountLockedUntil  *time.Time `db:"account_locked_until" json:"account_locked_until,omitempty"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
	DeactivatedAt       *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
}

// LockedAt reports whether the lock is still in force at now.
func (r *Restaurant) LockedAt(now time.Time) bool {
	return r.AccountLockedUntil != nil && now.Before(*r.AccountLockedUntil)
}

// Profile is the mutable metadata supplied by the onboarding system.
type Profile struct {
	ExternalRef string `db:"external_ref"`
	Name        string `db:"name"`
	Phone       string `db:"phone"`
	Email       string `db:"email"`
	Address     string `db:"address"`
	CallbackURL string `db:"callback_url"`
}

// LoginState is the counter projection returned by lockout updates.
type LoginState struct {
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	AccountLockedUntil  *time.Time `db:"account_locked_until"`
}
