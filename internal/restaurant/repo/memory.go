package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
)

// MemoryRepo mirrors RestaurantRepo statement by statement over an
// in-process map. Each method holds the lock for its whole body, matching
// the single-row atomicity of the SQL version. Used by tests.
type MemoryRepo struct {
	mu         sync.Mutex
	byUID      map[string]*entity.Restaurant
	byRef      map[string]string
	byUsername map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byUID:      make(map[string]*entity.Restaurant),
		byRef:      make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (m *MemoryRepo) Insert(_ context.Context, uid string, p entity.Profile, username, passwordHash *string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[p.ExternalRef]; ok {
		return false, nil
	}
	if _, ok := m.byUID[uid]; ok {
		return false, ErrUIDCollision
	}
	if username != nil {
		if _, ok := m.byUsername[*username]; ok {
			return false, fmt.Errorf("username already taken: %w", apperr.ErrConflict)
		}
	}
	row := &entity.Restaurant{
		InternalUID:  uid,
		ExternalRef:  p.ExternalRef,
		Name:         p.Name,
		Phone:        p.Phone,
		Email:        p.Email,
		Address:      p.Address,
		CallbackURL:  p.CallbackURL,
		Username:     copyString(username),
		PasswordHash: copyString(passwordHash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.byUID[uid] = row
	m.byRef[p.ExternalRef] = uid
	if username != nil {
		m.byUsername[*username] = uid
	}
	return true, nil
}

func (m *MemoryRepo) RefreshProfile(_ context.Context, p entity.Profile, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.byRef[p.ExternalRef]
	if !ok {
		return "", apperr.NotFound("restaurant")
	}
	row := m.byUID[uid]
	row.Name, row.Phone, row.Email, row.Address, row.CallbackURL = p.Name, p.Phone, p.Email, p.Address, p.CallbackURL
	row.UpdatedAt = now
	return uid, nil
}

func (m *MemoryRepo) GetByUID(_ context.Context, uid string) (*entity.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byUID[uid]
	if !ok {
		return nil, apperr.NotFound("restaurant")
	}
	return cloneRow(row), nil
}

func (m *MemoryRepo) GetByUsername(_ context.Context, username string) (*entity.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.byUsername[username]
	if !ok {
		return nil, apperr.NotFound("restaurant")
	}
	return cloneRow(m.byUID[uid]), nil
}

func (m *MemoryRepo) UnlockIfExpired(_ context.Context, uid string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byUID[uid]
	if !ok || row.AccountLockedUntil == nil || row.AccountLockedUntil.After(now) {
		return false, nil
	}
	row.FailedLoginAttempts = 0
	row.AccountLockedUntil = nil
	row.UpdatedAt = now
	return true, nil
}

func (m *MemoryRepo) RecordFailure(_ context.Context, uid string, threshold int, lockUntil, now time.Time) (entity.LoginState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byUID[uid]
	if !ok {
		return entity.LoginState{}, apperr.NotFound("restaurant")
	}
	row.FailedLoginAttempts++
	if row.AccountLockedUntil == nil && row.FailedLoginAttempts >= threshold {
		until := lockUntil
		row.AccountLockedUntil = &until
	}
	row.UpdatedAt = now
	return entity.LoginState{FailedLoginAttempts: row.FailedLoginAttempts, AccountLockedUntil: copyTime(row.AccountLockedUntil)}, nil
}

func (m *MemoryRepo) ResetOnSuccess(_ context.Context, uid string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byUID[uid]
	if !ok || !row.IsActive || row.LockedAt(now) {
		return false, nil
	}
	row.FailedLoginAttempts = 0
	row.AccountLockedUntil = nil
	last := now
	row.LastLoginAt = &last
	row.UpdatedAt = now
	return true, nil
}

func (m *MemoryRepo) Unlock(_ context.Context, uid string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byUID[uid]
	if !ok {
		return apperr.NotFound("restaurant")
	}
	row.FailedLoginAttempts = 0
	row.AccountLockedUntil = nil
	row.UpdatedAt = now
	return nil
}

func (m *MemoryRepo) SetCredentials(_ context.Context, uid, username, passwordHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byUID[uid]
	if !ok || !row.IsActive {
		return apperr.NotFound("restaurant")
	}
	if owner, taken := m.byUsername[username]; taken && owner != uid {
		return fmt.Errorf("username already taken: %w", apperr.ErrConflict)
	}
	if row.Username != nil {
		delete(m.byUsername, *row.Username)
	}
	m.byUsername[username] = uid
	row.Username = &username
	row.PasswordHash = &passwordHash
	row.FailedLoginAttempts = 0
	row.AccountLockedUntil = nil
	row.UpdatedAt = now
	return nil
}

func (m *MemoryRepo) UpdatePasswordHash(_ context.Context, uid, passwordHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byUID[uid]
	if !ok {
		return apperr.NotFound("restaurant")
	}
	row.PasswordHash = &passwordHash
	row.UpdatedAt = now
	return nil
}

func (m *MemoryRepo) SetActive(_ context.Context, uid string, active bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byUID[uid]
	if !ok {
		return apperr.NotFound("restaurant")
	}
	row.IsActive = active
	if active {
		row.DeactivatedAt = nil
	} else if row.DeactivatedAt == nil {
		at := now
		row.DeactivatedAt = &at
	}
	row.UpdatedAt = now
	return nil
}

// Count returns the number of stored identities.
func (m *MemoryRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byUID)
}

func cloneRow(r *entity.Restaurant) *entity.Restaurant {
	c := *r
	c.Username = copyString(r.Username)
	c.PasswordHash = copyString(r.PasswordHash)
	c.AccountLockedUntil = copyTime(r.AccountLockedUntil)
	c.LastLoginAt = copyTime(r.LastLoginAt)
	c.DeactivatedAt = copyTime(r.DeactivatedAt)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
