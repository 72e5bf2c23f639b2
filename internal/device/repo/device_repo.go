package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/database"
)

// ErrIDCollision means the generated registration ID already exists.
var ErrIDCollision = errors.New("registration id collision")

const returningColumns = `registration_id, restaurant_uid, device_label, platform, is_online, last_seen_at, created_at`

// DeviceRepo provides data access for the devices table.
type DeviceRepo struct {
	db *sqlx.DB
}

func NewDeviceRepo(db *sqlx.DB) *DeviceRepo { return &DeviceRepo{db: db} }

// Upsert registers a device under an active restaurant, or marks the
// existing (restaurant, label, platform) registration online. The activity
// check and the write are one statement.
func (r *DeviceRepo) Upsert(ctx context.Context, registrationID, restaurantUID, label string, platform entity.Platform, now time.Time) (*entity.Device, error) {
	const q = `INSERT INTO devices (registration_id, restaurant_uid, device_label, platform, is_online, last_seen_at, created_at)
		SELECT $1, r.internal_uid, $3, $4, true, $5, $5 FROM restaurants r
		WHERE r.internal_uid=$2 AND r.is_active
		ON CONFLICT (restaurant_uid, device_label, platform)
		DO UPDATE SET is_online=true, last_seen_at=EXCLUDED.last_seen_at
		RETURNING ` + returningColumns
	var d entity.Device
	err := r.db.GetContext(ctx, &d, q, registrationID, restaurantUID, label, string(platform), now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("active restaurant")
		}
		if constraint, ok := database.UniqueViolation(err); ok && constraint == "devices_pkey" {
			return nil, ErrIDCollision
		}
		return nil, database.Wrap("device.upsert", err)
	}
	return &d, nil
}

// Touch records a heartbeat. Devices of inactive restaurants are not found.
func (r *DeviceRepo) Touch(ctx context.Context, registrationID string, now time.Time) (*entity.Device, error) {
	const q = `UPDATE devices d SET is_online=true, last_seen_at=$2
		FROM restaurants r
		WHERE d.registration_id=$1 AND r.internal_uid=d.restaurant_uid AND r.is_active
		RETURNING d.registration_id, d.restaurant_uid, d.device_label, d.platform, d.is_online, d.last_seen_at, d.created_at`
	var d entity.Device
	if err := r.db.GetContext(ctx, &d, q, registrationID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("device")
		}
		return nil, database.Wrap("device.touch", err)
	}
	return &d, nil
}

// MarkOffline clears the online flag of one device.
func (r *DeviceRepo) MarkOffline(ctx context.Context, registrationID string) error {
	const q = `UPDATE devices SET is_online=false WHERE registration_id=$1`
	res, err := r.db.ExecContext(ctx, q, registrationID)
	if err != nil {
		return database.Wrap("device.mark_offline", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.Wrap("device.mark_offline", err)
	}
	if n == 0 {
		return apperr.NotFound("device")
	}
	return nil
}

// ListByRestaurant returns all registrations of a restaurant, oldest first.
func (r *DeviceRepo) ListByRestaurant(ctx context.Context, restaurantUID string) ([]entity.Device, error) {
	const q = `SELECT ` + returningColumns + ` FROM devices WHERE restaurant_uid=$1 ORDER BY created_at, registration_id`
	devices := []entity.Device{}
	if err := r.db.SelectContext(ctx, &devices, q, restaurantUID); err != nil {
		return nil, database.Wrap("device.list", err)
	}
	return devices, nil
}

// MarkStale flags online devices not seen since cutoff as offline and
// returns how many changed.
func (r *DeviceRepo) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `UPDATE devices SET is_online=false WHERE is_online AND last_seen_at < $1`
	res, err := r.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, database.Wrap("device.mark_stale", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.Wrap("device.mark_stale", err)
	}
	return n, nil
}
