package entity

import (
	"fmt"
	"strings"
	"time"
)

// Platform is the closed set of device kinds a kitchen can register.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb, PlatformDesktop:
		return true
	}
	return false
}

// ParsePlatform accepts a platform name case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// Device is a row of the `devices` table.
type Device struct {
	RegistrationID string    `db:"registration_id" json:"registration_id"`
	RestaurantUID  string    `db:"restaurant_uid" json:"restaurant_uid"`
	DeviceLabel    string    `db:"device_label" json:"device_label"`
	Platform       Platform  `db:"platform" json:"platform"`
	IsOnline       bool      `db:"is_online" json:"is_online"`
	LastSeenAt     time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
