package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
)

// MemoryRepo follows the statements of DeviceRepo in process. The set of
// active restaurants is maintained with SetRestaurantActive. Used by tests.
type MemoryRepo struct {
	mu      sync.Mutex
	active  map[string]bool
	devices map[string]*entity.Device
	byKey   map[string]string
}

func NewMemoryRepo(activeUIDs ...string) *MemoryRepo {
	m := &MemoryRepo{active: map[string]bool{}, devices: map[string]*entity.Device{}, byKey: map[string]string{}}
	for _, uid := range activeUIDs {
		m.active[uid] = true
	}
	return m
}

func (m *MemoryRepo) SetRestaurantActive(uid string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[uid] = active
}

func (m *MemoryRepo) Upsert(_ context.Context, id, uid, label string, p entity.Platform, now time.Time) (*entity.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active[uid] {
		return nil, apperr.NotFound("active restaurant")
	}
	key := uid + "|" + label + "|" + string(p)
	if existing, ok := m.byKey[key]; ok {
		d := m.devices[existing]
		d.IsOnline = true
		d.LastSeenAt = now
		c := *d
		return &c, nil
	}
	if _, ok := m.devices[id]; ok {
		return nil, ErrIDCollision
	}
	d := &entity.Device{RegistrationID: id, RestaurantUID: uid, DeviceLabel: label, Platform: p, IsOnline: true, LastSeenAt: now, CreatedAt: now}
	m.devices[id] = d
	m.byKey[key] = id
	c := *d
	return &c, nil
}

func (m *MemoryRepo) Touch(_ context.Context, id string, now time.Time) (*entity.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || !m.active[d.RestaurantUID] {
		return nil, apperr.NotFound("device")
	}
	d.IsOnline = true
	d.LastSeenAt = now
	c := *d
	return &c, nil
}

func (m *MemoryRepo) MarkOffline(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return apperr.NotFound("device")
	}
	d.IsOnline = false
	return nil
}

func (m *MemoryRepo) ListByRestaurant(_ context.Context, uid string) ([]entity.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entity.Device{}
	for _, d := range m.devices {
		if d.RestaurantUID == uid {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RegistrationID < out[j].RegistrationID
	})
	return out, nil
}

func (m *MemoryRepo) MarkStale(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.devices {
		if d.IsOnline && d.LastSeenAt.Before(cutoff) {
			d.IsOnline = false
			n++
		}
	}
	return n, nil
}
