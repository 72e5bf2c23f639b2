package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit/entity"
)

// MemoryRepo keeps entries in process with the same ordering and filter
// semantics as AuditRepo. Used by tests.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []entity.Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (m *MemoryRepo) Insert(_ context.Context, e *entity.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	if e.RestaurantUID != nil {
		uid := *e.RestaurantUID
		c.RestaurantUID = &uid
	}
	m.entries = append(m.entries, c)
	return nil
}

func (m *MemoryRepo) Query(_ context.Context, f entity.Filter) ([]entity.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entity.Entry{}
	for _, e := range m.entries {
		if f.RestaurantUID != "" && (e.RestaurantUID == nil || *e.RestaurantUID != f.RestaurantUID) {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].LogID < out[j].LogID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// All returns every stored entry in insertion order.
func (m *MemoryRepo) All() []entity.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.Entry(nil), m.entries...)
}
