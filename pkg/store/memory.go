package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/intentx-hq/intentd/pkg/models"
)

// MemoryStore keeps intents in a mutex-guarded map. The single lock is the
// linearization point for CompareAndTransition; throughput is traded for
// simplicity, which is fine for the demo and for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*models.Intent
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*models.Intent)}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, intent *models.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.intents[intent.ID]; ok {
		return ErrDuplicateID
	}
	m.intents[intent.ID] = cloneIntent(intent)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*models.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIntent(intent), nil
}

// ListByUser implements Store. Ordering is most-recent-first.
func (m *MemoryStore) ListByUser(_ context.Context, userAddress string) ([]*models.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*models.Intent, 0)
	for _, intent := range m.intents {
		if strings.EqualFold(intent.UserAddress, userAddress) {
			results = append(results, cloneIntent(intent))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// ListPending implements Store. Ordering is oldest-first for FIFO sweeps.
func (m *MemoryStore) ListPending(_ context.Context) ([]*models.Intent, error) {
	return m.listByStatus(models.StatusPending), nil
}

// ListExecuting implements Store.
func (m *MemoryStore) ListExecuting(_ context.Context) ([]*models.Intent, error) {
	return m.listByStatus(models.StatusExecuting), nil
}

func (m *MemoryStore) listByStatus(status models.Status) []*models.Intent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*models.Intent, 0)
	for _, intent := range m.intents {
		if intent.Status == status {
			results = append(results, cloneIntent(intent))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// CompareAndTransition implements Store. The write lock makes the
// check-then-mutate sequence atomic: a concurrent call against the same id
// either runs before (and wins) or after (and sees the new status).
func (m *MemoryStore) CompareAndTransition(_ context.Context, id string, expected models.Status, mutate Mutation) (*models.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if intent.Status != expected {
		return cloneIntent(intent), ErrStaleState
	}
	mutate(intent)
	return cloneIntent(intent), nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context, userAddress string) (models.Analytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matching := make([]*models.Intent, 0, len(m.intents))
	for _, intent := range m.intents {
		if userAddress != "" && !strings.EqualFold(intent.UserAddress, userAddress) {
			continue
		}
		matching = append(matching, intent)
	}
	return aggregateStats(matching), nil
}

// Close implements Store. A no-op for the in-memory map.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneIntent(intent *models.Intent) *models.Intent {
	clone := *intent
	if intent.ExecutedAt != nil {
		at := *intent.ExecutedAt
		clone.ExecutedAt = &at
	}
	return &clone
}
