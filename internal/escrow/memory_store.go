package escrow

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for demo/development mode and tests.
// It enforces the same version-check contract as the Postgres store so the
// service's concurrency behavior is identical under both.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

func (s *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.ID]; exists {
		return ErrVersionConflict
	}
	s.txs[tx.ID] = tx.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tx.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, tx *Transaction, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.txs[tx.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}

	tx.Version = expectedVersion + 1
	s.txs[tx.ID] = tx.clone()
	return nil
}

func (s *MemoryStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for _, tx := range s.txs {
		if tx.HasParty(partyID) {
			out = append(out, tx.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
