package backend

import (
	"bytes"
	"context"
	"sync"

	"github.com/encsearch/findex/internal/model"
)

// MemoryStore is the in-process reference implementation of Store. It backs
// the property tests and small single-process indexes.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[model.Token][]byte
}

// NewMemoryStore creates an empty in-memory table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[model.Token][]byte),
	}
}

func (m *MemoryStore) DumpTokens(ctx context.Context) ([]model.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens := make([]model.Token, 0, len(m.rows))
	for t := range m.rows {
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func (m *MemoryStore) Fetch(ctx context.Context, tokens []model.Token) (map[model.Token][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := make(map[model.Token][]byte, len(tokens))
	for _, t := range tokens {
		if v, ok := m.rows[t]; ok {
			found[t] = bytes.Clone(v)
		}
	}
	return found, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, oldValues, newValues map[model.Token][]byte) (map[model.Token][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rejected := make(map[model.Token][]byte)
	for t, newValue := range newValues {
		current, exists := m.rows[t]
		expected, conditioned := oldValues[t]
		switch {
		case !exists && !conditioned:
			m.rows[t] = bytes.Clone(newValue)
		case exists && conditioned && bytes.Equal(current, expected):
			m.rows[t] = bytes.Clone(newValue)
		case exists:
			rejected[t] = bytes.Clone(current)
		default:
			// Conditioned on a value, but the row is gone. Rows are never
			// deleted outside compaction, so surface it as a rejection with
			// no current value rather than guessing.
			rejected[t] = nil
		}
	}
	return rejected, nil
}

func (m *MemoryStore) Insert(ctx context.Context, rows map[model.Token][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, v := range rows {
		m.rows[t] = bytes.Clone(v)
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, tokens []model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		delete(m.rows, t)
	}
	return nil
}

// Len returns the number of stored rows.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Clear removes every row. Definitive; tests only.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[model.Token][]byte)
}
