package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/conorfennell/capdeck/internal/domain"
)

// ErrUnsupported is returned when a backend lacks an optional capability.
var ErrUnsupported = errors.New("storage: operation not supported by this backend")

// CardStore persists the card collection.
// Save upserts the given cards as a single all-or-nothing write.
type CardStore interface {
	Load(ctx context.Context) ([]domain.Card, error)
	Save(ctx context.Context, cards []domain.Card) error
	Delete(ctx context.Context, ids ...string) error
}

// Memory is a CardStore kept in process memory.
type Memory struct {
	mu    sync.Mutex
	cards map[string]domain.Card
	order []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{cards: make(map[string]domain.Card)}
}

// Load returns copies of all cards in insertion order.
func (m *Memory) Load(ctx context.Context) ([]domain.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cards := make([]domain.Card, 0, len(m.order))
	for _, id := range m.order {
		cards = append(cards, m.cards[id].Clone())
	}
	return cards, nil
}

func (m *Memory) Save(ctx context.Context, cards []domain.Card) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range cards {
		if _, ok := m.cards[c.ID]; !ok {
			m.order = append(m.order, c.ID)
		}
		m.cards[c.ID] = c.Clone()
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.cards[id]; ok {
			delete(m.cards, id)
			gone[id] = true
		}
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if !gone[id] {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return nil
}
