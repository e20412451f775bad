// Package redisstore keeps the card collection in a Redis hash.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conorfennell/capdeck/internal/domain"
	"github.com/conorfennell/capdeck/internal/storage"
)

// Store is a storage.CardStore over one Redis hash keyed by card ID.
type Store struct {
	rdb *goredis.Client
	key string
}

var _ storage.CardStore = (*Store)(nil)

// Open connects to addr and verifies the connection.
// Cards live under "<prefix>:cards".
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(rdb, prefix), nil
}

// New wraps an existing client.
func New(rdb *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "capdeck"
	}
	return &Store{rdb: rdb, key: prefix + ":cards"}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Load returns every card ordered by creation time.
func (s *Store) Load(ctx context.Context) ([]domain.Card, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", s.key, err)
	}
	cards := make([]domain.Card, 0, len(raw))
	for id, v := range raw {
		var c domain.Card
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, fmt.Errorf("decode card %s: %w", id, err)
		}
		cards = append(cards, c)
	}
	sort.Slice(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		}
		return cards[i].ID < cards[j].ID
	})
	return cards, nil
}

// Save writes all cards in a single MULTI/EXEC.
func (s *Store) Save(ctx context.Context, cards []domain.Card) error {
	if len(cards) == 0 {
		return nil
	}
	values := make([]any, 0, 2*len(cards))
	for _, c := range cards {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode card %s: %w", c.ID, err)
		}
		values = append(values, c.ID, raw)
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %d cards: %w", len(cards), err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.HDel(ctx, s.key, ids...).Err(); err != nil {
		return fmt.Errorf("redis delete %v: %w", ids, err)
	}
	return nil
}
