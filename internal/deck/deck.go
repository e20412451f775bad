// Package deck manages the card collection: creation, edits, search and statistics.
package deck

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/conorfennell/capdeck/internal/domain"
	"github.com/conorfennell/capdeck/internal/due"
	"github.com/conorfennell/capdeck/internal/storage"
)

var (
	// ErrCardNotFound is returned when no card has the requested ID.
	ErrCardNotFound = errors.New("deck: card not found")
	// ErrDuplicateCard is returned when a card with the same front and language,
	// or the same pair reversed, already exists.
	ErrDuplicateCard = errors.New("deck: card already exists")
)

const (
	DefaultLanguage = "english"
	QuickAddTag     = "quick-add"
)

// NewCardInput describes a card to create.
type NewCardInput struct {
	Front         string   `json:"front" validate:"required,max=500"`
	Back          string   `json:"back" validate:"required,max=2000"`
	Definition    string   `json:"definition" validate:"max=4000"`
	Pronunciation string   `json:"pronunciation" validate:"max=200"`
	Language      string   `json:"language" validate:"max=64"`
	Tags          []string `json:"tags" validate:"dive,required,max=64"`
}

// Edit changes content fields. Nil fields are left alone; scheduling state is never touched.
type Edit struct {
	Front         *string   `json:"front" validate:"omitnil,min=1,max=500"`
	Back          *string   `json:"back" validate:"omitnil,min=1,max=2000"`
	Definition    *string   `json:"definition" validate:"omitnil,max=4000"`
	Pronunciation *string   `json:"pronunciation" validate:"omitnil,max=200"`
	Language      *string   `json:"language" validate:"omitnil,max=64"`
	Tags          *[]string `json:"tags" validate:"omitnil,dive,required,max=64"`
}

// Stats summarizes the collection.
type Stats struct {
	due.Counts
	ReviewedToday int `json:"reviewedToday"`
	StudyProgress int `json:"studyProgress"` // percentage of cards in the review bucket
}

// Service owns the card collection behind a storage.CardStore.
type Service struct {
	store    storage.CardStore
	clock    domain.Clock
	validate *validator.Validate
	newID    func() string
}

// NewService creates a deck service.
func NewService(store storage.CardStore, clock domain.Clock) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{
		store:    store,
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		newID:    uuid.NewString,
	}
}

// CreateOption adjusts Create and CreateMany.
type CreateOption func(*createOptions)

type createOptions struct {
	allowDuplicates bool
}

// AllowDuplicates skips the duplicate check.
func AllowDuplicates(allow bool) CreateOption {
	return func(o *createOptions) { o.allowDuplicates = allow }
}

// Create validates the input and stores a new card due one day from now.
func (s *Service) Create(ctx context.Context, in NewCardInput, opts ...CreateOption) (domain.Card, error) {
	cards, err := s.CreateMany(ctx, []NewCardInput{in}, opts...)
	if err != nil {
		return domain.Card{}, err
	}
	return cards[0], nil
}

// CreateMany validates every input before storing all cards in one write.
// Unless duplicates are allowed, an input matching a stored card or an
// earlier input rejects the whole batch.
func (s *Service) CreateMany(ctx context.Context, inputs []NewCardInput, opts ...CreateOption) ([]domain.Card, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	var existing []domain.Card
	if !o.allowDuplicates {
		var err error
		if existing, err = s.store.Load(ctx); err != nil {
			return nil, err
		}
	}

	cards := make([]domain.Card, 0, len(inputs))
	for i, in := range inputs {
		card, err := s.build(in)
		if err != nil {
			return nil, itemErr(len(inputs), i, err)
		}
		if !o.allowDuplicates {
			if dup, ok := findDuplicate(existing, card); ok {
				err := fmt.Errorf("%w: %q (%s) matches card %s", ErrDuplicateCard, card.Front, card.Language, dup.ID)
				return nil, itemErr(len(inputs), i, err)
			}
			existing = append(existing, card)
		}
		cards = append(cards, card)
	}
	if err := s.store.Save(ctx, cards); err != nil {
		return nil, fmt.Errorf("create %d cards: %w", len(cards), err)
	}
	return cards, nil
}

func itemErr(total, i int, err error) error {
	if total == 1 {
		return err
	}
	return fmt.Errorf("card %d: %w", i+1, err)
}

// findDuplicate matches front and language case-insensitively, and also
// catches the reversed pair (B->A when A->B exists) in the same language.
func findDuplicate(cards []domain.Card, c domain.Card) (domain.Card, bool) {
	front, back, lang := normalize(c.Front), normalize(c.Back), normalize(c.Language)
	for _, other := range cards {
		if normalize(other.Language) != lang {
			continue
		}
		otherFront := normalize(other.Front)
		if otherFront == front {
			return other, true
		}
		if back != "" && otherFront == back && normalize(other.Back) == front {
			return other, true
		}
	}
	return domain.Card{}, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *Service) build(in NewCardInput) (domain.Card, error) {
	in.Front = strings.TrimSpace(in.Front)
	in.Back = strings.TrimSpace(in.Back)
	if err := s.validate.Struct(in); err != nil {
		return domain.Card{}, fmt.Errorf("invalid card: %w", err)
	}
	if in.Language == "" {
		in.Language = DefaultLanguage
	}
	return domain.NewCard(s.newID(), domain.Content{
		Front:         in.Front,
		Back:          in.Back,
		Definition:    in.Definition,
		Pronunciation: in.Pronunciation,
		Language:      in.Language,
		Tags:          in.Tags,
	}, s.clock.Now()), nil
}

// QuickAdd stores a word and its translation tagged as a quick addition.
func (s *Service) QuickAdd(ctx context.Context, word, translation, language string, opts ...CreateOption) (domain.Card, error) {
	return s.Create(ctx, NewCardInput{
		Front:      word,
		Back:       translation,
		Definition: strings.TrimSpace(language + " word"),
		Language:   language,
		Tags:       []string{QuickAddTag},
	}, opts...)
}

// List returns every card.
func (s *Service) List(ctx context.Context) ([]domain.Card, error) {
	return s.store.Load(ctx)
}

// Get returns the card with the given ID.
func (s *Service) Get(ctx context.Context, id string) (domain.Card, error) {
	cards, err := s.store.Load(ctx)
	if err != nil {
		return domain.Card{}, err
	}
	for _, c := range cards {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Card{}, fmt.Errorf("%w: %s", ErrCardNotFound, id)
}

// Edit applies content changes to a card.
func (s *Service) Edit(ctx context.Context, id string, e Edit) (domain.Card, error) {
	e.Front = trimmed(e.Front)
	e.Back = trimmed(e.Back)
	if err := s.validate.Struct(e); err != nil {
		return domain.Card{}, fmt.Errorf("invalid edit: %w", err)
	}
	card, err := s.Get(ctx, id)
	if err != nil {
		return domain.Card{}, err
	}
	if e.Front != nil {
		card.Front = *e.Front
	}
	if e.Back != nil {
		card.Back = *e.Back
	}
	if e.Definition != nil {
		card.Definition = *e.Definition
	}
	if e.Pronunciation != nil {
		card.Pronunciation = *e.Pronunciation
	}
	if e.Language != nil {
		card.Language = *e.Language
	}
	if e.Tags != nil {
		card.Tags = append([]string(nil), (*e.Tags)...)
	}
	if err := s.store.Save(ctx, []domain.Card{card}); err != nil {
		return domain.Card{}, fmt.Errorf("edit card %s: %w", id, err)
	}
	return card, nil
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

// Delete permanently removes a card.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// Due returns the cards due now for the filter.
func (s *Service) Due(ctx context.Context, filter due.Filter) ([]domain.Card, error) {
	cards, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return due.Cards(cards, s.clock.Now(), filter), nil
}

// Search matches query case-insensitively against front, back and definition.
// An empty query returns every card.
func (s *Service) Search(ctx context.Context, query string) ([]domain.Card, error) {
	cards, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return cards, nil
	}
	out := make([]domain.Card, 0)
	for _, c := range cards {
		if strings.Contains(strings.ToLower(c.Front), q) ||
			strings.Contains(strings.ToLower(c.Back), q) ||
			strings.Contains(strings.ToLower(c.Definition), q) {
			out = append(out, c)
		}
	}
	return out, nil
}

// FilterByTags returns cards carrying any of tags. No tags returns every card.
func (s *Service) FilterByTags(ctx context.Context, tags []string) ([]domain.Card, error) {
	cards, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return cards, nil
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	out := make([]domain.Card, 0)
	for _, c := range cards {
		for _, t := range c.Tags {
			if want[t] {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// AllTags returns the sorted set of tags in use.
func (s *Service) AllTags(ctx context.Context) ([]string, error) {
	cards, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	tags := make([]string, 0)
	for _, c := range cards {
		for _, t := range c.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// Stats counts cards by bucket and the reviews made since local midnight.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	cards, err := s.store.Load(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := s.clock.Now()
	stats := Stats{Counts: due.Count(cards, now)}

	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	for _, c := range cards {
		if c.LastReviewedAt != nil && !c.LastReviewedAt.Before(midnight) {
			stats.ReviewedToday++
		}
	}
	if len(cards) > 0 {
		stats.StudyProgress = int(math.Round(float64(stats.Review) / float64(len(cards)) * 100))
	}
	return stats, nil
}
