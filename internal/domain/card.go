package domain

import (
	"encoding/json"
	"time"
)

const (
	// DefaultEaseFactor is the ease a card starts with.
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor the ease factor is clamped to.
	MinEaseFactor = 1.3
	// MatureIntervalDays is the interval at which a card leaves the learning bucket.
	MatureIntervalDays = 21
	// MaxIntervalDays caps how far ahead a card can be scheduled.
	MaxIntervalDays = 36500

	day = 24 * time.Hour
)

// Card is one vocabulary item under spaced repetition.
type Card struct {
	ID            string   `json:"id"`
	Front         string   `json:"front"`
	Back          string   `json:"back"`
	Definition    string   `json:"definition,omitempty"`
	Pronunciation string   `json:"pronunciation,omitempty"`
	Language      string   `json:"language"`
	Tags          []string `json:"tags,omitempty"`

	IntervalDays   int        `json:"intervalDays"`
	EaseFactor     float64    `json:"easeFactor"`
	ReviewCount    int        `json:"reviewCount"`
	LastReviewedAt *time.Time `json:"lastReviewedAt,omitempty"` // nil before first review
	NextDueAt      time.Time  `json:"nextDueAt"`
	CreatedAt      time.Time  `json:"createdAt"`

	// Fingerprint and SourceID are set for cards imported from a deck source.
	Fingerprint string `json:"fingerprint,omitempty"`
	SourceID    int64  `json:"sourceId,omitempty"`
}

// Content holds the editable, non-scheduling fields of a card.
type Content struct {
	Front         string
	Back          string
	Definition    string
	Pronunciation string
	Language      string
	Tags          []string
}

// NewCard returns a card with default scheduling state, first due one day after now.
func NewCard(id string, c Content, now time.Time) Card {
	return Card{
		ID:            id,
		Front:         c.Front,
		Back:          c.Back,
		Definition:    c.Definition,
		Pronunciation: c.Pronunciation,
		Language:      c.Language,
		Tags:          append([]string(nil), c.Tags...),
		IntervalDays:  1,
		EaseFactor:    DefaultEaseFactor,
		NextDueAt:     now.Add(day),
		CreatedAt:     now,
	}
}

// Bucket derives the card's learning stage from its scheduling fields.
func (c Card) Bucket() Bucket {
	return BucketFor(c.ReviewCount, c.IntervalDays, c.LastReviewedAt != nil)
}

// MarshalJSON adds the derived bucket to the card's fields.
func (c Card) MarshalJSON() ([]byte, error) {
	type plain Card
	return json.Marshal(struct {
		plain
		Bucket Bucket `json:"bucket"`
	}{plain(c), c.Bucket()})
}

// IsDue reports whether the card is scheduled at or before now.
func (c Card) IsDue(now time.Time) bool {
	return !c.NextDueAt.After(now)
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	if c.LastReviewedAt != nil {
		t := *c.LastReviewedAt
		out.LastReviewedAt = &t
	}
	return out
}

// Answer records a single review event within a study session.
type Answer struct {
	CardID     string    `json:"cardId"`
	Quality    int       `json:"quality"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// DueAfter returns lastReviewed + intervalDays calendar days. Intervals
// beyond MaxIntervalDays are capped.
func DueAfter(lastReviewed time.Time, intervalDays int) time.Time {
	return lastReviewed.AddDate(0, 0, min(intervalDays, MaxIntervalDays))
}
