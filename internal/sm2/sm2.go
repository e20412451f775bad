// Package sm2 implements the SM-2 spaced-repetition schedule used for cards.
package sm2

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/capdeck/internal/domain"
)

var (
	// ErrInvalidQuality is returned for a quality score outside [0, 5].
	ErrInvalidQuality = errors.New("sm2: quality must be between 0 and 5")
	// ErrInvalidCard is returned when the card's scheduling state breaks an invariant.
	ErrInvalidCard = errors.New("sm2: invalid card scheduling state")
	// ErrInvalidParams is returned by Validate for unusable parameters.
	ErrInvalidParams = errors.New("sm2: invalid parameters")
)

// Quality is the self-reported recall score for one review.
// 0 is a total blackout, 5 a perfect effortless recall.
type Quality int

const (
	Blackout  Quality = 0
	Wrong     Quality = 1
	Familiar  Quality = 2
	Difficult Quality = 3 // lowest passing score
	Hesitant  Quality = 4
	Perfect   Quality = 5
)

// Valid reports whether q is within [0, 5].
func (q Quality) Valid() bool {
	return q >= Blackout && q <= Perfect
}

// Passed reports whether q counts as a successful recall.
func (q Quality) Passed() bool {
	return q >= Difficult
}

// Params holds the tunables of the schedule.
type Params struct {
	MinEase        float64 // ease floor
	MaxEase        float64 // ease ceiling; zero disables it
	FirstInterval  int     // days after the first pass
	SecondInterval int     // days after the second consecutive pass
	MaxInterval    int     // interval ceiling in days; zero means domain.MaxIntervalDays
}

// DefaultParams returns the classic SM-2 constants with no ease ceiling.
func DefaultParams() *Params {
	return &Params{
		MinEase:        domain.MinEaseFactor,
		FirstInterval:  1,
		SecondInterval: 6,
		MaxInterval:    domain.MaxIntervalDays,
	}
}

// Validate checks that the parameters can uphold the card invariants.
func (p *Params) Validate() error {
	switch {
	case p.MinEase < domain.MinEaseFactor:
		return fmt.Errorf("%w: min ease %.2f below %.2f", ErrInvalidParams, p.MinEase, domain.MinEaseFactor)
	case p.MaxEase != 0 && p.MaxEase < p.MinEase:
		return fmt.Errorf("%w: max ease %.2f below min ease %.2f", ErrInvalidParams, p.MaxEase, p.MinEase)
	case p.FirstInterval < 1 || p.SecondInterval < 1:
		return fmt.Errorf("%w: intervals must be at least one day", ErrInvalidParams)
	case p.MaxInterval < 0 || p.MaxInterval > domain.MaxIntervalDays:
		return fmt.Errorf("%w: max interval must be between 1 and %d days", ErrInvalidParams, domain.MaxIntervalDays)
	case p.MaxInterval != 0 && p.MaxInterval < max(p.FirstInterval, p.SecondInterval):
		return fmt.Errorf("%w: max interval %d below the fixed intervals", ErrInvalidParams, p.MaxInterval)
	}
	return nil
}

// ApplyReview returns the card rescheduled after a review of the given quality at now.
// The input card is not mutated; on error the zero Card is returned.
func (p *Params) ApplyReview(card domain.Card, quality Quality, now time.Time) (domain.Card, error) {
	if !quality.Valid() {
		return domain.Card{}, fmt.Errorf("%w: got %d", ErrInvalidQuality, int(quality))
	}
	if err := checkCard(card); err != nil {
		return domain.Card{}, err
	}

	c := card.Clone()
	if quality.Passed() {
		c.ReviewCount++
		c.IntervalDays = p.nextInterval(c.ReviewCount, c.IntervalDays, c.EaseFactor)
		c.EaseFactor = p.nextEase(c.EaseFactor, quality)
	} else {
		// Ease is only adjusted by passes.
		c.ReviewCount = 0
		c.IntervalDays = 1
	}

	reviewed := now
	c.LastReviewedAt = &reviewed
	c.NextDueAt = domain.DueAfter(reviewed, c.IntervalDays)
	return c, nil
}

// nextInterval uses the ease from before this review.
func (p *Params) nextInterval(reviewCount, interval int, ease float64) int {
	switch reviewCount {
	case 1:
		return p.FirstInterval
	case 2:
		return p.SecondInterval
	}
	// Clamp in float so the conversion cannot overflow.
	limit := p.MaxInterval
	if limit <= 0 {
		limit = domain.MaxIntervalDays
	}
	next := math.Round(float64(interval) * ease)
	if next > float64(limit) {
		return limit
	}
	return max(int(next), 1)
}

func (p *Params) nextEase(ease float64, quality Quality) float64 {
	miss := float64(Perfect - quality)
	ease += 0.1 - miss*(0.08+miss*0.02)
	if ease < p.MinEase {
		ease = p.MinEase
	}
	if p.MaxEase > 0 && ease > p.MaxEase {
		ease = p.MaxEase
	}
	return ease
}

func checkCard(c domain.Card) error {
	switch {
	case c.ReviewCount < 0:
		return fmt.Errorf("%w: card %s has review count %d", ErrInvalidCard, c.ID, c.ReviewCount)
	case c.EaseFactor < domain.MinEaseFactor:
		return fmt.Errorf("%w: card %s has ease %.2f", ErrInvalidCard, c.ID, c.EaseFactor)
	case c.IntervalDays < 1:
		return fmt.Errorf("%w: card %s has interval %d", ErrInvalidCard, c.ID, c.IntervalDays)
	}
	return nil
}
