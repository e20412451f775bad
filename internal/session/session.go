// Package session steps a learner through a queue of due cards.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/capdeck/internal/domain"
	"github.com/conorfennell/capdeck/internal/due"
	"github.com/conorfennell/capdeck/internal/sm2"
)

var (
	// ErrInvalidState is returned when an operation is called in the wrong lifecycle state.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrNoCardsAvailable is returned by Start when nothing is due.
	ErrNoCardsAvailable = errors.New("session: no cards available")
	// ErrCardRemoved is returned by Submit when the current card was deleted
	// from the store mid-session. The card is dropped from the queue.
	ErrCardRemoved = errors.New("session: card no longer exists")
)

// State is the lifecycle stage of a Controller.
type State int

const (
	Idle State = iota
	InProgress
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: cannot %s while %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// Store is the persistence the controller needs.
type Store interface {
	Load(ctx context.Context) ([]domain.Card, error)
	Save(ctx context.Context, cards []domain.Card) error
}

// Summary is returned when a session ends.
type Summary struct {
	CardsStudied int           `json:"cardsStudied"`
	Passed       int           `json:"passed"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"durationMs"`
	Accuracy     int           `json:"accuracy"` // rounded percentage of passing answers
}

// Progress describes how far through the queue the session is.
type Progress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Controller runs one study session at a time. It is not safe for concurrent use.
type Controller struct {
	store  Store
	clock  domain.Clock
	params *sm2.Params

	state     State
	cards     []domain.Card
	cursor    int
	answers   []domain.Answer
	startedAt time.Time
}

// New returns an idle controller. A nil params uses sm2.DefaultParams.
func New(store Store, clock domain.Clock, params *sm2.Params) *Controller {
	if params == nil {
		params = sm2.DefaultParams()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Controller{store: store, clock: clock, params: params}
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state }

// Start snapshots up to maxCards due cards matching filter.
// maxCards <= 0 means no limit.
func (c *Controller) Start(ctx context.Context, filter due.Filter, maxCards int) error {
	if c.state == InProgress {
		return &StateError{Op: "start", State: c.state}
	}
	all, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	queue := due.Cards(all, now, filter)
	if len(queue) == 0 {
		return ErrNoCardsAvailable
	}
	if maxCards > 0 && len(queue) > maxCards {
		queue = queue[:maxCards]
	}

	c.state = InProgress
	c.cards = queue
	c.cursor = 0
	c.answers = nil
	c.startedAt = now
	return nil
}

// Current returns the card being presented, or nil once the queue is exhausted
// or when no session is running.
func (c *Controller) Current() *domain.Card {
	if c.state != InProgress || c.cursor >= len(c.cards) {
		return nil
	}
	card := c.cards[c.cursor].Clone()
	return &card
}

// Submit records an answer for the current card, reschedules it and persists it.
// On error the session is left exactly as it was, except for ErrCardRemoved.
func (c *Controller) Submit(ctx context.Context, quality sm2.Quality) (domain.Card, error) {
	if c.state != InProgress {
		return domain.Card{}, &StateError{Op: "submit an answer", State: c.state}
	}
	if c.cursor >= len(c.cards) {
		return domain.Card{}, &StateError{Op: "submit past the end of the queue", State: c.state}
	}
	if !quality.Valid() {
		return domain.Card{}, fmt.Errorf("%w: got %d", sm2.ErrInvalidQuality, int(quality))
	}

	// Review the stored card, not the snapshot taken at Start, so edits made
	// since then survive and deleted cards stay deleted.
	fresh, found, err := c.lookup(ctx, c.cards[c.cursor].ID)
	if err != nil {
		return domain.Card{}, err
	}
	if !found {
		id := c.cards[c.cursor].ID
		c.cards = append(c.cards[:c.cursor:c.cursor], c.cards[c.cursor+1:]...)
		return domain.Card{}, fmt.Errorf("%w: %s", ErrCardRemoved, id)
	}

	now := c.clock.Now()
	updated, err := c.params.ApplyReview(fresh, quality, now)
	if err != nil {
		return domain.Card{}, err
	}
	if err := c.store.Save(ctx, []domain.Card{updated}); err != nil {
		return domain.Card{}, err
	}

	c.answers = append(c.answers, domain.Answer{CardID: updated.ID, Quality: int(quality), AnsweredAt: now})
	c.cards[c.cursor] = updated
	c.cursor++
	return updated, nil
}

func (c *Controller) lookup(ctx context.Context, id string) (domain.Card, bool, error) {
	all, err := c.store.Load(ctx)
	if err != nil {
		return domain.Card{}, false, err
	}
	for _, card := range all {
		if card.ID == id {
			return card, true, nil
		}
	}
	return domain.Card{}, false, nil
}

// Answers returns a copy of the answer log.
func (c *Controller) Answers() []domain.Answer {
	return append([]domain.Answer(nil), c.answers...)
}

// Progress reports the position in the queue; the zero value when idle.
func (c *Controller) Progress() Progress {
	if c.state != InProgress || len(c.cards) == 0 {
		return Progress{}
	}
	return Progress{
		Current:    min(c.cursor+1, len(c.cards)),
		Total:      len(c.cards),
		Percentage: int(math.Round(float64(c.cursor) / float64(len(c.cards)) * 100)),
	}
}

// End finishes the session and discards its state.
func (c *Controller) End() (Summary, error) {
	if c.state != InProgress {
		return Summary{}, &StateError{Op: "end", State: c.state}
	}
	summary := Summarize(c.answers, c.clock.Now().Sub(c.startedAt))

	c.state = Completed
	c.cards = nil
	c.cursor = 0
	c.answers = nil
	c.startedAt = time.Time{}
	return summary, nil
}

// Summarize aggregates an answer log.
func Summarize(answers []domain.Answer, elapsed time.Duration) Summary {
	s := Summary{CardsStudied: len(answers), Duration: elapsed, DurationMs: elapsed.Milliseconds()}
	for _, a := range answers {
		if sm2.Quality(a.Quality).Passed() {
			s.Passed++
		}
	}
	if s.CardsStudied > 0 {
		s.Accuracy = int(math.Round(float64(s.Passed) / float64(s.CardsStudied) * 100))
	}
	return s
}
