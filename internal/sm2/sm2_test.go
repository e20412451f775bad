package sm2

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/conorfennell/capdeck/internal/domain"
)

var now = time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC)

func newCard() domain.Card {
	return domain.NewCard("c1", domain.Content{Front: "gato", Back: "cat", Language: "spanish"}, now.Add(-48*time.Hour))
}

func TestApplyReviewScenarios(t *testing.T) {
	params := DefaultParams()

	t.Run("first perfect review", func(t *testing.T) {
		card, err := params.ApplyReview(newCard(), Perfect, now)
		if err != nil {
			t.Fatalf("ApplyReview() returned an unexpected error: %v", err)
		}
		if card.ReviewCount != 1 || card.IntervalDays != 1 {
			t.Errorf("Expected reviewCount=1 interval=1, but got reviewCount=%d interval=%d", card.ReviewCount, card.IntervalDays)
		}
		if math.Abs(card.EaseFactor-2.6) > 1e-9 {
			t.Errorf("Expected ease to be around 2.6, but got %.4f", card.EaseFactor)
		}
		if card.Bucket() != domain.Learning {
			t.Errorf("Expected learning bucket, but got %s", card.Bucket())
		}
	})

	t.Run("second pass jumps to six days", func(t *testing.T) {
		in := newCard()
		in.ReviewCount, in.IntervalDays, in.EaseFactor = 1, 1, 2.5
		card, err := params.ApplyReview(in, Hesitant, now)
		if err != nil {
			t.Fatalf("ApplyReview() returned an unexpected error: %v", err)
		}
		if card.ReviewCount != 2 || card.IntervalDays != 6 {
			t.Errorf("Expected reviewCount=2 interval=6, but got reviewCount=%d interval=%d", card.ReviewCount, card.IntervalDays)
		}
		if math.Abs(card.EaseFactor-2.5) > 1e-9 {
			t.Errorf("Expected ease to stay 2.5 for quality 4, but got %.4f", card.EaseFactor)
		}
	})

	t.Run("third pass multiplies by ease", func(t *testing.T) {
		in := newCard()
		in.ReviewCount, in.IntervalDays, in.EaseFactor = 2, 6, 2.5
		card, err := params.ApplyReview(in, Difficult, now)
		if err != nil {
			t.Fatalf("ApplyReview() returned an unexpected error: %v", err)
		}
		if card.IntervalDays != 15 {
			t.Errorf("Expected interval round(6*2.5)=15, but got %d", card.IntervalDays)
		}
		// 2.5 + (0.1 - 2*(0.08+2*0.02)) = 2.36
		if math.Abs(card.EaseFactor-2.36) > 1e-9 {
			t.Errorf("Expected ease to be around 2.36, but got %.4f", card.EaseFactor)
		}
	})

	t.Run("failure resets", func(t *testing.T) {
		in := newCard()
		in.ReviewCount, in.IntervalDays, in.EaseFactor = 6, 40, 2.2
		card, err := params.ApplyReview(in, Wrong, now)
		if err != nil {
			t.Fatalf("ApplyReview() returned an unexpected error: %v", err)
		}
		if card.ReviewCount != 0 || card.IntervalDays != 1 {
			t.Errorf("Expected reviewCount=0 interval=1, but got reviewCount=%d interval=%d", card.ReviewCount, card.IntervalDays)
		}
		if card.EaseFactor != 2.2 {
			t.Errorf("Expected ease to be unchanged by a failure, but got %.4f", card.EaseFactor)
		}
		if card.Bucket() != domain.Learning {
			t.Errorf("Expected learning bucket after a failure, but got %s", card.Bucket())
		}
		if !card.NextDueAt.Equal(now.Add(24 * time.Hour)) {
			t.Errorf("Expected card due one day later, but got %v", card.NextDueAt)
		}
	})

	t.Run("quality three passes", func(t *testing.T) {
		card, err := params.ApplyReview(newCard(), Difficult, now)
		if err != nil {
			t.Fatalf("ApplyReview() returned an unexpected error: %v", err)
		}
		if card.ReviewCount != 1 {
			t.Errorf("Expected quality 3 to count as a pass, but reviewCount is %d", card.ReviewCount)
		}
	})
}

func TestApplyReviewRejectsInvalidInput(t *testing.T) {
	params := DefaultParams()
	in := newCard()

	for _, q := range []Quality{-1, 6, 42} {
		_, err := params.ApplyReview(in, q, now)
		if !errors.Is(err, ErrInvalidQuality) {
			t.Errorf("Expected ErrInvalidQuality for %d, but got %v", q, err)
		}
	}

	bad := in
	bad.EaseFactor = 1.1
	if _, err := params.ApplyReview(bad, Perfect, now); !errors.Is(err, ErrInvalidCard) {
		t.Errorf("Expected ErrInvalidCard for low ease, but got %v", err)
	}
	bad = in
	bad.IntervalDays = 0
	if _, err := params.ApplyReview(bad, Perfect, now); !errors.Is(err, ErrInvalidCard) {
		t.Errorf("Expected ErrInvalidCard for zero interval, but got %v", err)
	}
}

func TestApplyReviewDoesNotMutateInput(t *testing.T) {
	in := newCard()
	before := in.Clone()
	if _, err := DefaultParams().ApplyReview(in, Perfect, now); err != nil {
		t.Fatalf("ApplyReview() returned an unexpected error: %v", err)
	}
	if in.ReviewCount != before.ReviewCount || in.LastReviewedAt != nil || !in.NextDueAt.Equal(before.NextDueAt) {
		t.Error("Expected the input card to be left untouched")
	}
}

func TestEaseFloorHoldsForAnySequence(t *testing.T) {
	params := DefaultParams()
	rng := rand.New(rand.NewSource(7))
	card := newCard()
	at := now
	for i := 0; i < 500; i++ {
		q := Quality(rng.Intn(6))
		next, err := params.ApplyReview(card, q, at)
		if err != nil {
			t.Fatalf("review %d: unexpected error: %v", i, err)
		}
		if next.EaseFactor < domain.MinEaseFactor {
			t.Fatalf("review %d: ease %.4f fell below the floor", i, next.EaseFactor)
		}
		if next.IntervalDays < 1 {
			t.Fatalf("review %d: interval %d fell below one day", i, next.IntervalDays)
		}
		if !q.Passed() && (next.ReviewCount != 0 || next.IntervalDays != 1) {
			t.Fatalf("review %d: failure did not reset the card", i)
		}
		card = next
		at = at.Add(time.Hour)
	}
}

func TestThirdPassGrowsInterval(t *testing.T) {
	params := DefaultParams()
	for _, q := range []Quality{Difficult, Hesitant, Perfect} {
		card := newCard()
		var err error
		for i := 0; i < 2; i++ {
			if card, err = params.ApplyReview(card, q, now); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		second := card
		third, err := params.ApplyReview(second, q, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := int(math.Round(float64(second.IntervalDays) * second.EaseFactor))
		if third.IntervalDays != expected {
			t.Errorf("quality %d: expected interval %d, but got %d", q, expected, third.IntervalDays)
		}
		if third.IntervalDays <= second.IntervalDays {
			t.Errorf("quality %d: expected interval to grow past %d, got %d", q, second.IntervalDays, third.IntervalDays)
		}
	}
}

func TestMaxEase(t *testing.T) {
	params := DefaultParams()
	params.MaxEase = 2.55
	card, err := params.ApplyReview(newCard(), Perfect, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if card.EaseFactor != 2.55 {
		t.Errorf("Expected ease capped at 2.55, but got %.4f", card.EaseFactor)
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("Expected default params to be valid, got %v", err)
	}
	invalid := []struct {
		name   string
		mutate func(*Params)
	}{
		{"max ease below floor", func(p *Params) { p.MaxEase = 1.2 }},
		{"max interval above ceiling", func(p *Params) { p.MaxInterval = domain.MaxIntervalDays + 1 }},
		{"max interval below second step", func(p *Params) { p.MaxInterval = 3 }},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			tc.mutate(p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Expected ErrInvalidParams, but got %v", err)
			}
		})
	}
}

func TestLongPassStreakStaysBounded(t *testing.T) {
	testCases := []struct {
		name        string
		maxInterval int
		expectedCap int
	}{
		{"default ceiling", 0, domain.MaxIntervalDays},
		{"configured ceiling", 365, 365},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			params := DefaultParams()
			params.MaxInterval = tc.maxInterval
			card := newCard()
			at := now
			prev := 0
			for i := 0; i < 60; i++ {
				next, err := params.ApplyReview(card, Perfect, at)
				if err != nil {
					t.Fatalf("review %d: unexpected error: %v", i+1, err)
				}
				if next.IntervalDays < prev || next.IntervalDays > tc.expectedCap {
					t.Fatalf("review %d: interval %d outside [%d, %d]", i+1, next.IntervalDays, prev, tc.expectedCap)
				}
				if !next.NextDueAt.After(at) {
					t.Fatalf("review %d: due %s is not after %s", i+1, next.NextDueAt, at)
				}
				prev = next.IntervalDays
				card = next
				at = next.NextDueAt
			}
			if card.IntervalDays != tc.expectedCap {
				t.Errorf("Expected the interval to settle at %d, got %d", tc.expectedCap, card.IntervalDays)
			}
		})
	}
}
