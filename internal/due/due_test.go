package due

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/conorfennell/capdeck/internal/domain"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func card(id string, bucket domain.Bucket, dueOffset time.Duration) domain.Card {
	c := domain.Card{ID: id, IntervalDays: 1, EaseFactor: 2.5, NextDueAt: now.Add(dueOffset)}
	reviewed := now.Add(-72 * time.Hour)
	switch bucket {
	case domain.Learning:
		c.ReviewCount, c.IntervalDays, c.LastReviewedAt = 2, 6, &reviewed
	case domain.Review:
		c.ReviewCount, c.IntervalDays, c.LastReviewedAt = 5, 30, &reviewed
	}
	return c
}

func ids(cards []domain.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}

func TestCards(t *testing.T) {
	all := []domain.Card{
		card("review-old", domain.Review, -10*time.Hour),
		card("new-recent", domain.New, -1*time.Hour),
		card("learning", domain.Learning, -5*time.Hour),
		card("new-old", domain.New, -3*time.Hour),
		card("future", domain.New, time.Hour),
		card("exact", domain.Review, 0),
	}

	testCases := []struct {
		name     string
		filter   Filter
		expected []string
	}{
		{"all", All, []string{"new-old", "new-recent", "learning", "review-old", "exact"}},
		{"new", New, []string{"new-old", "new-recent"}},
		{"learning", Learning, []string{"learning"}},
		{"review", Review, []string{"review-old", "exact"}},
		{"difficult", Difficult, []string{"new-old", "new-recent", "learning"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ids(Cards(all, now, tc.filter))
			if len(got) != len(tc.expected) {
				t.Fatalf("Expected %v, but got %v", tc.expected, got)
			}
			for i := range got {
				if got[i] != tc.expected[i] {
					t.Errorf("Expected %v, but got %v", tc.expected, got)
					break
				}
			}
		})
	}
}

func TestCardsEmptyIsNotNil(t *testing.T) {
	got := Cards([]domain.Card{card("future", domain.New, time.Hour)}, now, All)
	if got == nil || len(got) != 0 {
		t.Errorf("Expected an empty non-nil slice, but got %#v", got)
	}
}

func TestCardsDueSetAndOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	buckets := []domain.Bucket{domain.New, domain.Learning, domain.Review}
	var all []domain.Card
	for i := 0; i < 200; i++ {
		offset := time.Duration(rng.Intn(48)-24) * time.Hour
		all = append(all, card(string(rune('a'+i%26))+string(rune('0'+i/26)), buckets[rng.Intn(3)], offset))
	}

	got := Cards(all, now, All)
	included := make(map[string]bool)
	for _, c := range got {
		included[c.ID] = true
	}
	for _, c := range all {
		if included[c.ID] != !c.NextDueAt.After(now) {
			t.Errorf("card %s: due=%v but included=%v", c.ID, !c.NextDueAt.After(now), included[c.ID])
		}
	}

	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.Bucket() > cur.Bucket() {
			t.Fatalf("bucket order broken at %d: %s before %s", i, prev.Bucket(), cur.Bucket())
		}
		if prev.Bucket() == cur.Bucket() && prev.NextDueAt.After(cur.NextDueAt) {
			t.Fatalf("due order broken at %d within %s", i, cur.Bucket())
		}
	}
}

func TestCardsDoesNotMutate(t *testing.T) {
	all := []domain.Card{card("b", domain.Review, -time.Hour), card("a", domain.New, -time.Hour)}
	Cards(all, now, All)
	if all[0].ID != "b" || all[1].ID != "a" {
		t.Error("Expected input order to be preserved")
	}
}

func TestParseFilter(t *testing.T) {
	if f, err := ParseFilter(""); err != nil || f != All {
		t.Errorf("Expected empty filter to mean all, got %q, %v", f, err)
	}
	if f, err := ParseFilter("difficult"); err != nil || f != Difficult {
		t.Errorf("Expected difficult, got %q, %v", f, err)
	}
	if _, err := ParseFilter("mature"); !errors.Is(err, ErrUnknownFilter) {
		t.Error("Expected an error for an unknown filter")
	}
}

func TestCount(t *testing.T) {
	all := []domain.Card{
		card("n", domain.New, -time.Hour),
		card("l", domain.Learning, time.Hour),
		card("r", domain.Review, -time.Hour),
	}
	counts := Count(all, now)
	expected := Counts{Total: 3, Due: 2, New: 1, Learning: 1, Review: 1}
	if counts != expected {
		t.Errorf("Expected %+v, but got %+v", expected, counts)
	}
}
