package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBucketFor(t *testing.T) {
	testCases := []struct {
		name        string
		reviewCount int
		interval    int
		reviewed    bool
		expected    Bucket
	}{
		{"never reviewed", 0, 1, false, New},
		{"failed review", 0, 1, true, Learning},
		{"first pass", 1, 1, true, Learning},
		{"just below mature", 4, 20, true, Learning},
		{"mature boundary", 5, 21, true, Review},
		{"long interval", 9, 180, true, Review},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := BucketFor(tc.reviewCount, tc.interval, tc.reviewed)
			if got != tc.expected {
				t.Errorf("Expected bucket %s, but got %s", tc.expected, got)
			}
		})
	}
}

func TestBucketText(t *testing.T) {
	for _, b := range []Bucket{New, Learning, Review} {
		text, err := b.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d) returned an unexpected error: %v", b, err)
		}
		var parsed Bucket
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) returned an unexpected error: %v", text, err)
		}
		if parsed != b {
			t.Errorf("Expected %s, but got %s", b, parsed)
		}
	}

	var b Bucket
	if err := b.UnmarshalText([]byte("mature")); err == nil {
		t.Error("Expected an error for an unknown bucket name")
	}
	if s := Bucket(7).String(); s != "Bucket(7)" {
		t.Errorf("Expected 'Bucket(7)', but got '%s'", s)
	}
}

func TestNewCard(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	card := NewCard("c1", Content{Front: "hond", Back: "dog", Language: "dutch", Tags: []string{"animals"}}, now)

	if card.IntervalDays != 1 {
		t.Errorf("Expected interval 1, but got %d", card.IntervalDays)
	}
	if card.EaseFactor != DefaultEaseFactor {
		t.Errorf("Expected ease %.1f, but got %.2f", DefaultEaseFactor, card.EaseFactor)
	}
	if card.Bucket() != New {
		t.Errorf("Expected a new card, but got %s", card.Bucket())
	}
	if !card.NextDueAt.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("Expected card due tomorrow, but got %v", card.NextDueAt)
	}
	if card.IsDue(now) {
		t.Error("Expected a freshly created card not to be due yet")
	}
	if !card.IsDue(now.Add(24 * time.Hour)) {
		t.Error("Expected the card to be due exactly at NextDueAt")
	}
}

func TestCloneIsDeep(t *testing.T) {
	reviewed := time.Now()
	card := Card{ID: "c1", Tags: []string{"a"}, LastReviewedAt: &reviewed}
	clone := card.Clone()
	clone.Tags[0] = "b"
	*clone.LastReviewedAt = reviewed.Add(time.Hour)

	if card.Tags[0] != "a" {
		t.Error("Expected original tags to be untouched")
	}
	if !card.LastReviewedAt.Equal(reviewed) {
		t.Error("Expected original LastReviewedAt to be untouched")
	}
}

func TestCardJSONIncludesBucket(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	card := NewCard("c1", Content{Front: "hond", Back: "dog"}, now)
	reviewed := card.Clone()
	reviewed.ReviewCount = 6
	reviewed.IntervalDays = 30
	reviewed.LastReviewedAt = &now

	testCases := []struct {
		name     string
		card     Card
		expected string
	}{
		{"new", card, `"bucket":"new"`},
		{"review", reviewed, `"bucket":"review"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.card)
			if err != nil {
				t.Fatalf("Marshal returned an unexpected error: %v", err)
			}
			if !strings.Contains(string(data), tc.expected) || !strings.Contains(string(data), `"front":"hond"`) {
				t.Errorf("Expected %s alongside the card fields, got %s", tc.expected, data)
			}
			var back Card
			if err := json.Unmarshal(data, &back); err != nil || back.ID != "c1" {
				t.Errorf("Expected the card to decode again, got %+v, %v", back, err)
			}
		})
	}
}

func TestDueAfter(t *testing.T) {
	last := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	testCases := []struct {
		name     string
		interval int
		expected time.Time
	}{
		{"one day", 1, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
		{"across a leap day", 365, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"at the cap", MaxIntervalDays, last.AddDate(0, 0, MaxIntervalDays)},
		{"beyond the cap", 153069, last.AddDate(0, 0, MaxIntervalDays)},
		{"beyond a Duration", 1 << 40, last.AddDate(0, 0, MaxIntervalDays)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := DueAfter(last, tc.interval)
			if !got.Equal(tc.expected) {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
			if !got.After(last) {
				t.Errorf("Expected a due date after %s, got %s", last, got)
			}
		})
	}
}
