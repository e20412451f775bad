// Package due selects and orders the cards eligible for review.
package due

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/conorfennell/capdeck/internal/domain"
)

// ErrUnknownFilter is returned by ParseFilter for an unrecognized name.
var ErrUnknownFilter = errors.New("due: unknown filter")

// Filter restricts due cards to one or more buckets.
type Filter string

const (
	All       Filter = "all"
	New       Filter = "new"
	Learning  Filter = "learning"
	Review    Filter = "review"
	Difficult Filter = "difficult" // new and learning
)

// ParseFilter accepts the filter names; an empty string means All.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case "":
		return All, nil
	case All, New, Learning, Review, Difficult:
		return f, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownFilter, s)
	}
}

// Includes reports whether cards in bucket b pass the filter.
func (f Filter) Includes(b domain.Bucket) bool {
	switch f {
	case New:
		return b == domain.New
	case Learning:
		return b == domain.Learning
	case Review:
		return b == domain.Review
	case Difficult:
		return b == domain.New || b == domain.Learning
	default:
		return true
	}
}

// Cards returns the cards due at now that pass the filter, new before learning
// before review and most overdue first within a bucket. The input is not modified.
func Cards(all []domain.Card, now time.Time, filter Filter) []domain.Card {
	out := make([]domain.Card, 0)
	for _, c := range all {
		if c.IsDue(now) && filter.Includes(c.Bucket()) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := out[i].Bucket(), out[j].Bucket()
		if bi != bj {
			return bi < bj
		}
		if !out[i].NextDueAt.Equal(out[j].NextDueAt) {
			return out[i].NextDueAt.Before(out[j].NextDueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Counts summarizes a collection by bucket.
type Counts struct {
	Total    int `json:"total"`
	Due      int `json:"due"`
	New      int `json:"new"`
	Learning int `json:"learning"`
	Review   int `json:"review"`
}

// Count tallies all cards by bucket and how many are due at now.
func Count(all []domain.Card, now time.Time) Counts {
	counts := Counts{Total: len(all)}
	for _, c := range all {
		if c.IsDue(now) {
			counts.Due++
		}
		switch c.Bucket() {
		case domain.New:
			counts.New++
		case domain.Learning:
			counts.Learning++
		case domain.Review:
			counts.Review++
		}
	}
	return counts
}
