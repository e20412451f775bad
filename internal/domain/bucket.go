package domain

import (
	"encoding"
	"fmt"
)

// Bucket is the coarse learning stage of a card.
type Bucket int

const (
	New      Bucket = iota // never reviewed
	Learning               // interval below MatureIntervalDays
	Review                 // interval at or above MatureIntervalDays
)

var bucketNames = [...]string{New: "new", Learning: "learning", Review: "review"}

var (
	_ fmt.Stringer             = Bucket(0)
	_ encoding.TextMarshaler   = Bucket(0)
	_ encoding.TextUnmarshaler = (*Bucket)(nil)
)

// BucketFor classifies scheduling state. A card counts as new only until its
// first review; a failed card (reviewCount reset to 0) is back in learning.
func BucketFor(reviewCount, intervalDays int, reviewed bool) Bucket {
	switch {
	case reviewCount == 0 && !reviewed:
		return New
	case intervalDays < MatureIntervalDays:
		return Learning
	default:
		return Review
	}
}

func (b Bucket) valid() bool {
	return b >= New && b <= Review
}

// String returns "new", "learning" or "review", or "Bucket(n)" for invalid values.
func (b Bucket) String() string {
	if b.valid() {
		return bucketNames[b]
	}
	return fmt.Sprintf("Bucket(%d)", int(b))
}

// MarshalText implements encoding.TextMarshaler.
func (b Bucket) MarshalText() ([]byte, error) {
	if !b.valid() {
		return nil, fmt.Errorf("invalid bucket: %d", int(b))
	}
	return []byte(bucketNames[b]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bucket) UnmarshalText(text []byte) error {
	for i, name := range bucketNames {
		if name == string(text) {
			*b = Bucket(i)
			return nil
		}
	}
	return fmt.Errorf("invalid bucket: %q", text)
}
