package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/capdeck/internal/domain"
)

// Normalize concatenates the identifying fields of a card after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(c domain.Content) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.TrimSpace(p)
	}

	// Joined with newlines so "ab"+"c" and "a"+"bc" stay distinct.
	return strings.Join([]string{
		normalizePart(c.Front),
		normalizePart(c.Back),
		normalizePart(c.Language),
	}, "\n")
}

// Of returns the SHA-256 of the normalized card as a hex string.
// Definition and tags are left out so they can be edited in the source
// without resetting the card's schedule.
func Of(c domain.Content) string {
	sum := sha256.Sum256([]byte(Normalize(c)))
	return fmt.Sprintf("%x", sum)
}
