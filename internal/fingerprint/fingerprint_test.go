package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/conorfennell/capdeck/internal/domain"
)

func TestNormalize(t *testing.T) {
	card := domain.Content{
		Front:    "  Der Apfel \r\n",
		Back:     "The Apple",
		Language: "German",
	}
	expected := "der apfel\nthe apple\ngerman"
	if normalized := Normalize(card); normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestOf(t *testing.T) {
	t.Run("hashes the normalized form", func(t *testing.T) {
		card := domain.Content{Front: "F", Back: "B", Language: "L"}
		expected := fmt.Sprintf("%x", sha256.Sum256([]byte("f\nb\nl")))
		if got := Of(card); got != expected {
			t.Errorf("Expected hash '%s', but got '%s'", expected, got)
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		a := domain.Content{Front: "  hola ", Back: "hello"}
		b := domain.Content{Front: "Hola", Back: "Hello"}
		if Of(a) != Of(b) {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("definition and tags do not change the hash", func(t *testing.T) {
		a := domain.Content{Front: "hola", Back: "hello"}
		b := domain.Content{Front: "hola", Back: "hello", Definition: "greeting", Tags: []string{"basics"}}
		if Of(a) != Of(b) {
			t.Error("Expected definition and tags to be ignored")
		}
	})

	t.Run("different cards have different hashes", func(t *testing.T) {
		if Of(domain.Content{Front: "ab", Back: "c"}) == Of(domain.Content{Front: "a", Back: "bc"}) {
			t.Error("Expected hashes for different cards to be different")
		}
	})
}
