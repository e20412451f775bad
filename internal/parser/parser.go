package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/capdeck/internal/domain"
)

type field int

const (
	seeking field = iota
	readingFront
	readingBack
	readingDefinition
	readingPronunciation
	readingLanguage
	readingTags
)

var prefixes = []struct {
	prefix string
	field  field
}{
	{"F:", readingFront},
	{"B:", readingBack},
	{"D:", readingDefinition},
	{"P:", readingPronunciation},
	{"L:", readingLanguage},
	{"T:", readingTags},
}

// ParseFile reads a deck file from the given path and extracts all cards.
func ParseFile(path string) ([]domain.Content, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads a deck from an io.Reader and extracts all cards.
// A card needs both a front and a back; incomplete entries are dropped.
func Parse(r io.Reader) ([]domain.Content, error) {
	scanner := bufio.NewScanner(r)
	var cards []domain.Content
	var current domain.Content
	var block []string
	state := seeking

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(block, "\n"))
		switch state {
		case readingFront:
			current.Front = content
		case readingBack:
			current.Back = content
		case readingDefinition:
			current.Definition = content
		case readingPronunciation:
			current.Pronunciation = content
		case readingLanguage:
			current.Language = content
		case readingTags:
			current.Tags = splitTags(content)
		}
		block = nil
	}

	finishCard := func() {
		flushBlock()
		if current.Front != "" && current.Back != "" {
			cards = append(cards, current)
		}
		current = domain.Content{}
		state = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "---" {
			finishCard()
			continue
		}

		matched := false
		for _, p := range prefixes {
			if !strings.HasPrefix(line, p.prefix) {
				continue
			}
			matched = true
			flushBlock()
			if p.field == readingFront && state != seeking { // A new front always starts a new card
				finishCard()
			}
			state = p.field
			lineContent := line[len(p.prefix):]
			if strings.HasPrefix(lineContent, " ") {
				lineContent = lineContent[1:]
			}
			block = append(block, lineContent)
			break
		}

		if !matched && state != seeking {
			block = append(block, line)
		}
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cards, nil
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
