// Package exchange converts card collections to and from portable formats.
package exchange

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/capdeck/internal/deck"
	"github.com/conorfennell/capdeck/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned for an unknown format name.
	ErrUnsupportedFormat = errors.New("exchange: unsupported format")
	// ErrMalformed is returned when an import cannot be decoded.
	ErrMalformed = errors.New("exchange: malformed input")
)

// Format names accepted by Export and Import.
const (
	JSON = "json"
	CSV  = "csv"
	Anki = "anki" // tab separated, export only
)

var csvHeader = []string{"Front", "Back", "Definition", "Pronunciation", "Language", "Tags", "Bucket", "Reviews"}

type jsonDocument struct {
	Flashcards []domain.Card `json:"flashcards"`
	ExportDate time.Time     `json:"exportDate"`
}

// Export writes cards to w in the given format.
func Export(w io.Writer, cards []domain.Card, format string, now time.Time) error {
	switch strings.ToLower(format) {
	case JSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if cards == nil {
			cards = []domain.Card{}
		}
		return enc.Encode(jsonDocument{Flashcards: cards, ExportDate: now.UTC()})
	case CSV:
		return exportCSV(w, cards)
	case Anki:
		return exportAnki(w, cards)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func exportCSV(w io.Writer, cards []domain.Card) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range cards {
		record := []string{
			c.Front,
			c.Back,
			c.Definition,
			c.Pronunciation,
			c.Language,
			strings.Join(c.Tags, ";"),
			c.Bucket().String(),
			strconv.Itoa(c.ReviewCount),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportAnki(w io.Writer, cards []domain.Card) error {
	var buf bytes.Buffer
	clean := strings.NewReplacer("\t", " ", "\r\n", "<br>", "\n", "<br>")
	for _, c := range cards {
		fields := []string{c.Front, c.Back, c.Definition, c.Pronunciation}
		for i, f := range fields {
			fields[i] = clean.Replace(f)
		}
		buf.WriteString(strings.Join(fields, "\t"))
		buf.WriteByte('\n')
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Import reads card content from r. Scheduling state in the input is ignored;
// imported cards start fresh.
func Import(r io.Reader, format string) ([]deck.NewCardInput, error) {
	switch strings.ToLower(format) {
	case JSON, "":
		var doc struct {
			Flashcards []deck.NewCardInput `json:"flashcards"`
		}
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", ErrMalformed, err)
		}
		return doc.Flashcards, nil
	case CSV:
		return importCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func importCSV(r io.Reader) ([]deck.NewCardInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", ErrMalformed, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var inputs []deck.NewCardInput
	for _, rec := range records[1:] { // header
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		field := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		in := deck.NewCardInput{
			Front:         field(0),
			Back:          field(1),
			Definition:    field(2),
			Pronunciation: field(3),
			Language:      field(4),
		}
		if tags := field(5); tags != "" {
			in.Tags = strings.Split(tags, ";")
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
