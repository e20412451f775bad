package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/capdeck/internal/due"
	"github.com/conorfennell/capdeck/internal/session"
	"github.com/conorfennell/capdeck/internal/sm2"
)

// study runs an interactive session: show the front, wait for Enter, show the
// back, then read a quality from 0 to 5. "q" ends the session early.
func study(ctx context.Context, ctrl *session.Controller, filter due.Filter, maxCards int, in io.Reader, out io.Writer) error {
	if err := ctrl.Start(ctx, filter, maxCards); err != nil {
		if errors.Is(err, session.ErrNoCardsAvailable) {
			fmt.Fprintln(out, "Nothing due. Come back later.")
			return nil
		}
		return err
	}

	scanner := bufio.NewScanner(in)
	readLine := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

loop:
	for card := ctrl.Current(); card != nil; card = ctrl.Current() {
		p := ctrl.Progress()
		fmt.Fprintf(out, "\n[%d/%d] %s\n", p.Current, p.Total, card.Front)
		fmt.Fprint(out, "Press Enter to reveal...")
		if _, ok := readLine(); !ok {
			break
		}
		fmt.Fprintf(out, "%s\n", card.Back)
		if card.Pronunciation != "" {
			fmt.Fprintf(out, "  /%s/\n", strings.Trim(card.Pronunciation, "/"))
		}
		if card.Definition != "" {
			fmt.Fprintf(out, "  %s\n", card.Definition)
		}

		for {
			fmt.Fprint(out, "Quality 0-5 (q to stop): ")
			line, ok := readLine()
			if !ok || line == "q" {
				break loop
			}
			q, err := strconv.Atoi(line)
			if err != nil {
				fmt.Fprintln(out, "Enter a number from 0 to 5.")
				continue
			}
			updated, err := ctrl.Submit(ctx, sm2.Quality(q))
			if errors.Is(err, sm2.ErrInvalidQuality) {
				fmt.Fprintln(out, "Enter a number from 0 to 5.")
				continue
			}
			if errors.Is(err, session.ErrCardRemoved) {
				fmt.Fprintln(out, "This card was deleted, skipping it.")
				break
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Next review in %d day(s).\n", updated.IntervalDays)
			break
		}
	}

	summary, err := ctrl.End()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nStudied %d cards, %d passed, %d%% accuracy in %s.\n",
		summary.CardsStudied, summary.Passed, summary.Accuracy, summary.Duration.Round(time.Second))
	return nil
}
