package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/capdeck/internal/deck"
	"github.com/conorfennell/capdeck/internal/domain"
	"github.com/conorfennell/capdeck/internal/due"
	"github.com/conorfennell/capdeck/internal/exchange"
	"github.com/conorfennell/capdeck/internal/session"
	"github.com/conorfennell/capdeck/internal/sources"
	"github.com/conorfennell/capdeck/internal/web"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"add":        cmdAdd,
	"list":       cmdList,
	"due":        cmdDue,
	"edit":       cmdEdit,
	"delete":     cmdDelete,
	"study":      cmdStudy,
	"stats":      cmdStats,
	"export":     cmdExport,
	"import":     cmdImport,
	"add-source": cmdAddSource,
	"sync":       cmdSync,
	"serve":      cmdServe,
}

func newFlags(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlags("add")
	var in deck.NewCardInput
	fs.StringVar(&in.Front, "front", "", "Front of the card")
	fs.StringVar(&in.Back, "back", "", "Back of the card")
	fs.StringVar(&in.Definition, "definition", "", "Definition")
	fs.StringVar(&in.Pronunciation, "pronunciation", "", "Pronunciation")
	fs.StringVar(&in.Language, "language", "", "Language (default english)")
	fs.StringSliceVar(&in.Tags, "tags", nil, "Comma-separated tags")
	allowDup := fs.Bool("allow-duplicates", false, "Store the card even if it duplicates an existing one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		card domain.Card
		err  error
	)
	if in.Front == "" && in.Back == "" && fs.NArg() >= 2 {
		language := deck.DefaultLanguage
		if fs.NArg() > 2 {
			language = fs.Arg(2)
		}
		card, err = a.deck.QuickAdd(ctx, fs.Arg(0), fs.Arg(1), language, deck.AllowDuplicates(*allowDup))
	} else {
		card, err = a.deck.Create(ctx, in, deck.AllowDuplicates(*allowDup))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s: %s -> %s (due %s)\n", card.ID, card.Front, card.Back, card.NextDueAt.Local().Format(time.DateTime))
	return nil
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := newFlags("list")
	query := fs.String("q", "", "Search front, back and definition")
	tags := fs.StringSlice("tag", nil, "Only cards carrying one of these tags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		cards []domain.Card
		err   error
	)
	if len(*tags) > 0 {
		cards, err = a.deck.FilterByTags(ctx, *tags)
	} else {
		cards, err = a.deck.Search(ctx, *query)
	}
	if err != nil {
		return err
	}
	printCards(a.out, cards)
	return nil
}

func cmdDue(ctx context.Context, a *app, args []string) error {
	fs := newFlags("due")
	filterName := fs.String("filter", a.cfg.Session.Filter, "all, new, learning, review or difficult")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter, err := due.ParseFilter(*filterName)
	if err != nil {
		return err
	}
	cards, err := a.deck.Due(ctx, filter)
	if err != nil {
		return err
	}
	printCards(a.out, cards)
	return nil
}

func cmdEdit(ctx context.Context, a *app, args []string) error {
	fs := newFlags("edit")
	front := fs.String("front", "", "New front")
	back := fs.String("back", "", "New back")
	definition := fs.String("definition", "", "New definition")
	pronunciation := fs.String("pronunciation", "", "New pronunciation")
	language := fs.String("language", "", "New language")
	tags := fs.StringSlice("tags", nil, "Replacement tags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("edit takes exactly one card ID")
	}

	// Only flags given on the command line change the card.
	var e deck.Edit
	if fs.Changed("front") {
		e.Front = front
	}
	if fs.Changed("back") {
		e.Back = back
	}
	if fs.Changed("definition") {
		e.Definition = definition
	}
	if fs.Changed("pronunciation") {
		e.Pronunciation = pronunciation
	}
	if fs.Changed("language") {
		e.Language = language
	}
	if fs.Changed("tags") {
		e.Tags = tags
	}
	card, err := a.deck.Edit(ctx, fs.Arg(0), e)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s: %s -> %s\n", card.ID, card.Front, card.Back)
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("delete takes exactly one card ID")
	}
	if err := a.deck.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", args[0])
	return nil
}

func cmdStudy(ctx context.Context, a *app, args []string) error {
	fs := newFlags("study")
	filterName := fs.String("filter", a.cfg.Session.Filter, "all, new, learning, review or difficult")
	maxCards := fs.Int("max", a.cfg.Session.MaxCards, "Maximum cards (0 = all due)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter, err := due.ParseFilter(*filterName)
	if err != nil {
		return err
	}
	ctrl := session.New(a.store, a.clock, a.params)
	return study(ctx, ctrl, filter, *maxCards, a.in, a.out)
}

func cmdStats(ctx context.Context, a *app, args []string) error {
	stats, err := a.deck.Stats(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total\t%d\n", stats.Total)
	fmt.Fprintf(tw, "Due now\t%d\n", stats.Due)
	fmt.Fprintf(tw, "New\t%d\n", stats.New)
	fmt.Fprintf(tw, "Learning\t%d\n", stats.Learning)
	fmt.Fprintf(tw, "Review\t%d\n", stats.Review)
	fmt.Fprintf(tw, "Reviewed today\t%d\n", stats.ReviewedToday)
	fmt.Fprintf(tw, "Progress\t%d%%\n", stats.StudyProgress)
	return tw.Flush()
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := newFlags("export")
	format := fs.String("format", exchange.JSON, "json, csv or anki")
	outPath := fs.String("out", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cards, err := a.deck.List(ctx)
	if err != nil {
		return err
	}
	w := a.out
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := exchange.Export(w, cards, *format, a.clock.Now()); err != nil {
		return err
	}
	if *outPath != "" {
		a.log.Info("Exported cards", "count", len(cards), "format", *format, "path", *outPath)
	}
	return nil
}

func cmdImport(ctx context.Context, a *app, args []string) error {
	fs := newFlags("import")
	format := fs.String("format", "", "json or csv (default from the file extension)")
	allowDup := fs.Bool("allow-duplicates", false, "Import cards that duplicate existing ones")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("import takes exactly one file")
	}
	path := fs.Arg(0)
	if *format == "" {
		*format = exchange.JSON
		if strings.HasSuffix(strings.ToLower(path), ".csv") {
			*format = exchange.CSV
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	inputs, err := exchange.Import(f, *format)
	if err != nil {
		return err
	}
	cards, err := a.deck.CreateMany(ctx, inputs, deck.AllowDuplicates(*allowDup))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Imported %d cards from %s\n", len(cards), path)
	return nil
}

func cmdAddSource(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("add-source takes exactly one path or git URL")
	}
	syncer, err := a.syncer()
	if err != nil {
		return err
	}
	src, err := syncer.Add(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s source %d: %s\nRun 'capdeck sync' to import its cards.\n", src.Type, src.ID, src.Path)
	return nil
}

func cmdSync(ctx context.Context, a *app, args []string) error {
	syncer, err := a.syncer()
	if err != nil {
		return err
	}
	reports, err := syncer.WithProgress(os.Stderr).Run(ctx)
	printReports(a.out, reports)
	return err
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := newFlags("serve")
	addr := fs.String("addr", a.cfg.HTTP.Addr, "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	handler, err := newHandler(a)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Starting server", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// newHandler builds the JSON API. Without the sqlite store the source routes answer 501.
func newHandler(a *app) (http.Handler, error) {
	filter, err := due.ParseFilter(a.cfg.Session.Filter)
	if err != nil {
		return nil, err
	}
	var syncer *sources.Syncer
	if a.db != nil {
		syncer = sources.NewSyncer(a.db, a.clock, a.cfg.Sources.ReposDir, a.log)
	}
	return web.NewServer(a.deck, session.New(a.store, a.clock, a.params), syncer, a.clock,
		web.Options{Filter: filter, MaxCards: a.cfg.Session.MaxCards}, a.log), nil
}

func printCards(w io.Writer, cards []domain.Card) {
	if len(cards) == 0 {
		fmt.Fprintln(w, "No cards.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFRONT\tBACK\tLANGUAGE\tBUCKET\tDUE\tTAGS")
	for _, c := range cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, oneLine(c.Front), oneLine(c.Back), c.Language, c.Bucket(),
			c.NextDueAt.Local().Format(time.DateTime), strings.Join(c.Tags, ","))
	}
	tw.Flush()
}

func printReports(w io.Writer, reports []sources.Report) {
	for _, r := range reports {
		fmt.Fprintf(w, "%s: %d parsed, %d created, %d updated, %d deleted, %d errors\n",
			r.Path, r.Parsed, r.Created, r.Updated, r.Deleted, r.Errors)
	}
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " / ")
}
