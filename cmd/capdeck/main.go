package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conorfennell/capdeck/internal/config"
	"github.com/conorfennell/capdeck/internal/deck"
	"github.com/conorfennell/capdeck/internal/domain"
	"github.com/conorfennell/capdeck/internal/logging"
	"github.com/conorfennell/capdeck/internal/sm2"
	"github.com/conorfennell/capdeck/internal/sources"
	"github.com/conorfennell/capdeck/internal/storage"
	"github.com/conorfennell/capdeck/internal/storage/redisstore"
)

const usage = `Usage: capdeck [global flags] <command> [flags] [args]

Commands:
  add          Add a card (--front/--back, or: add <word> <translation> [language])
  list         List cards (--q, --tag)
  due          List due cards in study order (--filter)
  edit <id>    Change a card's content
  delete <id>  Delete a card
  study        Run an interactive study session (--filter, --max)
  stats        Show collection statistics
  export       Export cards (--format json|csv|anki, --out)
  import <f>   Import cards from a file (--format json|csv, --allow-duplicates)
  add-source   Register a local directory or git URL as a deck source
  sync         Reconcile every deck source
  serve        Serve the JSON API

Global flags:
`

// app carries what every command needs.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	clock  domain.Clock
	store  storage.CardStore
	db     *storage.DB // nil unless the sqlite driver is in use
	deck   *deck.Service
	params *sm2.Params
	in     io.Reader
	out    io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "capdeck:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	// 1. Parse global flags up to the command name
	global := pflag.NewFlagSet("capdeck", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(errOut)
	config.RegisterFlags(global)
	global.Usage = func() {
		fmt.Fprint(errOut, usage)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return pflag.ErrHelp
	}
	name, rest := global.Arg(0), global.Args()[1:]

	cmd, ok := commands[name]
	if !ok {
		global.Usage()
		return fmt.Errorf("unknown command %q", name)
	}

	// 2. Load configuration and set up logging
	cfg, err := config.Load(global)
	if err != nil {
		return err
	}
	log, err := logging.New(errOut, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	params := sm2.DefaultParams()
	params.MaxEase = cfg.Scheduler.MaxEase
	params.MaxInterval = cfg.Scheduler.MaxInterval
	if err := params.Validate(); err != nil {
		return err
	}

	// 3. Open the card store
	store, db, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	a := &app{
		cfg:    cfg,
		log:    log,
		clock:  domain.SystemClock{},
		store:  store,
		db:     db,
		deck:   deck.NewService(store, domain.SystemClock{}),
		params: params,
		in:     in,
		out:    out,
	}
	return cmd(ctx, a, rest)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.CardStore, *storage.DB, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return storage.NewMemory(), nil, func() {}, nil
	case "redis":
		rs, err := redisstore.Open(ctx, cfg.Store.Redis.Addr, cfg.Store.Redis.Prefix)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		slog.Debug("Redis store opened", "addr", cfg.Store.Redis.Addr, "prefix", cfg.Store.Redis.Prefix)
		return rs, nil, func() { rs.Close() }, nil
	default:
		db, err := storage.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		slog.Debug("Database opened successfully", "path", cfg.Store.Path)
		return db, db, func() { db.Close() }, nil
	}
}

// syncer returns a source syncer, which needs the sqlite store.
func (a *app) syncer() (*sources.Syncer, error) {
	if a.db == nil {
		return nil, fmt.Errorf("%w: deck sources need the sqlite store, not %q", storage.ErrUnsupported, a.cfg.Store.Driver)
	}
	return sources.NewSyncer(a.db, a.clock, a.cfg.Sources.ReposDir, a.log), nil
}
