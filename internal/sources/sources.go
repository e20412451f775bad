// Package sources keeps cards in step with Markdown deck sources on disk or in git.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/capdeck/internal/deck"
	"github.com/conorfennell/capdeck/internal/domain"
	"github.com/conorfennell/capdeck/internal/fingerprint"
	"github.com/conorfennell/capdeck/internal/gitsource"
	"github.com/conorfennell/capdeck/internal/parser"
	"github.com/conorfennell/capdeck/internal/storage"
)

// ErrSourceExists is returned when adding a path that is already registered.
var ErrSourceExists = errors.New("sources: source already exists")

const (
	TypeLocal = "local"
	TypeGit   = "git"
)

// Store is the persistence a Syncer needs; storage.DB implements it.
type Store interface {
	storage.CardStore
	InsertSource(ctx context.Context, path, sourceType string) (int64, error)
	FindSourceByPath(ctx context.Context, path string) (*storage.Source, error)
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	CardsBySource(ctx context.Context, sourceID int64) ([]domain.Card, error)
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error
	DeleteSource(ctx context.Context, sourceID int64) error
}

// Report summarizes one reconciled source.
type Report struct {
	SourceID int64  `json:"sourceId"`
	Path     string `json:"path"`
	Parsed   int    `json:"parsed"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
	Errors   int    `json:"errors"`
}

// Syncer reconciles registered sources into the card store.
type Syncer struct {
	store    Store
	clock    domain.Clock
	reposDir string
	progress io.Writer
	log      *slog.Logger
	newID    func() string
}

// NewSyncer creates a Syncer that checks git sources out under reposDir.
func NewSyncer(store Store, clock domain.Clock, reposDir string, log *slog.Logger) *Syncer {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{
		store:    store,
		clock:    clock,
		reposDir: reposDir,
		log:      log.With("component", "sources"),
		newID:    uuid.NewString,
	}
}

// WithProgress sends git clone/pull progress to w.
func (s *Syncer) WithProgress(w io.Writer) *Syncer {
	s.progress = w
	return s
}

// Add registers a local directory or git URL as a source.
func (s *Syncer) Add(ctx context.Context, path string) (storage.Source, error) {
	sourceType := TypeLocal
	if gitsource.IsGitURL(path) {
		sourceType = TypeGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return storage.Source{}, fmt.Errorf("resolve source path %s: %w", path, err)
		}
		path = abs
	}

	existing, err := s.store.FindSourceByPath(ctx, path)
	if err != nil {
		return storage.Source{}, err
	}
	if existing != nil {
		return storage.Source{}, fmt.Errorf("%w: %s", ErrSourceExists, path)
	}
	id, err := s.store.InsertSource(ctx, path, sourceType)
	if err != nil {
		return storage.Source{}, err
	}
	s.log.Info("Source added", "id", id, "type", sourceType, "path", path)
	return storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// List returns every registered source.
func (s *Syncer) List(ctx context.Context) ([]storage.Source, error) {
	return s.store.GetAllSources(ctx)
}

// Remove unregisters a source and deletes the cards it contributed.
func (s *Syncer) Remove(ctx context.Context, sourceID int64) error {
	if err := s.store.DeleteSource(ctx, sourceID); err != nil {
		return err
	}
	s.log.Info("Source removed", "id", sourceID)
	return nil
}

// Run reconciles every source. A failing source is logged and skipped;
// the joined errors are returned alongside the reports of the others.
func (s *Syncer) Run(ctx context.Context) ([]Report, error) {
	s.log.Info("Starting sync process for all sources...")
	all, err := s.store.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	if len(all) == 0 {
		s.log.Info("No sources configured. Add one with add-source <path/or/url.git>")
		return nil, nil
	}

	var reports []Report
	var errs []error
	for _, source := range all {
		s.log.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		dir := source.Path
		if source.Type == TypeGit {
			dir, err = s.checkout(ctx, source.Path)
			if err != nil {
				s.log.Error("Error syncing git repo", "url", source.Path, "error", err)
				errs = append(errs, err)
				continue
			}
		}

		report, err := s.reconcile(ctx, source.ID, dir)
		if err != nil {
			s.log.Error("Error reconciling source", "id", source.ID, "path", dir, "error", err)
			errs = append(errs, fmt.Errorf("source %d: %w", source.ID, err))
			continue
		}
		report.Path = source.Path
		reports = append(reports, report)
	}
	s.log.Info("Sync process complete.", "sources", len(all), "failed", len(errs))
	return reports, errors.Join(errs...)
}

func (s *Syncer) checkout(ctx context.Context, repoURL string) (string, error) {
	if err := os.MkdirAll(s.reposDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create repos directory: %w", err)
	}
	localPath, err := gitsource.LocalPath(s.reposDir, repoURL)
	if err != nil {
		return "", err
	}
	if err := gitsource.Sync(ctx, repoURL, localPath, s.progress); err != nil {
		return "", err
	}
	return localPath, nil
}

// reconcile creates cards for new fingerprints, refreshes editable fields of
// known ones, and deletes cards whose fingerprint vanished from dir.
func (s *Syncer) reconcile(ctx context.Context, sourceID int64, dir string) (Report, error) {
	report := Report{SourceID: sourceID}
	parsed := make(map[string]domain.Content)
	var order []string

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		fileCards, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			s.log.Warn("Failed to parse deck file", "path", path, "error", parseErr)
			report.Errors++
		}
		for _, c := range fileCards {
			if c.Language == "" {
				c.Language = deck.DefaultLanguage
			}
			fp := fingerprint.Of(c)
			if _, dup := parsed[fp]; !dup {
				order = append(order, fp)
			}
			parsed[fp] = c
			report.Parsed++
		}
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("walking %s: %w", dir, walkErr)
	}

	existing, err := s.store.CardsBySource(ctx, sourceID)
	if err != nil {
		return report, err
	}
	known := make(map[string]domain.Card, len(existing))
	var orphaned []string
	for _, c := range existing {
		if _, ok := parsed[c.Fingerprint]; ok {
			known[c.Fingerprint] = c
		} else {
			s.log.Info("Orphaned card, deleting", "id", c.ID, "fingerprint", c.Fingerprint)
			orphaned = append(orphaned, c.ID)
		}
	}

	now := s.clock.Now()
	var changed []domain.Card
	for _, fp := range order {
		content := parsed[fp]
		card, ok := known[fp]
		if !ok {
			card = domain.NewCard(s.newID(), content, now)
			card.Fingerprint = fp
			card.SourceID = sourceID
			changed = append(changed, card)
			report.Created++
			continue
		}
		if contentChanged(card, content) {
			card.Definition = content.Definition
			card.Pronunciation = content.Pronunciation
			card.Tags = append([]string(nil), content.Tags...)
			changed = append(changed, card)
			report.Updated++
		}
	}

	if len(changed) > 0 {
		if err := s.store.Save(ctx, changed); err != nil {
			return report, err
		}
	}
	if len(orphaned) > 0 {
		if err := s.store.Delete(ctx, orphaned...); err != nil {
			return report, err
		}
		report.Deleted = len(orphaned)
	}
	if err := s.store.UpdateSourceLastScanned(ctx, sourceID, now); err != nil {
		s.log.Warn("Failed to update last scanned for source", "source_id", sourceID, "error", err)
	}

	s.log.Info("reconciliation complete",
		"path", dir,
		"parsed_cards", report.Parsed,
		"created", report.Created,
		"updated", report.Updated,
		"orphaned_deleted", report.Deleted,
		"errors", report.Errors,
	)
	return report, nil
}

func contentChanged(card domain.Card, c domain.Content) bool {
	if card.Definition != c.Definition || card.Pronunciation != c.Pronunciation || len(card.Tags) != len(c.Tags) {
		return true
	}
	for i := range c.Tags {
		if card.Tags[i] != c.Tags[i] {
			return true
		}
	}
	return false
}
