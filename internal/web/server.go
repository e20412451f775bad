// Package web exposes the deck, study sessions and sources as a JSON API.
package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/capdeck/internal/deck"
	"github.com/conorfennell/capdeck/internal/domain"
	"github.com/conorfennell/capdeck/internal/due"
	"github.com/conorfennell/capdeck/internal/exchange"
	"github.com/conorfennell/capdeck/internal/session"
	"github.com/conorfennell/capdeck/internal/sm2"
	"github.com/conorfennell/capdeck/internal/sources"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

// Options are the defaults applied to POST /session when the body omits them.
type Options struct {
	Filter   due.Filter
	MaxCards int
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	deck    *deck.Service
	syncer  *sources.Syncer // nil when the store has no source support
	clock   domain.Clock
	log     *slog.Logger
	router  *http.ServeMux
	options Options

	mu      sync.Mutex // guards session
	session *session.Controller
}

// NewServer creates and configures a new server. syncer may be nil.
func NewServer(d *deck.Service, ctrl *session.Controller, syncer *sources.Syncer, clock domain.Clock, opts Options, log *slog.Logger) *Server {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Filter == "" {
		opts.Filter = due.All
	}
	s := &Server{
		deck:    d,
		syncer:  syncer,
		clock:   clock,
		log:     log.With("component", "web"),
		router:  http.NewServeMux(),
		options: opts,
		session: ctrl,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /cards", s.handleListCards())
	s.router.HandleFunc("POST /cards", s.handleCreateCard())
	s.router.HandleFunc("GET /cards/{id}", s.handleGetCard())
	s.router.HandleFunc("PATCH /cards/{id}", s.handleEditCard())
	s.router.HandleFunc("DELETE /cards/{id}", s.handleDeleteCard())
	s.router.HandleFunc("GET /tags", s.handleTags())
	s.router.HandleFunc("GET /due", s.handleDue())
	s.router.HandleFunc("GET /stats", s.handleStats())
	s.router.HandleFunc("GET /export", s.handleExport())
	s.router.HandleFunc("POST /import", s.handleImport())

	s.router.HandleFunc("POST /session", s.handleStartSession())
	s.router.HandleFunc("GET /session", s.handleGetSession())
	s.router.HandleFunc("POST /session/answer", s.handleAnswer())
	s.router.HandleFunc("POST /session/end", s.handleEndSession())

	// Source management routes
	s.router.HandleFunc("GET /sources", s.handleGetSources())
	s.router.HandleFunc("POST /sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("POST /sync", s.handlePostSync())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Error encoding response", "error", err)
	}
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, sm2.ErrInvalidQuality),
		errors.Is(err, due.ErrUnknownFilter),
		errors.Is(err, exchange.ErrUnsupportedFormat),
		errors.Is(err, exchange.ErrMalformed),
		errors.As(err, &verrs):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, sources.ErrSourceExists),
		errors.Is(err, deck.ErrDuplicateCard):
		status = http.StatusConflict
	case errors.Is(err, session.ErrCardRemoved):
		status = http.StatusGone
	case errors.Is(err, session.ErrNoCardsAvailable),
		errors.Is(err, deck.ErrCardNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// createOptions reads ?allowDuplicates= from the query.
func createOptions(r *http.Request) ([]deck.CreateOption, error) {
	raw := r.URL.Query().Get("allowDuplicates")
	if raw == "" {
		return nil, nil
	}
	allow, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid allowDuplicates %q", errBadRequest, raw)
	}
	return []deck.CreateOption{deck.AllowDuplicates(allow)}, nil
}

// handleListCards lists cards, optionally narrowed by ?q= and ?tag=.
func (s *Server) handleListCards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			cards []domain.Card
			err   error
		)
		if tags := r.URL.Query()["tag"]; len(tags) > 0 {
			cards, err = s.deck.FilterByTags(r.Context(), tags)
		} else {
			cards, err = s.deck.Search(r.Context(), r.URL.Query().Get("q"))
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, nonNil(cards))
	}
}

func (s *Server) handleCreateCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := createOptions(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var in deck.NewCardInput
		if err := decode(r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
		card, err := s.deck.Create(r.Context(), in, opts...)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, card)
	}
}

func (s *Server) handleGetCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		card, err := s.deck.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, card)
	}
}

func (s *Server) handleEditCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e deck.Edit
		if err := decode(r, &e); err != nil {
			s.writeError(w, r, err)
			return
		}
		card, err := s.deck.Edit(r.Context(), r.PathValue("id"), e)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, card)
	}
}

func (s *Server) handleDeleteCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deck.Delete(r.Context(), r.PathValue("id")); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleTags() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tags, err := s.deck.AllTags(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tags)
	}
}

// handleDue lists the due queue for ?filter=, in study order.
func (s *Server) handleDue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := due.ParseFilter(r.URL.Query().Get("filter"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		cards, err := s.deck.Due(r.Context(), filter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, cards)
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.deck.Stats(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

// handleExport streams the collection as ?format=json|csv|anki.
func (s *Server) handleExport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := strings.ToLower(r.URL.Query().Get("format"))
		if format == "" {
			format = exchange.JSON
		}
		cards, err := s.deck.List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := exchange.Export(&buf, cards, format, s.clock.Now()); err != nil {
			s.writeError(w, r, err)
			return
		}
		switch format {
		case exchange.JSON:
			w.Header().Set("Content-Type", "application/json")
		case exchange.CSV:
			w.Header().Set("Content-Type", "text/csv")
		default:
			w.Header().Set("Content-Type", "text/tab-separated-values")
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=flashcards.%s", extension(format)))
		w.Write(buf.Bytes())
	}
}

func (s *Server) handleImport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := createOptions(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		format := r.URL.Query().Get("format")
		if format == "" {
			format = exchange.JSON
		}
		inputs, err := exchange.Import(r.Body, format)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		cards, err := s.deck.CreateMany(r.Context(), inputs, opts...)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]int{"imported": len(cards)})
	}
}

// sessionView is the client's picture of the running session.
type sessionView struct {
	State    string           `json:"state"`
	Card     *domain.Card     `json:"card,omitempty"`
	Progress session.Progress `json:"progress"`
}

// view must be called with s.mu held.
func (s *Server) view() sessionView {
	return sessionView{
		State:    s.session.State().String(),
		Card:     s.session.Current(),
		Progress: s.session.Progress(),
	}
}

func (s *Server) handleStartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := struct {
			Filter   string `json:"filter"`
			MaxCards *int   `json:"maxCards"`
		}{}
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		filter := s.options.Filter
		if req.Filter != "" {
			f, err := due.ParseFilter(req.Filter)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			filter = f
		}
		maxCards := s.options.MaxCards
		if req.MaxCards != nil {
			maxCards = *req.MaxCards
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.session.Start(r.Context(), filter, maxCards); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.log.Info("Session started", "filter", filter, "cards", s.session.Progress().Total)
		s.writeJSON(w, http.StatusCreated, s.view())
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.writeJSON(w, http.StatusOK, s.view())
	}
}

func (s *Server) handleAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Quality *int `json:"quality"`
		}
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Quality == nil {
			s.writeError(w, r, fmt.Errorf("%w: quality is required", errBadRequest))
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		updated, err := s.session.Submit(r.Context(), sm2.Quality(*req.Quality))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, struct {
			Reviewed domain.Card `json:"reviewed"`
			sessionView
		}{updated, s.view()})
	}
}

func (s *Server) handleEndSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		summary, err := s.session.End()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.log.Info("Session ended", "studied", summary.CardsStudied, "accuracy", summary.Accuracy)
		s.writeJSON(w, http.StatusOK, summary)
	}
}

type sourceView struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"lastScanned,omitempty"`
}

// withSyncer rejects source routes when the store cannot hold sources.
func (s *Server) withSyncer(w http.ResponseWriter) bool {
	if s.syncer == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "sources require the sqlite store"})
		return false
	}
	return true
}

func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.withSyncer(w) {
			return
		}
		all, err := s.syncer.List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		views := make([]sourceView, 0, len(all))
		for _, src := range all {
			v := sourceView{ID: src.ID, Path: src.Path, Type: src.Type}
			if src.LastScanned.Valid {
				t := src.LastScanned.Time
				v.LastScanned = &t
			}
			views = append(views, v)
		}
		s.writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.withSyncer(w) {
			return
		}
		var req struct {
			Path string `json:"path"`
		}
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			s.writeError(w, r, fmt.Errorf("%w: path cannot be empty", errBadRequest))
			return
		}
		src, err := s.syncer.Add(r.Context(), req.Path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, sourceView{ID: src.ID, Path: src.Path, Type: src.Type})
	}
}

func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.withSyncer(w) {
			return
		}
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid source ID", errBadRequest))
			return
		}
		if err := s.syncer.Remove(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostSync runs a sync in the foreground and returns the per-source reports.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.withSyncer(w) {
			return
		}
		reports, err := s.syncer.Run(r.Context())
		resp := struct {
			Reports []sources.Report `json:"reports"`
			Error   string           `json:"error,omitempty"`
		}{Reports: reports}
		if resp.Reports == nil {
			resp.Reports = []sources.Report{}
		}
		status := http.StatusOK
		if err != nil {
			resp.Error = err.Error()
			status = http.StatusBadGateway
		}
		s.writeJSON(w, status, resp)
	}
}

func nonNil(cards []domain.Card) []domain.Card {
	if cards == nil {
		return []domain.Card{}
	}
	return cards
}

func extension(format string) string {
	if format == exchange.Anki {
		return "txt"
	}
	return format
}
