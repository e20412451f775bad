package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/capdeck/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB is a SQLite-backed CardStore that also tracks deck sources.
type DB struct {
	conn *sql.DB
}

var _ CardStore = (*DB)(nil)

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps pragmas and in-memory databases consistent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

const cardColumns = `id, front, back, definition, pronunciation, language, tags,
	interval_days, ease_factor, review_count, last_reviewed_at, next_due_at, created_at,
	fingerprint, source_id`

// Load retrieves every card, oldest first.
func (db *DB) Load(ctx context.Context) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// Save upserts the given cards in one transaction.
func (db *DB) Save(ctx context.Context, cards []domain.Card) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			front = excluded.front,
			back = excluded.back,
			definition = excluded.definition,
			pronunciation = excluded.pronunciation,
			language = excluded.language,
			tags = excluded.tags,
			interval_days = excluded.interval_days,
			ease_factor = excluded.ease_factor,
			review_count = excluded.review_count,
			last_reviewed_at = excluded.last_reviewed_at,
			next_due_at = excluded.next_due_at,
			fingerprint = excluded.fingerprint,
			source_id = excluded.source_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare card upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cards {
		tags, err := json.Marshal(nonNilTags(c.Tags))
		if err != nil {
			return fmt.Errorf("failed to encode tags for card %s: %w", c.ID, err)
		}
		var lastReviewed sql.NullTime
		if c.LastReviewedAt != nil {
			lastReviewed = sql.NullTime{Time: c.LastReviewedAt.UTC(), Valid: true}
		}
		sourceID := sql.NullInt64{Int64: c.SourceID, Valid: c.SourceID != 0}

		if _, err := stmt.ExecContext(ctx,
			c.ID,
			c.Front,
			c.Back,
			c.Definition,
			c.Pronunciation,
			c.Language,
			string(tags),
			c.IntervalDays,
			c.EaseFactor,
			c.ReviewCount,
			lastReviewed,
			c.NextDueAt.UTC(),
			c.CreatedAt.UTC(),
			c.Fingerprint,
			sourceID,
		); err != nil {
			return fmt.Errorf("failed to save card %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit card save: %w", err)
	}
	return nil
}

// Delete removes cards by ID. Unknown IDs are ignored.
func (db *DB) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete cards %v: %w", ids, err)
	}
	return nil
}

// CardsBySource retrieves all cards imported from a specific source.
func (db *DB) CardsBySource(ctx context.Context, sourceID int64) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()
	return scanCards(rows)
}

func scanCards(rows *sql.Rows) ([]domain.Card, error) {
	cards := make([]domain.Card, 0)
	for rows.Next() {
		var (
			c            domain.Card
			tags         string
			lastReviewed sql.NullTime
			sourceID     sql.NullInt64
		)
		if err := rows.Scan(
			&c.ID,
			&c.Front,
			&c.Back,
			&c.Definition,
			&c.Pronunciation,
			&c.Language,
			&tags,
			&c.IntervalDays,
			&c.EaseFactor,
			&c.ReviewCount,
			&lastReviewed,
			&c.NextDueAt,
			&c.CreatedAt,
			&c.Fingerprint,
			&sourceID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for card %s: %w", c.ID, err)
		}
		if len(c.Tags) == 0 {
			c.Tags = nil
		}
		if lastReviewed.Valid {
			t := lastReviewed.Time
			c.LastReviewedAt = &t
		}
		c.SourceID = sourceID.Int64
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate card rows: %w", err)
	}
	return cards, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// Source is a deck source, either a local path or a Git URL.
type Source struct {
	ID          int64        `json:"id"`
	Path        string       `json:"path"`
	Type        string       `json:"type"` // "local" or "git"
	LastScanned sql.NullTime `json:"-"`
}

// InsertSource inserts a new source and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path, type)
		VALUES (?, ?)
	`, path, sourceType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source by its path, or nil if there is none.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (*Source, error) {
	var s Source
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`, path)

	err := row.Scan(&s.ID, &s.Path, &s.Type, &s.LastScanned)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Source not found
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return &s, nil
}

// GetAllSources retrieves all stored sources.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Path, &s.Type, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned sets the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`, at.UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source and every card imported from it.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin source delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to delete cards for source ID %d: %w", sourceID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", sourceID, err)
	}
	return tx.Commit()
}
