package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/go-json-experiment/json"

	"market-stream/internal/cache"
)

// Store keeps closed markets after they leave the cache, plus a small
// key/value table for stream session details.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Archived is one row of the market archive listing.
type Archived struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	ClosedAt   time.Time `json:"closedAt"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// Open creates or opens the SQLite file at path with WAL enabled. ":memory:"
// works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases shared and writes serialized
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS markets (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			closed_at INTEGER NOT NULL,
			archived_at INTEGER NOT NULL,
			view BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS markets_archived_at ON markets (archived_at);`,
	}
	for _, s := range schema {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ArchiveMarket stores the final view of a market, replacing any earlier copy.
func (s *Store) ArchiveMarket(ctx context.Context, v cache.MarketView) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal market %s: %w", v.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO markets (id, status, closed_at, archived_at, view) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, closed_at=excluded.closed_at,
		 archived_at=excluded.archived_at, view=excluded.view`,
		v.ID, v.Status(), v.ClosedAt.UnixMilli(), s.now().UnixMilli(), payload,
	)
	if err != nil {
		return fmt.Errorf("archive market %s: %w", v.ID, err)
	}
	return nil
}

// ArchivedMarket loads an archived view. ok is false when id was never archived.
func (s *Store) ArchivedMarket(ctx context.Context, id string) (v cache.MarketView, ok bool, err error) {
	var payload []byte
	err = s.db.QueryRowContext(ctx, "SELECT view FROM markets WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("load market %s: %w", id, err)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, false, fmt.Errorf("unmarshal market %s: %w", id, err)
	}
	return v, true, nil
}

// ListArchived returns the most recently archived markets first.
func (s *Store) ListArchived(ctx context.Context, limit int) ([]Archived, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, status, closed_at, archived_at FROM markets ORDER BY archived_at DESC, id ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list archived: %w", err)
	}
	defer rows.Close()

	var out []Archived
	for rows.Next() {
		var a Archived
		var closed, archived int64
		if err := rows.Scan(&a.ID, &a.Status, &closed, &archived); err != nil {
			return nil, fmt.Errorf("scan archived: %w", err)
		}
		a.ClosedAt = time.UnixMilli(closed).UTC()
		a.ArchivedAt = time.UnixMilli(archived).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list archived: %w", err)
	}
	return out, nil
}

// PruneArchive deletes archived markets older than cutoff.
func (s *Store) PruneArchive(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM markets WHERE archived_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune archive: %w", err)
	}
	return res.RowsAffected()
}

// UpsertMetadata saves a key/value pair.
func (s *Store) UpsertMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert metadata %s: %w", key, err)
	}
	return nil
}

// Metadata reads a value; a missing key yields "".
func (s *Store) Metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read metadata %s: %w", key, err)
	}
	return value, nil
}
