// Package catalog persists catalog records in DuckDB and turns search
// results into map layers.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/joeblew999/plat-portal/internal/service"
)

// ErrRecordNotFound is returned by Get for an unknown id.
var ErrRecordNotFound = errors.New("catalog record not found")

type Config struct {
	// Path is the DuckDB file. Empty opens an in-memory database.
	Path string
	// Extensions are installed and loaded on open; failures are logged.
	Extensions []string
	Logger     *slog.Logger
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id          VARCHAR PRIMARY KEY,
	title       VARCHAR NOT NULL,
	description VARCHAR,
	resources   VARCHAR NOT NULL,
	elements    VARCHAR NOT NULL,
	west        DOUBLE,
	south       DOUBLE,
	east        DOUBLE,
	north       DOUBLE
)`

// Open connects to the catalog database and creates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	for _, ext := range cfg.Extensions {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			logger.Debug("duckdb extension unavailable", "extension", ext, "err", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts or replaces records by id.
func (s *Store) Upsert(ctx context.Context, recs ...service.CatalogRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		if strings.TrimSpace(rec.ID) == "" {
			return fmt.Errorf("record %q has no id", rec.Title)
		}
		res, err := json.Marshal(rec.Resources)
		if err != nil {
			return fmt.Errorf("encode resources of %s: %w", rec.ID, err)
		}
		els, err := json.Marshal(rec.GeographicElements)
		if err != nil {
			return fmt.Errorf("encode extents of %s: %w", rec.ID, err)
		}
		w, so, e, n := envelope(rec.GeographicElements)
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO records (id, title, description, resources, elements, west, south, east, north)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Title, rec.Description, string(res), string(els), w, so, e, n)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (service.CatalogRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, resources, elements FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return service.CatalogRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return rec, err
}

// Query selects records. Zero values match everything.
type Query struct {
	Text   string
	BBox   *service.GeographicElement
	Offset int
	Limit  int
}

type Page struct {
	Records []service.CatalogRecord
	Total   int
}

// Search returns records whose title or description contains Text and whose
// envelope intersects BBox, ordered by title.
func (s *Store) Search(ctx context.Context, q Query) (Page, error) {
	var where []string
	var args []any
	if t := strings.TrimSpace(q.Text); t != "" {
		where = append(where, "(title ILIKE ? OR description ILIKE ?)")
		pattern := "%" + t + "%"
		args = append(args, pattern, pattern)
	}
	if q.BBox != nil {
		b := q.BBox.Bound()
		where = append(where, "(west <= ? AND east >= ? AND south <= ? AND north >= ?)")
		args = append(args, b.Max[0], b.Min[0], b.Max[1], b.Min[1])
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var page Page
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM records"+clause, args...).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("count records: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, description, resources, elements FROM records"+clause+
			" ORDER BY title, id LIMIT ? OFFSET ?",
		append(args, limit, max(q.Offset, 0))...)
	if err != nil {
		return Page{}, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	page.Records = []service.CatalogRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return Page{}, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (service.CatalogRecord, error) {
	var (
		rec      service.CatalogRecord
		desc     sql.NullString
		res, els string
	)
	if err := sc.Scan(&rec.ID, &rec.Title, &desc, &res, &els); err != nil {
		return service.CatalogRecord{}, err
	}
	rec.Description = desc.String
	if err := json.Unmarshal([]byte(res), &rec.Resources); err != nil {
		return service.CatalogRecord{}, fmt.Errorf("decode resources of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(els), &rec.GeographicElements); err != nil {
		return service.CatalogRecord{}, fmt.Errorf("decode extents of %s: %w", rec.ID, err)
	}
	return rec, nil
}

// envelope returns the union of the valid elements, or NULLs when there are none.
func envelope(els []service.GeographicElement) (w, s, e, n sql.NullFloat64) {
	first := true
	for _, g := range els {
		if !g.Valid() {
			continue
		}
		b := g.Bound()
		if first {
			w, s, e, n = nf(b.Min[0]), nf(b.Min[1]), nf(b.Max[0]), nf(b.Max[1])
			first = false
			continue
		}
		w.Float64 = math.Min(w.Float64, b.Min[0])
		s.Float64 = math.Min(s.Float64, b.Min[1])
		e.Float64 = math.Max(e.Float64, b.Max[0])
		n.Float64 = math.Max(n.Float64, b.Max[1])
	}
	return w, s, e, n
}

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }
