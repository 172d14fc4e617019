package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-products/models"
)

const productColumns = `name, source_url, tagline, description, url, votes, comments,
	maker, category, launch_date, image_url, scraped_at`

var schemas = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			source_url TEXT NOT NULL,
			tagline TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			votes INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			maker TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			launch_date TIMESTAMP,
			image_url TEXT NOT NULL DEFAULT '',
			scraped_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (name, source_url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_name ON products(name)`,
		`CREATE INDEX IF NOT EXISTS idx_products_scraped_at ON products(scraped_at)`,
		`CREATE INDEX IF NOT EXISTS idx_products_votes ON products(votes DESC)`,
	},
	"pgx": {
		`CREATE TABLE IF NOT EXISTS products (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			source_url VARCHAR(500) NOT NULL,
			tagline TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			url VARCHAR(500) NOT NULL DEFAULT '',
			votes INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			maker VARCHAR(255) NOT NULL DEFAULT '',
			category VARCHAR(100) NOT NULL DEFAULT '',
			launch_date TIMESTAMPTZ,
			image_url VARCHAR(500) NOT NULL DEFAULT '',
			scraped_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (name, source_url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_name ON products(name)`,
		`CREATE INDEX IF NOT EXISTS idx_products_scraped_at ON products(scraped_at)`,
		`CREATE INDEX IF NOT EXISTS idx_products_votes ON products(votes DESC)`,
	},
}

// SQLStore keeps products in SQLite or PostgreSQL through sqlx.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenSQL connects with driverName (sqlite or pgx) and creates the schema.
func OpenSQL(ctx context.Context, driverName, dsn string) (*SQLStore, error) {
	stmts, ok := schemas[driverName]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driverName)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if driverName == "sqlite" {
		// One writer avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", driverName, err)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	slog.Info("storage ready", slog.String("driver", driverName))
	return &SQLStore{db: db, now: time.Now}, nil
}

// Save upserts records in one transaction and returns how many were written.
func (s *SQLStore) Save(ctx context.Context, records []models.Product) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := s.db.Rebind(`INSERT INTO products (` + productColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, source_url) DO UPDATE SET
			tagline = excluded.tagline,
			description = excluded.description,
			votes = excluded.votes,
			comments = excluded.comments,
			updated_at = excluded.updated_at`)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	saved := 0
	for _, r := range records {
		_, err := tx.ExecContext(ctx, query,
			r.Name, r.SourceURL, r.Tagline, r.Description, r.URL, r.Votes, r.Comments,
			r.Maker, r.Category, nullTime(r.LaunchDate), r.ImageURL, r.ScrapedAt.UTC(),
			now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert product %q: %w", r.Name, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save: %w", err)
	}
	return saved, nil
}

// Query returns the most recently scraped products first. A limit of zero
// or less returns everything.
func (s *SQLStore) Query(ctx context.Context, limit int) ([]models.Product, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + productColumns + ` FROM products ORDER BY scraped_at DESC, id ASC`)
	args := []interface{}{}
	if limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	var out []models.Product
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	for i := range out {
		out[i].ScrapedAt = out[i].ScrapedAt.UTC()
		if out[i].LaunchDate != nil {
			t := out[i].LaunchDate.UTC()
			out[i].LaunchDate = &t
		}
	}
	return out, nil
}

// Stats reports totals over the stored products.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.GetContext(ctx, &stats, `SELECT
		COUNT(*) AS total_products,
		COUNT(DISTINCT source_url) AS unique_sources,
		CAST(COALESCE(AVG(votes), 0) AS DOUBLE PRECISION) AS avg_votes
		FROM products`)
	if err != nil {
		return Stats{}, fmt.Errorf("product stats: %w", err)
	}

	var last time.Time
	err = s.db.GetContext(ctx, &last, `SELECT scraped_at FROM products ORDER BY scraped_at DESC LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Stats{}, fmt.Errorf("last scraped: %w", err)
	default:
		last = last.UTC()
		stats.LastScraped = &last
	}
	return stats, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
