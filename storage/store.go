// Package storage persists scraped products in a relational or document
// store.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

// Store saves and reads back products. Saving a product whose
// (name, source_url) already exists refreshes the stored copy.
type Store interface {
	Save(ctx context.Context, records []models.Product) (int, error)
	Query(ctx context.Context, limit int) ([]models.Product, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats summarises the stored products.
type Stats struct {
	TotalProducts int        `json:"total_products" db:"total_products" bson:"total_products"`
	UniqueSources int        `json:"unique_sources" db:"unique_sources" bson:"unique_sources"`
	LastScraped   *time.Time `json:"last_scraped,omitempty" db:"-" bson:"last_scraped,omitempty"`
	AvgVotes      float64    `json:"avg_votes" db:"avg_votes" bson:"avg_votes"`
}

// Options carry driver specific settings.
type Options struct {
	MongoDatabase   string
	MongoCollection string
}

// Open connects the store named by driver: sqlite, postgres, mongodb or
// none. The schema or indexes are created when missing.
func Open(ctx context.Context, driver, dsn string, opts Options) (Store, error) {
	switch driver {
	case "", "none":
		return nopStore{}, nil
	case "sqlite":
		return OpenSQL(ctx, "sqlite", dsn)
	case "postgres":
		return OpenSQL(ctx, "pgx", dsn)
	case "mongodb":
		return OpenMongo(ctx, dsn, opts.MongoDatabase, opts.MongoCollection)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// nopStore is used when persistence is disabled.
type nopStore struct{}

func (nopStore) Save(context.Context, []models.Product) (int, error) { return 0, nil }

func (nopStore) Query(context.Context, int) ([]models.Product, error) { return nil, nil }

func (nopStore) Stats(context.Context) (Stats, error) { return Stats{}, nil }

func (nopStore) Close() error { return nil }
