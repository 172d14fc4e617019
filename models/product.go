// Package models defines data structures for the scraper.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRecord marks a product that must not leave the parser.
var ErrInvalidRecord = errors.New("invalid record")

// Product represents one listing extracted from a page.
type Product struct {
	Name        string     `csv:"name" json:"name" bson:"name" db:"name"`
	SourceURL   string     `csv:"source_url" json:"source_url" bson:"source_url" db:"source_url"`
	Tagline     string     `csv:"tagline" json:"tagline,omitempty" bson:"tagline,omitempty" db:"tagline"`
	Description string     `csv:"description" json:"description,omitempty" bson:"description,omitempty" db:"description"`
	URL         string     `csv:"url" json:"url,omitempty" bson:"url,omitempty" db:"url"`
	Votes       int        `csv:"votes" json:"votes" bson:"votes" db:"votes"`
	Comments    int        `csv:"comments" json:"comments" bson:"comments" db:"comments"`
	Maker       string     `csv:"maker" json:"maker,omitempty" bson:"maker,omitempty" db:"maker"`
	Category    string     `csv:"category" json:"category,omitempty" bson:"category,omitempty" db:"category"`
	LaunchDate  *time.Time `csv:"launch_date" json:"launch_date,omitempty" bson:"launch_date,omitempty" db:"launch_date"`
	ImageURL    string     `csv:"image_url" json:"image_url,omitempty" bson:"image_url,omitempty" db:"image_url"`
	ScrapedAt   time.Time  `csv:"scraped_at" json:"scraped_at" bson:"scraped_at" db:"scraped_at"`
}

// DedupKey identifies a product within a run. Comparison is case-sensitive.
type DedupKey struct {
	Name      string
	SourceURL string
}

// String renders the key for logs and caches.
func (k DedupKey) String() string {
	return k.SourceURL + "\x00" + k.Name
}

// Key returns the natural dedup key of the product.
func (p Product) Key() DedupKey {
	return DedupKey{Name: p.Name, SourceURL: p.SourceURL}
}

// Validate reports whether the product may be emitted.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product missing name (source %s)", ErrInvalidRecord, p.SourceURL)
	}
	if p.Votes < 0 || p.Comments < 0 {
		return fmt.Errorf("%w: negative counters for %s", ErrInvalidRecord, p.Name)
	}
	return nil
}

// Clone returns a copy that shares nothing mutable with p.
func (p Product) Clone() Product {
	out := p
	if p.LaunchDate != nil {
		t := *p.LaunchDate
		out.LaunchDate = &t
	}
	return out
}
