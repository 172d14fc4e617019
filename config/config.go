package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	URLs       []string
	Engine     string // http or rendered
	Delay      time.Duration
	Timeout    time.Duration
	MaxRetries int
	Workers    int
	UserAgent  string

	RespectRobotsTxt bool

	// Rendered engine.
	BrowserDriver string // rod or chromedp
	Headless      bool
	NoSandbox     bool
	BrowserBin    string
	ControlURL    string
	ReadySelector string
	ReadyTimeout  time.Duration
	SettleDelay   time.Duration

	// Parser.
	ContainerSelectors []string
	TaglineFallback    string

	OutputFile   string
	OutputFormat string // json, jsonl, csv, or dual

	StorageDriver   string // none, sqlite, postgres, or mongodb
	StorageDSN      string
	MongoDatabase   string
	MongoCollection string

	Interval      time.Duration
	FeedFile      string
	DedupeMaxSize int

	MetricsAddr string
	Verbose     bool
}

// DefaultURLs are the listing pages scraped when none are given.
var DefaultURLs = []string{
	"https://www.producthunt.com/",
	"https://www.producthunt.com/topics/developer-tools",
	"https://www.producthunt.com/topics/artificial-intelligence",
	"https://www.producthunt.com/topics/productivity",
	"https://www.producthunt.com/topics/design-tools",
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	urls := make([]string, len(DefaultURLs))
	copy(urls, DefaultURLs)
	return &Config{
		URLs:            urls,
		Engine:          "rendered",
		Delay:           2 * time.Second,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		Workers:         1,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		BrowserDriver:   "rod",
		Headless:        true,
		NoSandbox:       true,
		ReadySelector:   `[data-test="product-item"]`,
		ReadyTimeout:    10 * time.Second,
		SettleDelay:     2 * time.Second,
		TaglineFallback: "No description available",
		OutputFile:      "data/scraped_data.json",
		OutputFormat:    "json",
		StorageDriver:   "none",
		MongoDatabase:   "producthunt_data",
		MongoCollection: "products",
		DedupeMaxSize:   10000,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	for _, raw := range c.URLs {
		parsedURL, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid URL %q: %w", raw, err)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("URL %q must include a host", raw)
		}
	}

	if c.Engine != "http" && c.Engine != "rendered" {
		return fmt.Errorf("engine must be http or rendered")
	}
	if c.Engine == "rendered" && c.BrowserDriver != "rod" && c.BrowserDriver != "chromedp" {
		return fmt.Errorf("browser driver must be rod or chromedp")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.ReadyTimeout < 0 {
		return fmt.Errorf("ready timeout cannot be negative")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	switch c.OutputFormat {
	case "json", "jsonl", "csv", "dual":
	default:
		return fmt.Errorf("output format must be json, jsonl, csv, or dual")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}

	switch c.StorageDriver {
	case "none":
	case "sqlite", "postgres", "mongodb":
		if strings.TrimSpace(c.StorageDSN) == "" {
			return fmt.Errorf("storage %s requires a DSN", c.StorageDriver)
		}
	default:
		return fmt.Errorf("storage must be none, sqlite, postgres, or mongodb")
	}

	if c.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	if c.FeedFile != "" && c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive when a feed is configured")
	}

	return nil
}
