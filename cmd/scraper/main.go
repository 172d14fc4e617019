package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/pipeline"
	"github.com/aluiziolira/go-scrape-products/scraper"
	"github.com/aluiziolira/go-scrape-products/storage"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	urls := flag.String("urls", strings.Join(cfg.URLs, ","), "Comma separated listing URLs")
	engineKind := flag.String("engine", cfg.Engine, "Fetch engine: http or rendered")
	browser := flag.String("browser", cfg.BrowserDriver, "Browser driver for the rendered engine: rod or chromedp")
	headless := flag.Bool("headless", cfg.Headless, "Run the browser headless")
	delay := flag.Float64("delay", cfg.Delay.Seconds(), "Delay between requests (seconds)")
	maxRetries := flag.Int("max-retries", cfg.MaxRetries, "Maximum retry attempts per URL")
	timeout := flag.Float64("timeout", cfg.Timeout.Seconds(), "Per request timeout (seconds)")
	workers := flag.Int("workers", cfg.Workers, "Number of concurrent fetches")
	respectRobots := flag.Bool("respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives (http engine)")
	readySelector := flag.String("ready-selector", cfg.ReadySelector, "CSS selector that marks a rendered page as ready")
	outputFile := flag.String("output", cfg.OutputFile, "Output file path")
	outputFormat := flag.String("format", cfg.OutputFormat, "Output format: json, jsonl, csv, or dual")
	storageDriver := flag.String("storage", cfg.StorageDriver, "Storage backend: none, sqlite, postgres, or mongodb")
	dsn := flag.String("dsn", cfg.StorageDSN, "Storage DSN or URI")
	query := flag.Int("query", 0, "Print the N most recent stored products and exit")
	interval := flag.Duration("interval", cfg.Interval, "Repeat the batch at this interval until interrupted (0 runs once)")
	feed := flag.String("feed", cfg.FeedFile, "Append newly seen products to this JSONL feed")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg.URLs = config.SplitList(*urls)
	cfg.Engine = strings.ToLower(*engineKind)
	cfg.BrowserDriver = strings.ToLower(*browser)
	cfg.Headless = *headless
	cfg.Delay = config.Seconds(*delay)
	cfg.MaxRetries = *maxRetries
	cfg.Timeout = config.Seconds(*timeout)
	cfg.Workers = *workers
	cfg.ReadySelector = *readySelector
	cfg.RespectRobotsTxt = *respectRobots
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.StorageDriver = strings.ToLower(*storageDriver)
	cfg.StorageDSN = *dsn
	cfg.Interval = *interval
	cfg.FeedFile = *feed
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *query > 0 {
		if err := printStored(ctx, cfg, *query); err != nil {
			slog.Error("query failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	p, err := scraper.NewParser(cfg)
	if err != nil {
		return err
	}
	eng, err := scraper.NewEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("closing engine", slog.Any("error", err))
		}
	}()

	coord, err := scraper.NewCoordinator(cfg, eng, p)
	if err != nil {
		return err
	}

	store := openStore(ctx, cfg)
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current page")
	}()

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, coord.Metrics)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	var feed *pipeline.Pipeline
	if cfg.FeedFile != "" {
		writer, err := pipeline.NewAppendJSONWriter(cfg.FeedFile)
		if err != nil {
			return fmt.Errorf("opening feed: %w", err)
		}
		feed, err = pipeline.NewPipeline(writer, cfg.DedupeMaxSize)
		if err != nil {
			writer.Close()
			return err
		}
		feed.FlushEvery(5 * time.Second)
		feed.Start(1)
		if cfg.Verbose {
			feed.StartMetricsReporting(30 * time.Second)
		}
		defer func() {
			if err := feed.Close(); err != nil {
				slog.Error("feed shutdown failed", slog.Any("error", err))
			}
		}()
	}

	slog.Info("starting scrape",
		slog.Int("urls", len(cfg.URLs)),
		slog.String("engine", cfg.Engine),
		slog.Int("workers", cfg.Workers),
		slog.Duration("interval", cfg.Interval),
	)

	for round := 1; ; round++ {
		result, err := coord.Run(ctx, cfg.URLs)
		if err != nil {
			return err
		}
		deliver(ctx, cfg, store, feed, result)

		if cfg.Interval <= 0 || ctx.Err() != nil {
			return nil
		}
		slog.Info("waiting for next round", slog.Int("round", round+1), slog.Duration("in", cfg.Interval))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.Interval):
		}
	}
}

// deliver writes one batch to every configured sink. Sink failures are
// logged so a later round still gets its chance.
func deliver(ctx context.Context, cfg *config.Config, store storage.Store, feed *pipeline.Pipeline, result *models.BatchResult) {
	written, err := pipeline.Export(result.Records, cfg.OutputFile, cfg.OutputFormat)
	if err != nil {
		slog.Error("export failed", slog.Any("error", err))
	}

	// A canceled ctx would abort the save, so the batch gets a short grace
	// period of its own.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	saved, err := store.Save(saveCtx, result.Records)
	if err != nil {
		slog.Warn("storage save failed, records kept in files only", slog.Any("error", err))
	}

	if feed != nil {
		if err := feed.Process(result.Records...); err != nil {
			slog.Error("feed write failed", slog.Any("error", err))
		}
	}

	printSummary(result, written, saved)

	if cfg.StorageDriver != "none" {
		if stats, err := store.Stats(saveCtx); err == nil {
			printStats(stats)
		} else {
			slog.Warn("storage stats unavailable", slog.Any("error", err))
		}
	}
}

// openStore connects the configured store. A store that cannot be reached
// leaves file output as the only sink.
func openStore(ctx context.Context, cfg *config.Config) storage.Store {
	store, err := storage.Open(ctx, cfg.StorageDriver, cfg.StorageDSN, storage.Options{
		MongoDatabase:   cfg.MongoDatabase,
		MongoCollection: cfg.MongoCollection,
	})
	if err != nil {
		slog.Warn("storage unavailable, continuing with file output only",
			slog.String("driver", cfg.StorageDriver),
			slog.Any("error", err),
		)
		store, _ = storage.Open(ctx, "none", "", storage.Options{})
	}
	return store
}

func printStored(ctx context.Context, cfg *config.Config, limit int) error {
	if cfg.StorageDriver == "none" {
		return errors.New("-query needs -storage")
	}
	store, err := storage.Open(ctx, cfg.StorageDriver, cfg.StorageDSN, storage.Options{
		MongoDatabase:   cfg.MongoDatabase,
		MongoCollection: cfg.MongoCollection,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Query(ctx, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func startMetricsServer(addr string, m *scraper.Metrics) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}

func printSummary(result *models.BatchResult, written []string, saved int) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Canceled {
		fmt.Println("Scrape interrupted")
	} else {
		fmt.Println("Scrape complete")
	}

	fmt.Printf("  Run:           %s\n", result.RunID)
	fmt.Printf("  URLs:          %d (%d succeeded, %d failed)\n", result.TotalURLs, result.SucceededURLs, result.FailedURLs)
	fmt.Printf("  Products:      %d (%d duplicates dropped)\n", len(result.Records), result.DuplicateCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	if len(result.ErrorsByKind) > 0 {
		kinds := make([]string, 0, len(result.ErrorsByKind))
		for kind, n := range result.ErrorsByKind {
			kinds = append(kinds, fmt.Sprintf("%s=%d", kind, n))
		}
		sort.Strings(kinds)
		fmt.Printf("  Error kinds:   %s\n", strings.Join(kinds, " "))
	}
	for _, e := range result.Errors {
		fmt.Printf("    %s  %s\n", e.Kind, e.URL)
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	for _, path := range written {
		fmt.Printf("  Output file:   %s\n", path)
	}
	if saved > 0 {
		fmt.Printf("  Stored:        %d\n", saved)
	}
	fmt.Println(separator)
}

func printStats(stats storage.Stats) {
	fmt.Printf("  Stored total:  %d products from %d sources, avg votes %.1f\n",
		stats.TotalProducts, stats.UniqueSources, stats.AvgVotes)
	if stats.LastScraped != nil {
		fmt.Printf("  Last scraped:  %s\n", stats.LastScraped.Format(time.RFC3339))
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
