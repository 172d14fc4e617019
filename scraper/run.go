package scraper

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/engine"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/parser"
)

// EngineOptions derives engine options from cfg.
func EngineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		UserAgent:     cfg.UserAgent,
		BrowserDriver: cfg.BrowserDriver,
		Headless:      cfg.Headless,
		NoSandbox:     cfg.NoSandbox,
		BrowserBin:    cfg.BrowserBin,
		ControlURL:    cfg.ControlURL,
		ReadySelector: cfg.ReadySelector,
		ReadyTimeout:  cfg.ReadyTimeout,
		SettleDelay:   cfg.SettleDelay,
		Pages:         cfg.Workers,

		RespectRobotsTxt: cfg.RespectRobotsTxt,
	}
}

// NewEngine builds the engine selected by cfg. Failures are configuration
// errors.
func NewEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	eng, err := engine.New(ctx, engine.Kind(cfg.Engine), EngineOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return eng, nil
}

// NewParser builds the parser selected by cfg.
func NewParser(cfg *config.Config) (*parser.Parser, error) {
	p, err := parser.New(parser.Options{
		ContainerSelectors: cfg.ContainerSelectors,
		TaglineFallback:    cfg.TaglineFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// Run validates cfg, acquires the engine for the duration of one batch and
// releases it on every exit path.
func Run(ctx context.Context, cfg *config.Config, urls []string) (*models.BatchResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	p, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}
	eng, err := NewEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	coord, err := NewCoordinator(cfg, eng, p)
	if err != nil {
		return nil, err
	}
	return coord.Run(ctx, urls)
}
