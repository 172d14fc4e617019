package scraper

import (
	"errors"

	"github.com/aluiziolira/go-scrape-products/engine"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/parser"
)

var (
	// ErrInvalidConfig marks failures that stop a run before any URL is
	// processed.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrRunInProgress is returned when Run is called on a coordinator
	// that is already running.
	ErrRunInProgress = errors.New("coordinator run already in progress")
)

// outcomeKind maps a fetch or parse failure to the kind reported per URL.
func outcomeKind(err error) models.ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, parser.ErrMalformedInput) {
		return models.KindMalformedInput
	}
	return engine.KindOf(err)
}
