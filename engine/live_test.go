package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

const listingPage = `<html><body>
<div data-test="product-item"><h3>Alpha</h3></div>
<div data-test="product-item"><h3>Beta</h3></div>
</body></html>`

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/listing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(listingPage))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Nothing listed</h1></body></html>`))
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<html><body>denied</body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// Rendered engines need a local Chromium, so they run only when
// SCRAPER_TEST_BROWSER is set.
func TestLiveRenderedEngines(t *testing.T) {
	if os.Getenv("SCRAPER_TEST_BROWSER") == "" {
		t.Skip("SCRAPER_TEST_BROWSER not set")
	}
	srv := listingServer(t)

	for _, driver := range []string{"rod", "chromedp"} {
		t.Run(driver, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			eng, err := New(ctx, KindRendered, Options{
				UserAgent:     "test-agent",
				BrowserDriver: driver,
				Headless:      true,
				NoSandbox:     true,
				BrowserBin:    os.Getenv("SCRAPER_TEST_BROWSER_BIN"),
				ReadySelector: `[data-test="product-item"]`,
				ReadyTimeout:  2 * time.Second,
				Pages:         1,
			})
			if err != nil {
				t.Fatalf("new %s engine: %v", driver, err)
			}
			defer eng.Close()

			req := func(path string) *FetchRequest {
				return &FetchRequest{URL: srv.URL + path, Timeout: 20 * time.Second}
			}

			result, err := eng.Fetch(ctx, req("/listing"))
			if err != nil {
				t.Fatalf("fetch listing: %v", err)
			}
			if result.StatusCode != http.StatusOK || !strings.Contains(string(result.Body), "Beta") {
				t.Fatalf("listing result = %d %q", result.StatusCode, result.Body)
			}
			if result.EngineName != driver {
				t.Fatalf("engine name = %q", result.EngineName)
			}

			_, err = eng.Fetch(ctx, req("/plain"))
			if got := KindOf(err); got != models.KindNavigationError {
				t.Fatalf("missing ready selector kind = %q (%v)", got, err)
			}

			_, err = eng.Fetch(ctx, req("/forbidden"))
			var blocked ErrBlocked
			if !errors.As(err, &blocked) || blocked.StatusCode != http.StatusForbidden {
				t.Fatalf("forbidden page error = %v", err)
			}

			// The page pool survives failed fetches.
			if _, err := eng.Fetch(ctx, req("/listing")); err != nil {
				t.Fatalf("fetch after failures: %v", err)
			}

			if err := eng.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if err := eng.Close(); err != nil {
				t.Fatalf("second close: %v", err)
			}
			if _, err := eng.Fetch(ctx, req("/listing")); !errors.Is(err, ErrClosed) {
				t.Fatalf("fetch after close = %v, want ErrClosed", err)
			}
		})
	}
}
