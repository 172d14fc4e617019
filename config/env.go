package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given files into the process
// environment. Variables already set win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvFloat parses key as a float.
func EnvFloat(key string) (float64, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return f, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// EnvDuration parses key as a duration. Bare numbers are read as seconds.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return Seconds(f), true, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// EnvList splits a comma separated value, dropping empty items.
func EnvList(key string) ([]string, bool) {
	value, ok := EnvString(key)
	if !ok {
		return nil, false
	}
	items := SplitList(value)
	return items, len(items) > 0
}

// SplitList splits a comma separated string, trimming every item.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Seconds converts fractional seconds to a duration.
func Seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// PostgresDSN assembles a connection string from the POSTGRES_* variables.
func PostgresDSN() (string, bool) {
	user, ok := EnvString("POSTGRES_USER")
	if !ok {
		return "", false
	}
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	db := envOr("POSTGRES_DB", "producthunt_data")
	password, _ := EnvString("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, db), true
}

func envOr(key, fallback string) string {
	if v, ok := EnvString(key); ok {
		return v
	}
	return fallback
}

// ApplyEnv overrides cfg with any configuration found in the environment.
func ApplyEnv(cfg *Config) error {
	if urls, ok := EnvList("SCRAPER_URLS"); ok {
		cfg.URLs = urls
	}
	if v, ok := EnvString("SCRAPER_ENGINE"); ok {
		cfg.Engine = strings.ToLower(v)
	}
	if v, ok := EnvString("SCRAPER_BROWSER"); ok {
		cfg.BrowserDriver = strings.ToLower(v)
	}
	if v, ok := EnvString("USER_AGENT"); ok {
		cfg.UserAgent = v
	}
	if v, ok := EnvString("SCRAPER_CONTROL_URL"); ok {
		cfg.ControlURL = v
	}
	if v, ok := EnvString("SCRAPER_BROWSER_BIN"); ok {
		cfg.BrowserBin = v
	}
	if v, ok := EnvString("SCRAPER_READY_SELECTOR"); ok {
		cfg.ReadySelector = v
	}
	if v, ok := EnvList("SCRAPER_CONTAINER_SELECTORS"); ok {
		cfg.ContainerSelectors = v
	}
	if v, ok := EnvString("OUTPUT_FORMAT"); ok {
		cfg.OutputFormat = strings.ToLower(v)
	}
	if v, ok := EnvString("FILE_PATH"); ok {
		cfg.OutputFile = v
	}
	if v, ok := EnvString("SCRAPER_STORAGE"); ok {
		cfg.StorageDriver = strings.ToLower(v)
	}
	if v, ok := EnvString("SCRAPER_DSN"); ok {
		cfg.StorageDSN = v
	}
	if v, ok := EnvString("MONGO_DB"); ok {
		cfg.MongoDatabase = v
	}
	if v, ok := EnvString("SCRAPER_FEED"); ok {
		cfg.FeedFile = v
	}
	if v, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCRAP_DELAY", &cfg.Delay},
		{"TIMEOUT", &cfg.Timeout},
		{"SCRAPER_READY_TIMEOUT", &cfg.ReadyTimeout},
		{"SCRAPER_SETTLE_DELAY", &cfg.SettleDelay},
		{"SCRAPER_INTERVAL", &cfg.Interval},
	}
	for _, d := range durations {
		v, ok, err := EnvDuration(d.key)
		if err != nil {
			return err
		}
		if ok {
			*d.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_RETRIES", &cfg.MaxRetries},
		{"SCRAPER_WORKERS", &cfg.Workers},
		{"SCRAPER_DEDUPE_MAX_SIZE", &cfg.DedupeMaxSize},
	}
	for _, n := range ints {
		v, ok, err := EnvInt(n.key)
		if err != nil {
			return err
		}
		if ok {
			*n.dst = v
		}
	}

	if v, ok, err := EnvBool("HEADLESS"); err != nil {
		return err
	} else if ok {
		cfg.Headless = v
	}
	if v, ok, err := EnvBool("SCRAPER_RESPECT_ROBOTS"); err != nil {
		return err
	} else if ok {
		cfg.RespectRobotsTxt = v
	}
	if v, ok, err := EnvBool("SCRAPER_NO_SANDBOX"); err != nil {
		return err
	} else if ok {
		cfg.NoSandbox = v
	}

	// A DSN is derived for the chosen store when none was given directly.
	if cfg.StorageDSN == "" {
		switch cfg.StorageDriver {
		case "postgres":
			if dsn, ok := PostgresDSN(); ok {
				cfg.StorageDSN = dsn
			}
		case "mongodb":
			if uri, ok := EnvString("MONGO_URI"); ok {
				cfg.StorageDSN = uri
			}
		}
	}
	return nil
}
