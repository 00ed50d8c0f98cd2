package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (EXPLORER_ prefix), a .env file, flags, or YAML
// config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	StaticDir string `default:"" usage:"Directory with the browser presentation, served at /" flag:"static-dir"`
	Locale    string `default:"en" usage:"BCP 47 locale used to collate product names"`
	Catalog   CatalogConfig
	Fixtures  FixturesConfig
	Storage   StorageConfig
	Lookup    LookupConfig
	Capture   CaptureConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// CatalogConfig controls the outbound product catalog transport.
type CatalogConfig struct {
	BaseURL         string        `default:"https://world.openfoodfacts.org" usage:"Product catalog base URL" flag:"catalog-url"`
	UserAgent       string        `default:"food-explorer/1.0" usage:"User-Agent sent to the catalog"`
	Timeout         time.Duration `default:"10s" usage:"Per-request timeout"`
	MaxRetries      uint          `default:"3" usage:"Attempts per catalog request, including the first"`
	RetryInitial    time.Duration `default:"200ms" usage:"Initial retry backoff"`
	SearchPerMinute int           `default:"10" usage:"Search requests allowed per minute"`
	ReadPerMinute   int           `default:"100" usage:"Product reads allowed per minute"`
}

// FixturesConfig replaces or records the catalog transport.
type FixturesConfig struct {
	Path   string `default:"" usage:"Recorded catalog responses; replayed unless record is set" flag:"fixtures"`
	Record bool   `default:"false" usage:"Record live catalog responses into the fixtures path" flag:"fixtures-record"`
}

// StorageConfig selects where the lookup journal lives.
type StorageConfig struct {
	Driver      string `default:"sqlite" usage:"Journal storage: memory, sqlite or postgres"`
	Path        string `default:"explorer.db" usage:"SQLite database file"`
	DatabaseURL string `usage:"PostgreSQL connection URL (EXPLORER_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
}

// LookupConfig tunes the barcode negative cache.
type LookupConfig struct {
	NegativeTTL   time.Duration `default:"1h" usage:"How long a missing barcode is answered from the journal" flag:"negative-ttl"`
	BloomCapacity uint          `default:"100000" usage:"Expected number of missing barcodes"`
	BloomFPR      float64       `default:"0.01" usage:"Bloom filter false positive rate"`
}

// CaptureConfig controls frame rendering and decoding.
type CaptureConfig struct {
	FrameWidth           int           `default:"640" usage:"Captured frame width"`
	FrameHeight          int           `default:"480" usage:"Captured frame height"`
	JPEGQuality          int           `default:"90" usage:"Captured frame JPEG quality"`
	DecodeTimeout        time.Duration `default:"5s" usage:"Maximum time to decode one frame"`
	MaxConcurrentDecodes int64         `default:"4" usage:"Decodes running at once across all sessions"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads an optional .env file, then configuration from
// environment variables and YAML config files, and applies platform defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "EXPLORER",
		Files:     []string{"config.yaml", "/etc/explorer/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required for postgres storage: set EXPLORER_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Fixtures.Record && c.Fixtures.Path == "" {
		return errors.New("recording fixtures needs a fixtures path")
	}
	if c.Capture.MaxConcurrentDecodes < 1 {
		return errors.New("at least one concurrent decode is required")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's EXPLORER_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Storage.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
