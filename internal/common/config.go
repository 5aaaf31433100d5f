package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	EnvFile     string          `toml:"env_file"`    // Optional dotenv file loaded before env overrides
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Ingestion   IngestionConfig `toml:"ingestion"`
	Sectors     SectorsConfig   `toml:"sectors"`
	Metrics     MetricsConfig   `toml:"metrics"`
	Cache       CacheConfig     `toml:"cache"`
	API         APIConfig       `toml:"api"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// IngestionConfig controls where CSV snapshots come from and when they are re-read
type IngestionConfig struct {
	CSVPath      string `toml:"csv_path"`       // Single CSV snapshot ingested on startup / schedule
	SourceDir    string `toml:"source_dir"`     // Directory of *.csv snapshots (optional)
	Schedule     string `toml:"schedule"`       // Cron expression, empty disables scheduled ingestion
	RunOnStartup bool   `toml:"run_on_startup"` // Ingest configured sources once at startup
	Workers      int    `toml:"workers"`        // Concurrent files during directory ingestion
	MaxRuns      int    `toml:"max_runs"`       // Runs returned by the run log endpoint
}

// SectorsConfig describes the known sector set
type SectorsConfig struct {
	Known        []string `toml:"known"`
	AllowDynamic bool     `toml:"allow_dynamic"` // Accept and register unseen sectors
	RegistryFile string   `toml:"registry_file"` // Optional YAML file with sectors and aliases
}

type MetricsConfig struct {
	VolatilityWindow     int `toml:"volatility_window"`      // Trailing daily returns per volatility value
	DistributionsPerYear int `toml:"distributions_per_year"` // Dividend payments per year
}

type CacheConfig struct {
	Enabled    bool   `toml:"enabled"`
	TTL        string `toml:"ttl"` // e.g. "5m"
	MaxEntries int    `toml:"max_entries"`
}

type APIConfig struct {
	DailyPricesLimit int     `toml:"daily_prices_limit"`
	RateLimit        float64 `toml:"rate_limit"` // Requests per second, 0 disables
	RateBurst        int     `toml:"rate_burst"`
	MaxUploadBytes   int64   `toml:"max_upload_bytes"`
}

type WebSocketConfig struct {
	Throttle string `toml:"throttle"` // Minimum interval between broadcasts, e.g. "500ms"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		EnvFile:     ".env",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/stockpulse",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Ingestion: IngestionConfig{
			CSVPath:      "./data/stock_data.csv",
			RunOnStartup: true,
			Workers:      4,
			MaxRuns:      20,
		},
		Sectors: SectorsConfig{
			Known: []string{
				"Technology",
				"Energy",
				"Finance",
				"Healthcare",
				"Consumer Goods",
				"Industrials",
				"Utilities",
			},
			AllowDynamic: true,
		},
		Metrics: MetricsConfig{
			VolatilityWindow:     30,
			DistributionsPerYear: 4, // quarterly payers
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        "5m",
			MaxEntries: 256,
		},
		API: APIConfig{
			DailyPricesLimit: 500,
			RateLimit:        50,
			RateBurst:        100,
			MaxUploadBytes:   32 << 20, // 32 MB
		},
		WebSocket: WebSocketConfig{
			Throttle: "250ms",
		},
	}
}

// LoadFromFile loads configuration from a single file
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration with priority: defaults -> files (in order) -> dotenv -> env
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier files
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if err := loadEnvFile(config.EnvFile); err != nil {
		return nil, err
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadEnvFile populates the process environment from a dotenv file.
// Variables already set in the environment win. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STOCKPULSE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("STOCKPULSE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("STOCKPULSE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration (DB_PATH kept for older deployments)
	if badgerPath := os.Getenv("STOCKPULSE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	} else if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		config.Storage.Badger.Path = dbPath
	}

	// Logging configuration
	if level := os.Getenv("STOCKPULSE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("STOCKPULSE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Ingestion configuration (CSV_PATH kept for older deployments)
	if csvPath := os.Getenv("STOCKPULSE_CSV_PATH"); csvPath != "" {
		config.Ingestion.CSVPath = csvPath
	} else if csvPath := os.Getenv("CSV_PATH"); csvPath != "" {
		config.Ingestion.CSVPath = csvPath
	}
	if dir := os.Getenv("STOCKPULSE_SOURCE_DIR"); dir != "" {
		config.Ingestion.SourceDir = dir
	}
	if schedule, ok := os.LookupEnv("STOCKPULSE_INGEST_SCHEDULE"); ok {
		config.Ingestion.Schedule = schedule
	}
	if runOnStartup := os.Getenv("STOCKPULSE_INGEST_ON_STARTUP"); runOnStartup != "" {
		if b, err := strconv.ParseBool(runOnStartup); err == nil {
			config.Ingestion.RunOnStartup = b
		}
	}
	if workers := os.Getenv("STOCKPULSE_INGEST_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Ingestion.Workers = w
		}
	}

	// Sectors
	if allow := os.Getenv("STOCKPULSE_SECTORS_ALLOW_DYNAMIC"); allow != "" {
		if b, err := strconv.ParseBool(allow); err == nil {
			config.Sectors.AllowDynamic = b
		}
	}
	if registry := os.Getenv("STOCKPULSE_SECTORS_REGISTRY"); registry != "" {
		config.Sectors.RegistryFile = registry
	}

	// Metrics
	if window := os.Getenv("STOCKPULSE_VOLATILITY_WINDOW"); window != "" {
		if w, err := strconv.Atoi(window); err == nil {
			config.Metrics.VolatilityWindow = w
		}
	}
	if dist := os.Getenv("STOCKPULSE_DISTRIBUTIONS_PER_YEAR"); dist != "" {
		if d, err := strconv.Atoi(dist); err == nil {
			config.Metrics.DistributionsPerYear = d
		}
	}

	// Cache
	if enabled := os.Getenv("STOCKPULSE_CACHE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Cache.Enabled = b
		}
	}
	if ttl := os.Getenv("STOCKPULSE_CACHE_TTL"); ttl != "" {
		config.Cache.TTL = ttl
	}

	// API
	if limit := os.Getenv("STOCKPULSE_API_RATE_LIMIT"); limit != "" {
		if l, err := strconv.ParseFloat(limit, 64); err == nil {
			config.API.RateLimit = l
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if c.Metrics.VolatilityWindow < 2 {
		return fmt.Errorf("metrics.volatility_window must be at least 2, got %d", c.Metrics.VolatilityWindow)
	}
	if c.Metrics.DistributionsPerYear < 1 {
		return fmt.Errorf("metrics.distributions_per_year must be positive, got %d", c.Metrics.DistributionsPerYear)
	}
	if c.Ingestion.Workers < 1 {
		c.Ingestion.Workers = 1
	}
	if c.Ingestion.Schedule != "" {
		if err := ValidateSchedule(c.Ingestion.Schedule); err != nil {
			return fmt.Errorf("invalid ingestion.schedule: %w", err)
		}
	}
	if _, err := c.Cache.TTLDuration(); err != nil {
		return fmt.Errorf("invalid cache.ttl: %w", err)
	}
	return nil
}

// ValidateSchedule validates a standard five-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// TTLDuration parses the cache TTL, defaulting to five minutes when unset
func (c CacheConfig) TTLDuration() (time.Duration, error) {
	if c.TTL == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(c.TTL)
}

// ThrottleInterval parses the websocket throttle, zero disables throttling
func (c WebSocketConfig) ThrottleInterval() time.Duration {
	if c.Throttle == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Throttle)
	if err != nil {
		return 0
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}
