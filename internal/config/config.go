package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config captures runtime configuration for the API service and the CLI.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Todos     TodosConfig     `yaml:"todos"`
	Counter   CounterConfig   `yaml:"counter"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Service   ServiceConfig   `yaml:"service"`
}

type HTTPConfig struct {
	Port          int `yaml:"port"`
	ShutdownGrace int `yaml:"shutdown_grace_seconds"`
}

// DatabaseConfig is only used when a postgres store is selected. An empty
// MigrationsPath applies the migrations embedded in the binary.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	AutoMigrate    bool   `yaml:"auto_migrate"`
	MigrationsPath string `yaml:"migrations_path"`
}

// FetchConfig tunes the keyed fetch cache.
type FetchConfig struct {
	BaseURL       string        `yaml:"base_url"`
	MinLatency    time.Duration `yaml:"min_latency"`
	Timeout       time.Duration `yaml:"timeout"`
	CacheCapacity int           `yaml:"cache_capacity"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	Dedup         bool          `yaml:"dedup"`
}

type TodosConfig struct {
	Store            string `yaml:"store"`
	SlotKey          string `yaml:"slot_key"`
	Dir              string `yaml:"dir"`
	IdempotencyStore string `yaml:"idempotency_store"`
}

type CounterConfig struct {
	Initial int `yaml:"initial"`
}

type TelemetryConfig struct {
	LogLevel      string  `yaml:"log_level"`
	LogFormat     string  `yaml:"log_format"`
	OTelEndpoint  string  `yaml:"otel_endpoint"`
	OTelInsecure  bool    `yaml:"otel_insecure"`
	EnableTracing bool    `yaml:"enable_tracing"`
	EnableMetrics bool    `yaml:"enable_metrics"`
	SampleRate    float64 `yaml:"sample_rate"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Store kinds accepted by TodosConfig.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

const (
	defaultHTTPPort       = 8080
	defaultShutdownGrace  = 15
	defaultMigrationsPath = ""
	defaultAutoMigrate    = true
	defaultMinLatency     = time.Second
	defaultFetchTimeout   = 30 * time.Second
	defaultCacheCapacity  = 1024
	defaultMaxBodyBytes   = 10 << 20
	defaultTodosSlotKey   = "todos"
	defaultTodosDir       = "data"
	defaultCounterInitial = 10
	defaultServiceName    = "fetchstate-api"
	defaultServiceVersion = "0.1.0"
	defaultEnvironment    = "development"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultOTelSampleRate = 1.0
)

// Default returns the configuration used when neither a file nor the
// environment say otherwise.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:          defaultHTTPPort,
			ShutdownGrace: defaultShutdownGrace,
		},
		Database: DatabaseConfig{
			AutoMigrate:    defaultAutoMigrate,
			MigrationsPath: defaultMigrationsPath,
		},
		Fetch: FetchConfig{
			MinLatency:    defaultMinLatency,
			Timeout:       defaultFetchTimeout,
			CacheCapacity: defaultCacheCapacity,
			MaxBodyBytes:  defaultMaxBodyBytes,
			Dedup:         true,
		},
		Todos: TodosConfig{
			Store:            StoreMemory,
			SlotKey:          defaultTodosSlotKey,
			Dir:              defaultTodosDir,
			IdempotencyStore: StoreMemory,
		},
		Counter: CounterConfig{Initial: defaultCounterInitial},
		Telemetry: TelemetryConfig{
			LogLevel:      defaultLogLevel,
			LogFormat:     defaultLogFormat,
			EnableTracing: true,
			EnableMetrics: true,
			SampleRate:    defaultOTelSampleRate,
		},
		Service: ServiceConfig{
			Name:        defaultServiceName,
			Version:     defaultServiceVersion,
			Environment: defaultEnvironment,
		},
	}
}

// Load starts from Default, applies the YAML file named by CONFIG_FILE when
// set, then environment variables, and validates the result.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildDatabaseURL()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(overrideInt(&c.HTTP.Port, "API_HTTP_PORT"))
	collect(overrideInt(&c.HTTP.ShutdownGrace, "API_SHUTDOWN_GRACE_SECONDS"))

	overrideString(&c.Database.URL, "DATABASE_URL")
	overrideBool(&c.Database.AutoMigrate, "AUTO_MIGRATE")
	overrideString(&c.Database.MigrationsPath, "MIGRATIONS_PATH")

	overrideString(&c.Fetch.BaseURL, "FETCH_BASE_URL")
	collect(overrideDuration(&c.Fetch.MinLatency, "FETCH_MIN_LATENCY"))
	collect(overrideDuration(&c.Fetch.Timeout, "FETCH_TIMEOUT"))
	collect(overrideInt(&c.Fetch.CacheCapacity, "FETCH_CACHE_CAPACITY"))
	collect(overrideInt64(&c.Fetch.MaxBodyBytes, "FETCH_MAX_BODY_BYTES"))
	overrideBool(&c.Fetch.Dedup, "FETCH_DEDUP")

	overrideString(&c.Todos.Store, "TODOS_STORE")
	overrideString(&c.Todos.SlotKey, "TODOS_SLOT_KEY")
	overrideString(&c.Todos.Dir, "TODOS_DIR")
	overrideString(&c.Todos.IdempotencyStore, "IDEMPOTENCY_STORE")

	collect(overrideInt(&c.Counter.Initial, "COUNTER_INITIAL"))

	overrideString(&c.Telemetry.LogLevel, "LOG_LEVEL")
	overrideString(&c.Telemetry.LogFormat, "LOG_FORMAT")
	overrideString(&c.Telemetry.OTelEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	overrideBool(&c.Telemetry.OTelInsecure, "OTEL_EXPORTER_OTLP_INSECURE")
	overrideBool(&c.Telemetry.EnableTracing, "OTEL_ENABLE_TRACING")
	overrideBool(&c.Telemetry.EnableMetrics, "OTEL_ENABLE_METRICS")
	collect(overrideFloat(&c.Telemetry.SampleRate, "OTEL_SAMPLE_RATE"))

	overrideString(&c.Service.Name, "API_SERVICE_NAME")
	overrideString(&c.Service.Version, "SERVICE_VERSION")
	overrideString(&c.Service.Environment, "ENVIRONMENT")

	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.ShutdownGrace < 0 {
		problems = append(problems, "shutdown grace must not be negative")
	}
	if c.Fetch.MinLatency < 0 {
		problems = append(problems, "fetch min latency must not be negative")
	}
	if c.Fetch.Timeout <= 0 {
		problems = append(problems, "fetch timeout must be positive")
	}
	if c.Fetch.CacheCapacity < 0 {
		problems = append(problems, "fetch cache capacity must not be negative")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		problems = append(problems, "fetch max body bytes must be positive")
	}
	switch c.Todos.Store {
	case StoreMemory, StoreFile, StorePostgres:
	default:
		problems = append(problems, fmt.Sprintf("unknown todos store %q", c.Todos.Store))
	}
	if c.Todos.SlotKey == "" {
		problems = append(problems, "todos slot key is required")
	}
	switch c.Todos.IdempotencyStore {
	case StoreMemory, StorePostgres:
	default:
		problems = append(problems, fmt.Sprintf("unknown idempotency store %q", c.Todos.IdempotencyStore))
	}
	if c.Counter.Initial < 0 {
		problems = append(problems, "counter initial value must not be negative")
	}
	switch strings.ToLower(c.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.Telemetry.LogLevel))
	}
	if c.Telemetry.LogFormat != "json" && c.Telemetry.LogFormat != "text" {
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Telemetry.LogFormat))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		problems = append(problems, "sample rate must be between 0.0 and 1.0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// UsesPostgres reports whether any store needs a database connection.
func (c *Config) UsesPostgres() bool {
	return c.Todos.Store == StorePostgres || c.Todos.IdempotencyStore == StorePostgres
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "fetchstate")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	maxConns := getEnvOrDefault("DB_MAX_CONNS", "10")
	minConns := getEnvOrDefault("DB_MIN_CONNS", "1")
	maxLifetime := getEnvOrDefault("DB_MAX_CONN_LIFETIME", "5m")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%s&pool_min_conns=%s&pool_max_conn_lifetime=%s",
		user, password, host, port, dbName, sslMode, maxConns, minConns, maxLifetime,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func overrideString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func overrideBool(dst *bool, key string) {
	if value, ok := os.LookupEnv(key); ok {
		*dst = value == "true"
	}
}

func overrideInt(dst *int, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func overrideInt64(dst *int64, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func overrideFloat(dst *float64, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func overrideDuration(dst *time.Duration, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}
