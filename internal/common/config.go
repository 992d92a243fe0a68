package common

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/joseph-ayodele/docanalysis/constants"
)

// Config holds all application configuration
type Config struct {
	Endpoint EndpointConfig `toml:"endpoint"`
	Auth     AuthConfig     `toml:"auth"`
	Retry    RetryConfig    `toml:"retry"`
	Poll     PollConfig     `toml:"poll"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Watch    WatchConfig    `toml:"watch"`
	Log      LogConfig      `toml:"log"`
}

// EndpointConfig describes the remote analysis resource.
type EndpointConfig struct {
	URL               string   `toml:"url"`
	ModelID           string   `toml:"model_id" validate:"required"`
	APIVersion        string   `toml:"api_version" validate:"required"`
	Features          []string `toml:"features"`
	RequestsPerSecond float64  `toml:"requests_per_second" validate:"gte=0"`
	HTTPTimeout       Duration `toml:"http_timeout" validate:"gt=0"`
}

// AuthConfig selects between a static key and the ambient identity.
type AuthConfig struct {
	APIKey          string `toml:"api_key"`
	ManagedIdentity bool   `toml:"managed_identity"`
	// ClientID selects a user-assigned identity; empty uses the system-assigned one.
	ClientID         string `toml:"client_id"`
	TenantID         string `toml:"tenant_id"`
	ClientSecret     string `toml:"client_secret"`
	IdentityEndpoint string `toml:"identity_endpoint"`
	IdentityHeader   string `toml:"identity_header"`
	AuthorityHost    string `toml:"authority_host" validate:"required,url"`
	Scope            string `toml:"scope" validate:"required"`
}

// RetryConfig is the backoff policy for transient transport failures.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts" validate:"gte=1"`
	BaseDelay   Duration `toml:"base_delay" validate:"gt=0"`
	Multiplier  float64  `toml:"multiplier" validate:"gte=1"`
	MaxDelay    Duration `toml:"max_delay" validate:"gt=0"`
	Jitter      bool     `toml:"jitter"`
}

// PollConfig bounds the job polling loop.
type PollConfig struct {
	Interval Duration `toml:"interval" validate:"gt=0"`
	Timeout  Duration `toml:"timeout" validate:"gt=0"`
	// Retries is the transient-failure budget for the whole poll loop.
	Retries int `toml:"retries" validate:"gte=0"`
}

// DatabaseConfig holds the optional job ledger connection.
type DatabaseConfig struct {
	DSN             string   `toml:"dsn"`
	MaxConns        int32    `toml:"max_conns" validate:"gte=1"`
	MinConns        int32    `toml:"min_conns" validate:"gte=0"`
	MaxConnLifetime Duration `toml:"max_conn_lifetime"`
	MaxConnIdleTime Duration `toml:"max_conn_idle_time"`
	DialTimeout     Duration `toml:"dial_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string `toml:"grpc_addr" validate:"required"`
}

// WatchConfig drives the directory watch mode.
type WatchConfig struct {
	OutputDir      string   `toml:"output_dir"`
	Workers        int      `toml:"workers" validate:"gte=1"`
	QueueSize      int      `toml:"queue_size" validate:"gte=1"`
	ProcessTimeout Duration `toml:"process_timeout" validate:"gt=0"`
	Debounce       Duration `toml:"debounce"`
	WriteXLSX      bool     `toml:"write_xlsx"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// Duration is a time.Duration that reads from strings like "1.5s" in config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Dur wraps a time.Duration.
func Dur(d time.Duration) Duration { return Duration{Duration: d} }

// NewDefaultConfig returns the configuration used when nothing is set.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			ModelID:           constants.ModelLayout,
			APIVersion:        constants.DefaultAPIVersion,
			Features:          append([]string(nil), constants.DefaultFeatures...),
			RequestsPerSecond: 15,
			HTTPTimeout:       Dur(60 * time.Second),
		},
		Auth: AuthConfig{
			ManagedIdentity: true,
			AuthorityHost:   "https://login.microsoftonline.com",
			Scope:           constants.CognitiveServicesScope,
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   Dur(1 * time.Second),
			Multiplier:  2,
			MaxDelay:    Dur(30 * time.Second),
			Jitter:      true,
		},
		Poll: PollConfig{
			Interval: Dur(2 * time.Second),
			Timeout:  Dur(5 * time.Minute),
			Retries:  5,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: Dur(30 * time.Minute),
			MaxConnIdleTime: Dur(5 * time.Minute),
			DialTimeout:     Dur(3 * time.Second),
		},
		Server: ServerConfig{
			GRPCAddr: ":8080",
		},
		Watch: WatchConfig{
			Workers:        2,
			QueueSize:      64,
			ProcessTimeout: Dur(10 * time.Minute),
			Debounce:       Dur(500 * time.Millisecond),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration: defaults, then the optional TOML file, then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, InvalidConfigError("read config file "+path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, InvalidConfigError("parse config file "+path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(c *Config) {
	c.Endpoint.URL = firstEnv(c.Endpoint.URL, "DOCUMENT_INTELLIGENCE_ENDPOINT", "AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT")
	c.Endpoint.ModelID = getEnv("DOCINTEL_MODEL_ID", c.Endpoint.ModelID)
	c.Endpoint.APIVersion = getEnv("DOCINTEL_API_VERSION", c.Endpoint.APIVersion)
	if v := os.Getenv("DOCINTEL_FEATURES"); v != "" {
		c.Endpoint.Features = splitList(v)
	}
	c.Endpoint.RequestsPerSecond = getEnvAsFloat64("DOCINTEL_REQUESTS_PER_SECOND", c.Endpoint.RequestsPerSecond)
	c.Endpoint.HTTPTimeout = getEnvAsDuration("DOCINTEL_HTTP_TIMEOUT", c.Endpoint.HTTPTimeout)

	c.Auth.APIKey = firstEnv(c.Auth.APIKey, "DOCUMENT_INTELLIGENCE_KEY", "AZURE_DOCUMENT_INTELLIGENCE_KEY")
	c.Auth.ManagedIdentity = getEnvAsBool("DOCINTEL_USE_MANAGED_IDENTITY", c.Auth.ManagedIdentity)
	c.Auth.ClientID = getEnv("AZURE_CLIENT_ID", c.Auth.ClientID)
	c.Auth.TenantID = getEnv("AZURE_TENANT_ID", c.Auth.TenantID)
	c.Auth.ClientSecret = getEnv("AZURE_CLIENT_SECRET", c.Auth.ClientSecret)
	c.Auth.IdentityEndpoint = getEnv("IDENTITY_ENDPOINT", c.Auth.IdentityEndpoint)
	c.Auth.IdentityHeader = getEnv("IDENTITY_HEADER", c.Auth.IdentityHeader)
	c.Auth.AuthorityHost = getEnv("AZURE_AUTHORITY_HOST", c.Auth.AuthorityHost)

	c.Retry.MaxAttempts = getEnvAsInt("DOCINTEL_RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.BaseDelay = getEnvAsDuration("DOCINTEL_RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.Multiplier = getEnvAsFloat64("DOCINTEL_RETRY_MULTIPLIER", c.Retry.Multiplier)
	c.Retry.MaxDelay = getEnvAsDuration("DOCINTEL_RETRY_MAX_DELAY", c.Retry.MaxDelay)
	c.Retry.Jitter = getEnvAsBool("DOCINTEL_RETRY_JITTER", c.Retry.Jitter)

	c.Poll.Interval = getEnvAsDuration("DOCINTEL_POLL_INTERVAL", c.Poll.Interval)
	c.Poll.Timeout = getEnvAsDuration("DOCINTEL_POLL_TIMEOUT", c.Poll.Timeout)
	c.Poll.Retries = getEnvAsInt("DOCINTEL_POLL_RETRIES", c.Poll.Retries)

	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)

	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)

	c.Watch.OutputDir = getEnv("WATCH_OUTPUT_DIR", c.Watch.OutputDir)
	c.Watch.Workers = getEnvAsInt("WATCH_WORKERS", c.Watch.Workers)
	c.Watch.WriteXLSX = getEnvAsBool("WATCH_WRITE_XLSX", c.Watch.WriteXLSX)

	c.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(getEnv("LOG_FORMAT", c.Log.Format))
}

// Validate validates the loaded configuration. The endpoint URL is checked per request.
func (c *Config) Validate() error {
	if err := NewStructValidator().Struct(c); err != nil {
		return InvalidConfigError("invalid configuration: "+FormatValidationErrors(err), ErrInvalidInput)
	}
	if c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		return InvalidConfigError("retry.max_delay must not be below retry.base_delay", ErrInvalidInput)
	}
	return nil
}

// NewStructValidator returns a validator that understands Duration fields.
func NewStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	return v
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(defaultValue string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return Dur(duration)
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
