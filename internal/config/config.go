package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/datetime"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = conversation.DialectPostgres
	StoreSQLite   = conversation.DialectSQLite
	StoreDynamoDB = "dynamodb"
)

// Transports for the MCP tool server.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// Config is the complete runtime configuration.
type Config struct {
	// Timezone is used to interpret date phrases. Empty means the host zone.
	Timezone string       `yaml:"timezone"`
	Google   GoogleConfig `yaml:"google"`
	Store    StoreConfig  `yaml:"store"`
	OpenAI   OpenAIConfig `yaml:"openai"`
	Server   ServerConfig `yaml:"server"`
	Log      LogConfig    `yaml:"log"`
}

// GoogleConfig holds the OAuth client used for token refresh and the API settings.
type GoogleConfig struct {
	ClientID     string        `yaml:"clientId"`
	ClientSecret string        `yaml:"clientSecret"`
	TokenURL     string        `yaml:"tokenUrl"`
	RefreshSkew  time.Duration `yaml:"refreshSkew"`
	CalendarID   string        `yaml:"calendarId"`
	// Endpoint overrides the Google API base URL (testing against a fake).
	Endpoint string `yaml:"endpoint"`
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// DSN is the connection string for postgres and the file path for sqlite.
	DSN string `yaml:"dsn"`

	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// OpenAIConfig configures the intent classifier. It is disabled without an API key.
type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
}

// ServerConfig configures the listeners of the serve command.
type ServerConfig struct {
	HTTPAddr       string `yaml:"httpAddr"`
	MetricsAddr    string `yaml:"metricsAddr"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	Transport      string `yaml:"transport"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Google: GoogleConfig{
			RefreshSkew: 5 * time.Minute,
			CalendarID:  "primary",
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Table:   "inboxpilot-conversations",
		},
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			MetricsAddr:    ":9090",
			MetricsEnabled: true,
			Transport:      TransportStreamableHTTP,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if not empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("INBOXPILOT_TIMEZONE", &c.Timezone)

	str("GOOGLE_CLIENT_ID", &c.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Google.ClientSecret)
	str("INBOXPILOT_TOKEN_URL", &c.Google.TokenURL)
	str("INBOXPILOT_CALENDAR_ID", &c.Google.CalendarID)
	str("INBOXPILOT_GOOGLE_ENDPOINT", &c.Google.Endpoint)
	if v, ok := lookup("INBOXPILOT_REFRESH_SKEW"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Google.RefreshSkew = d
		}
	}

	str("INBOXPILOT_STORE", &c.Store.Backend)
	str("DATABASE_URL", &c.Store.DSN)
	str("INBOXPILOT_DYNAMODB_TABLE", &c.Store.Table)
	str("AWS_REGION", &c.Store.Region)
	str("INBOXPILOT_DYNAMODB_ENDPOINT", &c.Store.Endpoint)

	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("INBOXPILOT_OPENAI_MODEL", &c.OpenAI.Model)

	str("INBOXPILOT_HTTP_ADDR", &c.Server.HTTPAddr)
	str("INBOXPILOT_METRICS_ADDR", &c.Server.MetricsAddr)
	str("INBOXPILOT_TRANSPORT", &c.Server.Transport)
	if v, ok := lookup("INBOXPILOT_METRICS_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.MetricsEnabled = b
		}
	}

	str("INBOXPILOT_LOG_LEVEL", &c.Log.Level)
	str("INBOXPILOT_LOG_FORMAT", &c.Log.Format)
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	var problems []string

	if _, err := datetime.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Google.RefreshSkew < 0 {
		problems = append(problems, "google.refreshSkew must not be negative")
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres, StoreSQLite:
		if c.Store.DSN == "" {
			problems = append(problems, fmt.Sprintf("store.dsn is required for the %s backend", c.Store.Backend))
		}
	case StoreDynamoDB:
		if c.Store.Table == "" {
			problems = append(problems, "store.table is required for the dynamodb backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Server.Transport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		problems = append(problems, fmt.Sprintf("unknown transport %q", c.Server.Transport))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the configured timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := datetime.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
