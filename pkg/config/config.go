package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-grounding.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// SemanticModelPath points at the parsed semantic-model declarations (YAML).
	SemanticModelPath string `yaml:"semantic_model_path" env:"SEMANTIC_MODEL_PATH" env-default:"model.yaml"`

	Catalog   CatalogConfig   `yaml:"catalog"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Generator GeneratorConfig `yaml:"generator"`
	LLM       LLMConfig       `yaml:"llm"`
	Auth      AuthConfig      `yaml:"auth"`
}

// CatalogConfig selects where physical-catalog metadata comes from.
type CatalogConfig struct {
	// Source is "file" (a YAML/JSON export) or "warehouse" (live information_schema).
	Source       string `yaml:"source" env:"CATALOG_SOURCE" env-default:"file"`
	SnapshotPath string `yaml:"snapshot_path" env:"CATALOG_SNAPSHOT_PATH" env-default:"catalog.yaml"`
	// CacheTTLSeconds keeps loaded metadata in memory; 0 disables caching.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"CATALOG_CACHE_TTL" env-default:"3600"`
}

// CacheTTL returns the cache TTL as a duration.
func (c *CatalogConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// WarehouseConfig holds the warehouse connection used for catalog reads and dry runs.
type WarehouseConfig struct {
	Type     string `yaml:"type" env:"WAREHOUSE_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User     string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"PGDATABASE" env-default:"warehouse"`
	SSLMode  string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// GeneratorConfig holds planning and rendering settings.
type GeneratorConfig struct {
	DefaultLimit     int     `yaml:"default_limit" env:"DEFAULT_LIMIT" env-default:"100"`
	Dialect          string  `yaml:"dialect" env:"SQL_DIALECT" env-default:"bigquery"`
	EnableDryRun     bool    `yaml:"enable_dry_run" env:"ENABLE_DRY_RUN" env-default:"false"`
	MaxJoins         int     `yaml:"max_joins" env:"MAX_JOINS" env-default:"10"`
	MaxResolveDepth  int     `yaml:"max_resolve_depth" env:"MAX_RESOLVE_DEPTH" env-default:"5"`
	AmbiguityEpsilon float64 `yaml:"ambiguity_epsilon" env:"AMBIGUITY_EPSILON" env-default:"0.25"`
	// Planner is "rule" (deterministic) or "llm".
	Planner string `yaml:"planner" env:"QUERY_PLANNER" env-default:"rule"`
	// UseLLMPlanner is a shorthand that forces Planner to "llm".
	UseLLMPlanner bool `yaml:"use_llm_planner" env:"USE_LLM_PLANNER" env-default:"false"`
}

// LLMConfig configures the optional LLM planner.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"LLM_MODEL_NAME" env-default:"gpt-4o"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxRetries  int     `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"3"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"2000"`
}

// AuthConfig protects the API and MCP endpoints with bearer tokens.
type AuthConfig struct {
	// Required turns on bearer-token checks for /api and /mcp.
	Required bool `yaml:"required" env:"AUTH_REQUIRED" env-default:"false"`

	// EnableVerification controls whether JWT signatures are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// Audience, when set, must appear in the token's aud claim.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from path with environment variable overrides.
// A missing file is not an error; defaults and environment apply.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.Generator.UseLLMPlanner {
		cfg.Generator.Planner = "llm"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Generator.DefaultLimit <= 0 {
		return fmt.Errorf("generator.default_limit must be positive, got %d", c.Generator.DefaultLimit)
	}
	if c.Generator.MaxJoins < 0 {
		return fmt.Errorf("generator.max_joins must not be negative, got %d", c.Generator.MaxJoins)
	}
	if c.Generator.MaxResolveDepth <= 0 {
		return fmt.Errorf("generator.max_resolve_depth must be positive, got %d", c.Generator.MaxResolveDepth)
	}
	if c.Generator.AmbiguityEpsilon < 0 {
		return fmt.Errorf("generator.ambiguity_epsilon must not be negative")
	}

	switch c.Generator.Dialect {
	case "bigquery", "postgres":
	default:
		return fmt.Errorf("generator.dialect must be bigquery or postgres, got %q", c.Generator.Dialect)
	}
	switch c.Generator.Planner {
	case "rule", "llm":
	default:
		return fmt.Errorf("generator.planner must be rule or llm, got %q", c.Generator.Planner)
	}
	switch c.Warehouse.Type {
	case "postgres", "mssql":
	default:
		return fmt.Errorf("warehouse.type must be postgres or mssql, got %q", c.Warehouse.Type)
	}
	if c.Warehouse.Type == "mssql" && c.Generator.EnableDryRun {
		return fmt.Errorf("generator.enable_dry_run is not supported for mssql warehouses")
	}
	switch c.Catalog.Source {
	case "file", "warehouse":
	default:
		return fmt.Errorf("catalog.source must be file or warehouse, got %q", c.Catalog.Source)
	}

	if c.Generator.Planner == "llm" {
		switch c.LLM.Provider {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when planner is llm")
		}
		if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
			return fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature)
		}
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}

	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	if c.Auth.Required && c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth.jwks_endpoints is required when auth is required and verification is enabled")
	}

	return nil
}

// NeedsWarehouse reports whether a live warehouse connection is required.
func (c *Config) NeedsWarehouse() bool {
	return c.Catalog.Source == "warehouse" || c.Generator.EnableDryRun
}

// DSN returns a connection URL for the warehouse type with all
// user-provided parts escaped. When running in Docker, localhost is resolved
// to host.docker.internal so a warehouse on the host machine stays reachable.
func (w *WarehouseConfig) DSN() string {
	if w.Type == "mssql" {
		return w.sqlServerDSN()
	}

	sslMode := w.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(w.User),
		url.QueryEscape(w.Password),
		resolveHostForDocker(w.Host),
		w.Port,
		url.QueryEscape(w.Database),
		sslMode,
	)
}

func (w *WarehouseConfig) sqlServerDSN() string {
	query := url.Values{}
	query.Set("database", w.Database)
	switch w.SSLMode {
	case "", "disable":
		query.Set("encrypt", "disable")
	default:
		query.Set("encrypt", "true")
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(w.User, w.Password),
		Host:     fmt.Sprintf("%s:%d", resolveHostForDocker(w.Host), w.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if ok {
			endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
		}
	}
	return endpoints
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// runningInDocker is swapped in tests.
var runningInDocker = func() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

func resolveHostForDocker(host string) string {
	if !runningInDocker() {
		return host
	}
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1":
		return "host.docker.internal"
	}
	return host
}
