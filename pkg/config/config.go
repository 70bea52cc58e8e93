package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/repogate/pkg/observability"
)

// Identity modes
const (
	IdentityModeUserinfo = "userinfo"
	IdentityModeOIDC     = "oidc"
	IdentityModeChain    = "chain"
)

// Directory types
const (
	DirectoryPostgres = "postgres"
	DirectorySQLite   = "sqlite"
	DirectoryFile     = "file"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Credential    CredentialConfig
	Identity      IdentityConfig
	Directory     DirectoryConfig
	Access        AccessConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// PublicURL is the externally reachable base address of this service
	PublicURL   string
	CORSOrigins []string
}

// CredentialConfig holds the shared repository credential
type CredentialConfig struct {
	SharedToken string
	TTL         time.Duration
}

// IdentityConfig selects and configures the identity validator
type IdentityConfig struct {
	Mode         string
	URL          string
	APIKey       string
	UserinfoPath string
	EmailPath    string
	Timeout      time.Duration

	OIDCIssuer               string
	OIDCClientID             string
	OIDCRequireVerifiedEmail bool

	// SigninProviders are the OAuth providers offered on the sign-in page
	SigninProviders []string
}

// DirectoryConfig selects the principal/site directory backend
type DirectoryConfig struct {
	Type    string
	DSN     string
	File    string
	Migrate bool

	CacheEnabled  bool
	CacheSize     int
	CacheTTL      time.Duration
	RedisURL      string
	RedisPassword string
}

// AccessConfig holds redirect and scoping policy
type AccessConfig struct {
	AllowedRedirects []string
	StrictRedirects  bool
	RequireSiteScope bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Credential:    loadCredentialConfig(),
		Identity:      loadIdentityConfig(),
		Directory:     loadDirectoryConfig(),
		Access:        loadAccessConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("REPOGATE_HOST", "0.0.0.0"),
		Port:            getEnv("REPOGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("REPOGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("REPOGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("REPOGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("REPOGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("REPOGATE_HEALTH_PORT", "9090"),
		PublicURL:       strings.TrimRight(getEnv("REPOGATE_PUBLIC_URL", "http://localhost:8080"), "/"),
		CORSOrigins:     getEnvList("REPOGATE_CORS_ORIGINS", []string{"*"}),
	}
}

func loadCredentialConfig() CredentialConfig {
	return CredentialConfig{
		SharedToken: os.Getenv("REPOGATE_SHARED_TOKEN"),
		TTL:         getEnvDuration("REPOGATE_TOKEN_TTL", 8*time.Hour),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		Mode:                     strings.ToLower(getEnv("REPOGATE_IDENTITY_MODE", IdentityModeUserinfo)),
		URL:                      strings.TrimRight(getEnv("REPOGATE_IDENTITY_URL", ""), "/"),
		APIKey:                   getEnv("REPOGATE_IDENTITY_API_KEY", ""),
		UserinfoPath:             getEnv("REPOGATE_IDENTITY_USERINFO_PATH", "/auth/v1/user"),
		EmailPath:                getEnv("REPOGATE_IDENTITY_EMAIL_PATH", "email"),
		Timeout:                  getEnvDuration("REPOGATE_IDENTITY_TIMEOUT", 10*time.Second),
		OIDCIssuer:               getEnv("REPOGATE_OIDC_ISSUER", ""),
		OIDCClientID:             getEnv("REPOGATE_OIDC_CLIENT_ID", ""),
		OIDCRequireVerifiedEmail: getEnvBool("REPOGATE_OIDC_REQUIRE_VERIFIED_EMAIL", true),
		SigninProviders:          getEnvList("REPOGATE_SIGNIN_PROVIDERS", []string{"github"}),
	}
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		Type:          strings.ToLower(getEnv("REPOGATE_DIRECTORY_TYPE", DirectoryPostgres)),
		DSN:           getEnv("REPOGATE_DIRECTORY_DSN", ""),
		File:          getEnv("REPOGATE_DIRECTORY_FILE", ""),
		Migrate:       getEnvBool("REPOGATE_DIRECTORY_MIGRATE", true),
		CacheEnabled:  getEnvBool("REPOGATE_CACHE_ENABLED", false),
		CacheSize:     getEnvInt("REPOGATE_CACHE_SIZE", 1024),
		CacheTTL:      getEnvDuration("REPOGATE_CACHE_TTL", time.Minute),
		RedisURL:      getEnv("REPOGATE_REDIS_URL", ""),
		RedisPassword: getEnv("REPOGATE_REDIS_PASSWORD", ""),
	}
}

func loadAccessConfig() AccessConfig {
	return AccessConfig{
		AllowedRedirects: getEnvList("REPOGATE_ALLOWED_REDIRECTS", nil),
		StrictRedirects:  getEnvBool("REPOGATE_STRICT_REDIRECTS", false),
		RequireSiteScope: getEnvBool("REPOGATE_REQUIRE_SITE_SCOPE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("REPOGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("REPOGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("REPOGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("REPOGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("REPOGATE_OTEL_SERVICE_NAME", "repogate"),
		OTelServiceVersion: getEnv("REPOGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("REPOGATE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil {
		return fmt.Errorf("public URL is invalid: %w", err)
	}

	if c.Credential.SharedToken == "" {
		return fmt.Errorf("shared token is required")
	}
	if c.Credential.TTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	switch c.Identity.Mode {
	case IdentityModeUserinfo:
		if c.Identity.URL == "" {
			return fmt.Errorf("identity URL is required for userinfo mode")
		}
	case IdentityModeOIDC:
		if c.Identity.OIDCIssuer == "" || c.Identity.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer and client ID are required for oidc mode")
		}
	case IdentityModeChain:
		if c.Identity.URL == "" {
			return fmt.Errorf("identity URL is required for chain mode")
		}
		if c.Identity.OIDCIssuer == "" || c.Identity.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer and client ID are required for chain mode")
		}
	default:
		return fmt.Errorf("invalid identity mode: %s (must be userinfo, oidc, or chain)", c.Identity.Mode)
	}

	switch c.Directory.Type {
	case DirectoryPostgres, DirectorySQLite:
		if c.Directory.DSN == "" {
			return fmt.Errorf("directory DSN is required for %s directory", c.Directory.Type)
		}
	case DirectoryFile:
		if c.Directory.File == "" {
			return fmt.Errorf("directory file is required for file directory")
		}
	default:
		return fmt.Errorf("invalid directory type: %s (must be postgres, sqlite, or file)", c.Directory.Type)
	}

	if c.Directory.CacheEnabled && c.Directory.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ListenAddr returns host:port for the public listener
func (s ServerConfig) ListenAddr() string {
	return s.Host + ":" + s.Port
}

// HealthAddr returns host:port for the probe and metrics listener
func (s ServerConfig) HealthAddr() string {
	return s.Host + ":" + s.HealthPort
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a trimmed
// list without empty entries, or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
