package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	ListenAddr        string
	Environment       string
	LogLevel          string
	LogPretty         bool
	PublicURL         string
	BasePath          string
	CallbackPath      string
	SafeRedirect      string
	Cookie            CookieConfig
	OAuth             OAuthConfig
	Container         ContainerConfig
	RateLimit         RateLimitConfig
	InventorySchedule string
}

// CookieConfig holds session cookie configuration
type CookieConfig struct {
	Name   string
	Path   string
	Secret string
	Secure bool
	TTL    time.Duration
}

// OAuthConfig holds the identity provider configuration
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	Server       string
	Scopes       []string
	Timeout      time.Duration
}

// ContainerConfig holds per-user container configuration
type ContainerConfig struct {
	Image         string
	URLTemplate   string
	NamePrefix    string
	ServicePort   int
	StartupScript string
	SecretLength  int
	Driver        string // api, cli
	DockerHost    string
	Timeout       time.Duration
}

// RateLimitConfig holds per-client rate limiting for the gateway routes
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

const defaultStartupScript = `exec ${OPENVSCODE_SERVER_ROOT}/bin/openvscode-server "${@}"`

var requiredKeys = []string{
	"PUBLIC_URL",
	"COOKIE_PATH",
	"COOKIE_SECRET",
	"OAUTH_APP_ID",
	"OAUTH_APP_SECRET",
	"OAUTH_SERVER",
	"IMAGE_NAME",
	"CONTAINER_URL",
}

// Load reads configuration from the environment and, when present, from a
// dotenv style file. Values already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		}
	}

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		ListenAddr:   v.GetString("LISTEN_ADDR"),
		Environment:  v.GetString("ENVIRONMENT"),
		LogLevel:     v.GetString("LOG_LEVEL"),
		LogPretty:    v.GetBool("LOG_PRETTY"),
		PublicURL:    strings.TrimRight(v.GetString("PUBLIC_URL"), "/"),
		BasePath:     strings.TrimRight(v.GetString("BASE_PATH"), "/"),
		CallbackPath: v.GetString("CALLBACK_PATH"),
		SafeRedirect: v.GetString("SAFE_REDIRECT"),
		Cookie: CookieConfig{
			Name:   v.GetString("COOKIE_NAME"),
			Path:   v.GetString("COOKIE_PATH"),
			Secret: v.GetString("COOKIE_SECRET"),
			Secure: v.GetBool("COOKIE_SECURE"),
			TTL:    v.GetDuration("SESSION_TTL"),
		},
		OAuth: OAuthConfig{
			ClientID:     v.GetString("OAUTH_APP_ID"),
			ClientSecret: v.GetString("OAUTH_APP_SECRET"),
			Server:       strings.TrimRight(v.GetString("OAUTH_SERVER"), "/"),
			Scopes:       splitAndTrim(v.GetString("OAUTH_SCOPES"), ","),
			Timeout:      v.GetDuration("OAUTH_TIMEOUT"),
		},
		Container: ContainerConfig{
			Image:         v.GetString("IMAGE_NAME"),
			URLTemplate:   v.GetString("CONTAINER_URL"),
			NamePrefix:    v.GetString("CONTAINER_PREFIX"),
			ServicePort:   v.GetInt("CONTAINER_PORT"),
			StartupScript: v.GetString("CONTAINER_STARTUP_SCRIPT"),
			SecretLength:  v.GetInt("CONTAINER_SECRET_LENGTH"),
			Driver:        strings.ToLower(v.GetString("RUNTIME_DRIVER")),
			DockerHost:    v.GetString("DOCKER_HOST"),
			Timeout:       v.GetDuration("RUNTIME_TIMEOUT"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},
		InventorySchedule: v.GetString("INVENTORY_SCHEDULE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:3030")
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("BASE_PATH", "")
	v.SetDefault("CALLBACK_PATH", "/callback")
	v.SetDefault("SAFE_REDIRECT", "/")
	v.SetDefault("COOKIE_NAME", "vscode-session")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("OAUTH_SCOPES", "api")
	v.SetDefault("OAUTH_TIMEOUT", "10s")
	v.SetDefault("CONTAINER_PREFIX", "vscs-")
	v.SetDefault("CONTAINER_PORT", 3000)
	v.SetDefault("CONTAINER_STARTUP_SCRIPT", defaultStartupScript)
	v.SetDefault("CONTAINER_SECRET_LENGTH", 32)
	v.SetDefault("RUNTIME_DRIVER", "api")
	v.SetDefault("DOCKER_HOST", "")
	v.SetDefault("RUNTIME_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("INVENTORY_SCHEDULE", "*/15 * * * *")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	publicURL, err := parseAbsoluteURL(c.PublicURL)
	if err != nil {
		return fmt.Errorf("PUBLIC_URL: %w", err)
	}
	if _, err := parseAbsoluteURL(c.OAuth.Server); err != nil {
		return fmt.Errorf("OAUTH_SERVER: %w", err)
	}

	if !strings.HasPrefix(c.CallbackPath, "/") {
		return fmt.Errorf("CALLBACK_PATH must start with /")
	}
	if c.BasePath != "" {
		if !strings.HasPrefix(c.BasePath, "/") {
			return fmt.Errorf("BASE_PATH must start with /")
		}
		// Redirects after login are built from PUBLIC_URL, so it has to point at the mounted routes.
		if !strings.HasSuffix(strings.TrimRight(publicURL.Path, "/"), c.BasePath) {
			return fmt.Errorf("PUBLIC_URL path must end with BASE_PATH %s", c.BasePath)
		}
	}

	if c.Environment == "production" {
		if len(c.Cookie.Secret) < 32 {
			return fmt.Errorf("COOKIE_SECRET must be at least 32 characters in production")
		}

		// Check for insecure default secrets
		insecureSecrets := []string{
			"change-this-secret-in-production",
			"change-me-in-production",
			"secret",
			"password",
			"changeme",
		}
		for _, insecure := range insecureSecrets {
			if c.Cookie.Secret == insecure {
				return fmt.Errorf("COOKIE_SECRET is set to an insecure default value. Please set a strong random secret")
			}
		}
	}

	if c.Cookie.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if len(c.OAuth.Scopes) == 0 {
		return fmt.Errorf("at least one OAuth scope must be configured")
	}

	if !strings.Contains(c.Container.URLTemplate, "{port}") || !strings.Contains(c.Container.URLTemplate, "{token}") {
		return fmt.Errorf("CONTAINER_URL must contain {port} and {token} placeholders")
	}
	if c.Container.ServicePort <= 0 || c.Container.ServicePort > 65535 {
		return fmt.Errorf("CONTAINER_PORT must be a valid port number")
	}
	if c.Container.SecretLength < 16 {
		return fmt.Errorf("CONTAINER_SECRET_LENGTH must be at least 16")
	}
	if c.Container.Timeout <= 0 {
		return fmt.Errorf("RUNTIME_TIMEOUT must be positive")
	}
	switch c.Container.Driver {
	case "api", "cli":
	default:
		return fmt.Errorf("unsupported runtime driver: %s", c.Container.Driver)
	}

	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	return nil
}

// RedirectURL is the callback location registered with the identity provider.
func (c *Config) RedirectURL() string {
	return c.PublicURL + c.CallbackPath
}

// StartURL is where a successful login lands.
func (c *Config) StartURL() string {
	return c.PublicURL + "/start"
}

// PublicOrigin returns scheme://host of the public URL.
func (c *Config) PublicOrigin() string {
	u, err := url.Parse(c.PublicURL)
	if err != nil {
		return c.PublicURL
	}
	return u.Scheme + "://" + u.Host
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("must be an http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}

func splitAndTrim(s, sep string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
