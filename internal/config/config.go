// Package config loads workspace-nexus settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/pysugar/workspace-nexus/internal/auth/oauth"
	"github.com/pysugar/workspace-nexus/internal/workspace/selector"
)

// Config is the full process configuration.
type Config struct {
	Host          string `env:"HOST" envDefault:"127.0.0.1"`
	Port          string `env:"PORT" envDefault:"8080"`
	DatabasePath  string `env:"NEXUS_DB_PATH" envDefault:"workspace.db"`
	APIKey        string `env:"NEXUS_API_KEY"`
	AdminPassword string `env:"NEXUS_ADMIN_PASSWORD"`
	// PublicURL is the externally reachable base used for OAuth redirects.
	PublicURL string `env:"NEXUS_PUBLIC_URL"`

	Google    ProviderEnv `envPrefix:"GOOGLE_"`
	Microsoft ProviderEnv `envPrefix:"MICROSOFT_"`
	Zoho      ProviderEnv `envPrefix:"ZOHO_"`

	MicrosoftTenant  string `env:"MICROSOFT_TENANT" envDefault:"common"`
	ZohoAccountsHost string `env:"ZOHO_ACCOUNTS_HOST" envDefault:"https://accounts.zoho.com"`

	SchedulerInterval    time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1m"`
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" envDefault:"15m"`
	TokenRefreshWindow   time.Duration `env:"TOKEN_REFRESH_WINDOW" envDefault:"20m"`
	MaxRetries           int           `env:"TASK_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay       time.Duration `env:"TASK_RETRY_BASE" envDefault:"1m"`
	RetryMaxDelay        time.Duration `env:"TASK_RETRY_MAX" envDefault:"1h"`
	CommandTimeout       time.Duration `env:"COMMAND_TIMEOUT" envDefault:"30s"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`

	// QualityFile optionally overrides the provider quality table.
	QualityFile string `env:"PROVIDER_QUALITY_FILE"`
}

// ProviderEnv is one provider's OAuth client registration.
type ProviderEnv struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️ Failed to read .env: %v", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.SchedulerInterval <= 0:
		return errors.New("SCHEDULER_INTERVAL must be positive")
	case c.TokenRefreshInterval <= 0:
		return errors.New("TOKEN_REFRESH_INTERVAL must be positive")
	case c.MaxRetries < 0:
		return errors.New("TASK_MAX_RETRIES must not be negative")
	case c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay:
		return errors.New("TASK_RETRY_BASE must be positive and not exceed TASK_RETRY_MAX")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// BaseURL is PublicURL, or the listen address when unset.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	host := c.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return "http://" + host + ":" + c.Port
}

// CallbackURL is the OAuth redirect for provider.
func (c *Config) CallbackURL(provider string) string {
	return c.BaseURL() + "/auth/" + strings.ToLower(provider) + "/callback"
}

// OAuthProviders builds the providers that have client credentials.
func (c *Config) OAuthProviders() []*oauth.Provider {
	var out []*oauth.Provider
	if creds := c.credentials(c.Google, "google_workspace"); creds.Configured() {
		out = append(out, oauth.Google(creds))
	}
	if creds := c.credentials(c.Microsoft, "microsoft_365"); creds.Configured() {
		out = append(out, oauth.Microsoft(creds, c.MicrosoftTenant))
	}
	if creds := c.credentials(c.Zoho, "zoho"); creds.Configured() {
		out = append(out, oauth.Zoho(creds, c.ZohoAccountsHost))
	}
	return out
}

func (c *Config) credentials(p ProviderEnv, slug string) oauth.Credentials {
	return oauth.Credentials{ClientID: p.ClientID, ClientSecret: p.ClientSecret, RedirectURL: c.CallbackURL(slug)}
}

// Quality returns the provider quality table, applying QualityFile when set.
func (c *Config) Quality() (selector.QualityTable, error) {
	if c.QualityFile == "" {
		return selector.DefaultQuality(), nil
	}
	q, err := selector.LoadQuality(c.QualityFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.QualityFile, err)
	}
	return q, nil
}
