// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	SMTP    SMTPConfig    `yaml:"smtp"`
	Webhook WebhookConfig `yaml:"webhook"`
	Forward ForwardConfig `yaml:"forward"`
	Lookup  LookupConfig  `yaml:"lookup"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// WebhookConfig holds the webhook sink configuration.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	Format string `yaml:"format"`
}

// ForwardConfig holds the SES forwarding sink configuration.
type ForwardConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	Sender           string `yaml:"sender"`
	DefaultRecipient string `yaml:"default_recipient"`
}

// LookupConfig holds the forwarding-address lookup service configuration.
type LookupConfig struct {
	URL      string        `yaml:"url"`
	Secret   string        `yaml:"secret"`
	CacheTTL time.Duration `yaml:"-"`
}

// UnmarshalYAML decodes the lookup section, parsing cache_ttl from a
// duration string ("30s", "5m"). An absent cache_ttl keeps the value
// already set by the defaults.
func (l *LookupConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		URL      string `yaml:"url"`
		Secret   string `yaml:"secret"`
		CacheTTL string `yaml:"cache_ttl"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	l.URL = raw.URL
	l.Secret = raw.Secret
	if raw.CacheTTL != "" {
		ttl, err := time.ParseDuration(raw.CacheTTL)
		if err != nil {
			return fmt.Errorf("invalid lookup cache_ttl: %w", err)
		}
		l.CacheTTL = ttl
	}
	return nil
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// WebhookConfigured returns true if the webhook sink has an endpoint.
func (c *Config) WebhookConfigured() bool {
	return c.Webhook.URL != ""
}

// ForwardConfigured returns true if the SES forwarder has the settings it
// needs: a region, a sender identity, and at least one way to pick a
// recipient (static default or lookup service).
func (c *Config) ForwardConfigured() bool {
	return c.Forward.Region != "" &&
		c.Forward.Sender != "" &&
		(c.Forward.DefaultRecipient != "" || c.LookupConfigured())
}

// LookupConfigured returns true if a lookup service URL is set.
func (c *Config) LookupConfigured() bool {
	return c.Lookup.URL != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Webhook.Format = "json"
	c.Lookup.CacheTTL = 5 * time.Minute
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SMTP_LISTEN"); v != "" {
		c.SMTP.Listen = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
	if v := os.Getenv("WEBHOOK_FORMAT"); v != "" {
		c.Webhook.Format = strings.ToLower(v)
	}

	if v := os.Getenv("FORWARD_REGION"); v != "" {
		c.Forward.Region = v
	}
	if v := os.Getenv("FORWARD_ACCESS_KEY_ID"); v != "" {
		c.Forward.AccessKeyID = v
	}
	if v := os.Getenv("FORWARD_SECRET_ACCESS_KEY"); v != "" {
		c.Forward.SecretAccessKey = v
	}
	if v := os.Getenv("FORWARD_SENDER"); v != "" {
		c.Forward.Sender = v
	}
	if v := os.Getenv("FORWARD_DEFAULT_RECIPIENT"); v != "" {
		c.Forward.DefaultRecipient = v
	}

	if v := os.Getenv("LOOKUP_URL"); v != "" {
		c.Lookup.URL = v
	}
	if v := os.Getenv("LOOKUP_SECRET"); v != "" {
		c.Lookup.Secret = v
	}
	if v := os.Getenv("LOOKUP_CACHE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Lookup.CacheTTL = ttl
		}
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
