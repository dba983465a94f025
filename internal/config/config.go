// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/mailer-lite/internal/provider/smtp"
	"github.com/shineum/mailer-lite/internal/secret"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	// Provider names the delivery backend: graph, smtp, ses or stdout.
	// Empty means auto-detect.
	Provider string        `yaml:"provider"`
	Graph    GraphConfig   `yaml:"graph"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Relay    RelayConfig   `yaml:"relay"`
	TLS      TLSConfig     `yaml:"tls"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Logging  LoggingConfig `yaml:"logging"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string        `yaml:"tenant_id"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret secret.Secret `yaml:"client_secret"`

	// LoginURL and APIURL override the public cloud endpoints.
	LoginURL string `yaml:"login_url"`
	APIURL   string `yaml:"api_url"`
}

// SMTPConfig holds the outbound SMTP host configuration.
type SMTPConfig struct {
	Host         string          `yaml:"host"`
	Port         int             `yaml:"port"`
	Username     string          `yaml:"username"`
	Password     secret.Secret   `yaml:"password"`
	InvalidCerts smtp.CertPolicy `yaml:"invalid_certs"`
	Security     smtp.Security   `yaml:"security"`
	CAFile       string          `yaml:"ca_file"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string        `yaml:"region"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey secret.Secret `yaml:"secret_access_key"`
}

// RelayConfig holds the inbound SMTP relay configuration.
type RelayConfig struct {
	Listen         string        `yaml:"listen"`
	Username       string        `yaml:"username"`
	Password       secret.Secret `yaml:"password"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	ImplicitTLS    bool          `yaml:"implicit_tls"`
}

// TLSConfig holds the relay certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig holds the Prometheus endpoint configuration. An empty
// Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
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
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		!c.Graph.ClientSecret.IsZero()
}

// SMTPConfigured returns true if an outbound SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// RelayAuthEnabled returns true if both relay username and password are set.
func (c *Config) RelayAuthEnabled() bool {
	return c.Relay.Username != "" && !c.Relay.Password.IsZero()
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = 587
	c.Relay.Listen = ":2525"
	c.Relay.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = secret.New(v)
	}
	if v := os.Getenv("GRAPH_LOGIN_URL"); v != "" {
		c.Graph.LoginURL = v
	}
	if v := os.Getenv("GRAPH_API_URL"); v != "" {
		c.Graph.APIURL = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid SMTP_PORT %q", v)
		}
		c.SMTP.Port = port
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = secret.New(v)
	}
	if v := os.Getenv("SMTP_INVALID_CERTS"); v != "" {
		if err := c.SMTP.InvalidCerts.Set(v); err != nil {
			return fmt.Errorf("SMTP_INVALID_CERTS: %w", err)
		}
	}
	if v := os.Getenv("SMTP_SECURITY"); v != "" {
		if err := c.SMTP.Security.Set(v); err != nil {
			return fmt.Errorf("SMTP_SECURITY: %w", err)
		}
	}
	if v := os.Getenv("SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = secret.New(v)
	}

	if v := os.Getenv("RELAY_LISTEN"); v != "" {
		c.Relay.Listen = v
	}
	if v := os.Getenv("RELAY_USERNAME"); v != "" {
		c.Relay.Username = v
	}
	if v := os.Getenv("RELAY_PASSWORD"); v != "" {
		c.Relay.Password = secret.New(v)
	}
	if v := os.Getenv("RELAY_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Relay.MaxMessageSize = size
		}
	}
	if v := os.Getenv("RELAY_IMPLICIT_TLS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RELAY_IMPLICIT_TLS %q", v)
		}
		c.Relay.ImplicitTLS = enabled
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}
