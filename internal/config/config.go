// Package config provides layered configuration loading for the relay:
// defaults, then an optional YAML file, then environment variables. A .env
// file may seed the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

// TLS modes for the SMTP transport.
const (
	TLSModeImplicit = "tls"
	TLSModeStartTLS = "starttls"
	TLSModeNone     = "none"
)

const (
	defaultPort         = 3000
	defaultClientOrigin = "http://localhost:8080"
	defaultFromName     = "Bucks2Bar"
	defaultEmailTimeout = 30 * time.Second

	// defaultMaxBodySize is 10 MB in bytes.
	defaultMaxBodySize = 10 * 1024 * 1024
)

// Config holds the complete application configuration. It is built once at
// startup and passed to the components that need it.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider string        `yaml:"provider"`
	Email    EmailConfig   `yaml:"email"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	ClientOrigin string `yaml:"client_origin"`
	MaxBodySize  int64  `yaml:"max_body_size"`
}

// EmailConfig holds the SMTP transport and sender settings.
type EmailConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	TLSMode     string        `yaml:"tls_mode"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	From        string        `yaml:"from"`
	FromName    string        `yaml:"from_name"`
	Timeout     time.Duration `yaml:"timeout"`
	TLSInsecure bool          `yaml:"tls_insecure"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	cfg.finalize()
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

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	cfg.finalize()
	return cfg, nil
}

// Validate reports every missing or invalid setting for the selected provider.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, errors.New("MAX_BODY_SIZE must be positive"))
	}
	if c.Sender() == "" {
		errs = append(errs, errors.New("EMAIL_FROM or EMAIL_USER is required"))
	}

	switch c.Provider {
	case ProviderSMTP:
		if c.Email.Host == "" {
			errs = append(errs, errors.New("EMAIL_HOST is required"))
		}
		switch c.Email.TLSMode {
		case TLSModeImplicit, TLSModeStartTLS, TLSModeNone:
		default:
			errs = append(errs, fmt.Errorf("EMAIL_TLS_MODE %q must be tls, starttls or none", c.Email.TLSMode))
		}
		if c.Email.User != "" && c.Email.Password == "" {
			errs = append(errs, errors.New("EMAIL_PASSWORD is required when EMAIL_USER is set"))
		}
	case ProviderSES:
		if c.SES.Region == "" {
			errs = append(errs, errors.New("SES_REGION is required"))
		}
	case ProviderGraph:
		if c.Graph.TenantID == "" {
			errs = append(errs, errors.New("GRAPH_TENANT_ID is required"))
		}
		if c.Graph.ClientID == "" {
			errs = append(errs, errors.New("GRAPH_CLIENT_ID is required"))
		}
		if c.Graph.ClientSecret == "" {
			errs = append(errs, errors.New("GRAPH_CLIENT_SECRET is required"))
		}
	case ProviderStdout:
	default:
		errs = append(errs, fmt.Errorf("PROVIDER %q must be smtp, ses, graph or stdout", c.Provider))
	}

	return errors.Join(errs...)
}

// Sender returns the envelope sender address: EMAIL_FROM, or the SMTP user.
func (c *Config) Sender() string {
	if c.Email.From != "" {
		return c.Email.From
	}
	return c.Email.User
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Server.Port = defaultPort
	c.Server.ClientOrigin = defaultClientOrigin
	c.Server.MaxBodySize = defaultMaxBodySize
	c.Provider = ProviderSMTP
	c.Email.TLSMode = TLSModeImplicit
	c.Email.FromName = defaultFromName
	c.Email.Timeout = defaultEmailTimeout
	c.Logging.Level = "info"
}

// finalize fills values derived from others.
func (c *Config) finalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Email.TLSMode = strings.ToLower(strings.TrimSpace(c.Email.TLSMode))
	if c.Email.Port == 0 {
		c.Email.Port = defaultSMTPPort(c.Email.TLSMode)
	}
}

func defaultSMTPPort(mode string) int {
	switch mode {
	case TLSModeStartTLS:
		return 587
	case TLSModeNone:
		return 25
	default:
		return 465
	}
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; malformed
// numbers, booleans and durations are reported together.
func (c *Config) applyEnvVars() error {
	var errs []error

	envInt("PORT", &c.Server.Port, &errs)
	envString("CLIENT_ORIGIN", &c.Server.ClientOrigin)
	envInt64("MAX_BODY_SIZE", &c.Server.MaxBodySize, &errs)
	envString("PROVIDER", &c.Provider)

	envString("EMAIL_HOST", &c.Email.Host)
	envInt("EMAIL_PORT", &c.Email.Port, &errs)
	// EMAIL_SECURE is the legacy boolean; EMAIL_TLS_MODE wins when both are set.
	var secure bool
	if envBool("EMAIL_SECURE", &secure, &errs) {
		if secure {
			c.Email.TLSMode = TLSModeImplicit
		} else {
			c.Email.TLSMode = TLSModeStartTLS
		}
	}
	envString("EMAIL_TLS_MODE", &c.Email.TLSMode)
	envString("EMAIL_USER", &c.Email.User)
	envString("EMAIL_PASSWORD", &c.Email.Password)
	envString("EMAIL_FROM", &c.Email.From)
	envString("EMAIL_FROM_NAME", &c.Email.FromName)
	envDuration("EMAIL_TIMEOUT", &c.Email.Timeout, &errs)
	envBool("EMAIL_TLS_INSECURE", &c.Email.TLSInsecure, &errs)

	envString("SES_REGION", &c.SES.Region)
	envString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	envString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)

	envString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	envString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	envString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func envInt64(key string, dst *int64, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return false
	}
	*dst = b
	return true
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	// Bare numbers are milliseconds, matching nodemailer's timeout options.
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
}
