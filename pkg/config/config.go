// Package config provides configuration structures and loading logic for the gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults that reproduce the original gateway's command line behaviour.
const (
	DefaultListenAddress = "localhost:8080"
	DefaultAdminAddress  = "localhost:19090"
	DefaultCertChainFile = "server-chain.pem"
	DefaultKeyFile       = "server-key.pem"
	DefaultSubject       = "cosmo"
	DefaultServiceName   = "enigma"
)

// Config holds the global configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Crypt     CryptSource     `yaml:"crypt"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the data and admin listeners.
type ServerConfig struct {
	ListenAddress     string        `yaml:"listen_address"`
	AdminAddress      string        `yaml:"admin_address"`
	HTTPS             bool          `yaml:"https"`
	TLS               TLSConfig     `yaml:"tls"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig names the PEM material used when the gateway runs in HTTPS mode.
type TLSConfig struct {
	CertChainFile string `yaml:"cert_chain_file"`
	KeyFile       string `yaml:"key_file"`
	MinVersion    string `yaml:"min_version,omitempty"`
}

// CryptSource locates the field encryption configuration file.
type CryptSource struct {
	File     string        `yaml:"file"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// AuthConfig configures the pass-through authenticator.
type AuthConfig struct {
	Subject string `yaml:"subject"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with the gateway defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: DefaultListenAddress,
			AdminAddress:  DefaultAdminAddress,
			TLS: TLSConfig{
				CertChainFile: DefaultCertChainFile,
				KeyFile:       DefaultKeyFile,
			},
		},
		Crypt: CryptSource{
			Watch: true,
		},
		Auth: AuthConfig{
			Subject: DefaultSubject,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Override adjusts a loaded configuration before it is validated.
type Override func(*Config)

// Load reads configuration from a file, then applies environment variable
// overrides and the given overrides in order, and validates the result.
// An empty path yields the defaults plus overrides.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("ENIGMA_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("ENIGMA_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("ENIGMA_HTTPS"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return NewConfigValidationError("ENIGMA_HTTPS", val, "must be a boolean")
		}
		cfg.Server.HTTPS = enabled
	}
	if val := os.Getenv("ENIGMA_TLS_CERT_CHAIN"); val != "" {
		cfg.Server.TLS.CertChainFile = val
	}
	if val := os.Getenv("ENIGMA_TLS_KEY"); val != "" {
		cfg.Server.TLS.KeyFile = val
	}

	if val := os.Getenv("ENIGMA_CRYPT_CONFIG"); val != "" {
		cfg.Crypt.File = val
	}
	if val := os.Getenv("ENIGMA_CRYPT_WATCH"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return NewConfigValidationError("ENIGMA_CRYPT_WATCH", val, "must be a boolean")
		}
		cfg.Crypt.Watch = enabled
	}

	if val := os.Getenv("ENIGMA_AUTH_SUBJECT"); val != "" {
		cfg.Auth.Subject = val
	}

	if val := os.Getenv("ENIGMA_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("ENIGMA_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("ENIGMA_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ENIGMA_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	return nil
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Crypt.Validate(); err != nil {
		return fmt.Errorf("crypt configuration: %w", err)
	}

	if strings.TrimSpace(c.Auth.Subject) == "" {
		c.Auth.Subject = DefaultSubject
	}

	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = DefaultListenAddress
	}

	if c.AdminAddress != "" && c.AdminAddress == c.ListenAddress && !strings.HasSuffix(c.AdminAddress, ":0") {
		return NewConfigValidationError("admin_address", c.AdminAddress, "conflicts with listen_address").
			WithSuggestion("Use a separate port for the admin listener")
	}

	timeouts := map[string]time.Duration{
		"handshake_timeout":   c.HandshakeTimeout,
		"read_header_timeout": c.ReadHeaderTimeout,
		"read_timeout":        c.ReadTimeout,
		"write_timeout":       c.WriteTimeout,
		"idle_timeout":        c.IdleTimeout,
		"shutdown_timeout":    c.ShutdownTimeout,
	}
	for field, value := range timeouts {
		if value < 0 {
			return NewConfigValidationError(field, value, "must not be negative")
		}
	}

	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}

	if c.HTTPS {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}

	return nil
}

// Validate checks the certificate chain and key locations.
func (c *TLSConfig) Validate() error {
	if strings.TrimSpace(c.CertChainFile) == "" {
		return NewConfigMissingError("cert_chain_file").
			WithSuggestion("Provide a path to the PEM encoded certificate chain, leaf first")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("key_file").
			WithSuggestion("Provide a path to the PEM encoded private key matching the leaf certificate")
	}
	if c.MinVersion != "" {
		version, err := ParseTLSVersion(c.MinVersion)
		if err != nil {
			return NewConfigValidationError("min_version", c.MinVersion, err.Error()).
				WithSuggestion("Use TLS version 1.2 or 1.3")
		}
		if version == TLSVersion10 || version == TLSVersion11 {
			return NewConfigValidationError("min_version", c.MinVersion, "TLS versions below 1.2 are not accepted").
				WithSuggestion("Use TLS version 1.2 or 1.3")
		}
	}
	return nil
}

// Validate requires a crypt configuration location.
func (c *CryptSource) Validate() error {
	if strings.TrimSpace(c.File) == "" {
		return NewConfigMissingError("file").
			WithSuggestion("Set crypt.file, ENIGMA_CRYPT_CONFIG or --crypt-config")
	}
	if c.Debounce < 0 {
		return NewConfigValidationError("debounce", c.Debounce, "must not be negative")
	}
	if c.Debounce == 0 {
		c.Debounce = DefaultDebounce
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}
	return nil
}
