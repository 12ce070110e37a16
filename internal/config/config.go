package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvSecret = "MSA_VERIFIER_PRIVATE_KEY"
	EnvListen = "MSA_LISTEN"
)

// Config holds the verifier service settings. The private key itself is never
// read from the file; only a key file path may be.
type Config struct {
	Listen            string        `yaml:"listen"`
	TLSCertPath       string        `yaml:"tls_cert"`
	TLSKeyPath        string        `yaml:"tls_key"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MessageVersion    int           `yaml:"message_version"`
	KeyFile           string        `yaml:"key_file"`
	AllowEphemeralKey bool          `yaml:"allow_ephemeral_key"`
	Journal           JournalConfig `yaml:"journal"`
	Log               LogConfig     `yaml:"log"`

	// SecretHex comes from the environment only.
	SecretHex string `yaml:"-"`
}

type JournalConfig struct {
	// Driver is one of none, local, sqlite.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type LogConfig struct {
	Verbose bool `yaml:"verbose"`
	JSON    bool `yaml:"json"`
}

// Default returns the default service configuration.
func Default() Config {
	return Config{
		Listen:            ":8080",
		MaxBodyBytes:      64 * 1024,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		Journal:           JournalConfig{Driver: "none"},
	}
}

// Load reads a YAML file over Default() and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overlays environment values using lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvSecret); ok {
		c.SecretHex = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvListen); ok && strings.TrimSpace(v) != "" {
		c.Listen = strings.TrimSpace(v)
	}
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.MessageVersion != 0 && c.MessageVersion != 1 {
		return fmt.Errorf("unsupported message_version %d", c.MessageVersion)
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	switch c.Journal.Driver {
	case "", "none":
	case "local", "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path is required for driver %s", c.Journal.Driver)
		}
	default:
		return fmt.Errorf("unsupported journal driver %s", c.Journal.Driver)
	}
	return nil
}
