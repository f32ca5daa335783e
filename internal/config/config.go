// Package config loads the daemon's startup configuration: a YAML file
// read once, with environment-variable overrides layered on top. The
// load order and the envdecode "no fields set" tolerance are adapted
// from the teacher's pkg/config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Azure/azsecret/internal/authz"
	"github.com/Azure/azsecret/internal/backend"
	"github.com/Azure/azsecret/internal/record"
)

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	Kind backend.Kind `yaml:"kind" env:"AZSECRET_BACKEND_KIND"`
	Path string       `yaml:"path" env:"AZSECRET_BACKEND_PATH"`
	DSN  string       `yaml:"dsn" env:"AZSECRET_BACKEND_DSN"`
}

// KeyServiceConfig configures the Key Service RPC client.
type KeyServiceConfig struct {
	Endpoint  string `yaml:"endpoint" env:"AZSECRET_KEY_SERVICE_ENDPOINT"`
	TimeoutMS int    `yaml:"timeout_ms" env:"AZSECRET_KEY_SERVICE_TIMEOUT_MS"`
}

// VaultConfig configures the remote vault client. Scope is the OAuth2
// scope requested when the daemon bootstraps its own bearer token via
// azidentity rather than receiving one from the caller (spec.md §4.3
// still treats the token Fetch receives as opaque; Scope only feeds
// that bootstrap path).
type VaultConfig struct {
	TimeoutMS int    `yaml:"timeout_ms" env:"AZSECRET_VAULT_TIMEOUT_MS"`
	Scope     string `yaml:"scope" env:"AZSECRET_VAULT_SCOPE"`
}

// PolicyRule is one line of the authorizer's ordered rule list as read
// from configuration; it maps directly onto authz.Rule.
type PolicyRule struct {
	Principal string   `yaml:"principal"`
	Ops       []string `yaml:"ops"`
	IDPattern string   `yaml:"id_pattern"`
}

// Rule converts a configuration rule into the authz package's Rule type.
func (r PolicyRule) Rule() authz.Rule {
	ops := make([]record.Operation, 0, len(r.Ops))
	for _, o := range r.Ops {
		ops = append(ops, record.Operation(o))
	}
	return authz.Rule{
		PrincipalMatch: r.Principal,
		Allow:          ops,
		IDPattern:      r.IDPattern,
	}
}

// PrincipalMapping maps a kernel-reported (uid, gid) pair onto the
// principal name the authorizer evaluates rules against (spec §3:
// "an authenticated principal name derived from (uid, gid) via
// configuration"). Rules are scanned in order; the first entry whose
// UID (and GID, if set) matches wins. A nil UID or GID matches any
// value, letting a trailing catch-all entry map unrecognized callers to
// a single principal such as "anonymous".
type PrincipalMapping struct {
	UID       *uint32 `yaml:"uid"`
	GID       *uint32 `yaml:"gid"`
	Principal string  `yaml:"principal"`
}

// Config is the daemon's complete startup configuration (spec §6).
type Config struct {
	SocketPath       string              `yaml:"socket_path" env:"AZSECRET_SOCKET_PATH"`
	Backend          BackendConfig       `yaml:"backend"`
	KeyService       KeyServiceConfig    `yaml:"key_service"`
	Vault            VaultConfig         `yaml:"vault"`
	Policy           []PolicyRule        `yaml:"policy"`
	PrincipalMap     []PrincipalMapping  `yaml:"principal_map"`
	RequestTimeoutMS int                 `yaml:"request_timeout_ms" env:"AZSECRET_REQUEST_TIMEOUT_MS"`
	MaxInflight      int                 `yaml:"max_inflight" env:"AZSECRET_MAX_INFLIGHT"`
	MaxSecretBytes   int                 `yaml:"max_secret_bytes" env:"AZSECRET_MAX_SECRET_BYTES"`

	// MetricsAddr is the loopback address the Prometheus /metrics
	// handler is served from, separate from SocketPath's UDS secret
	// API. Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr" env:"AZSECRET_METRICS_ADDR"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig mirrors pkg/logger.Config so it can be embedded directly
// in the daemon's YAML file without a separate logging section format.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"AZSECRET_LOG_LEVEL"`
	Format string `yaml:"format" env:"AZSECRET_LOG_FORMAT"`
	Output string `yaml:"output" env:"AZSECRET_LOG_OUTPUT"`
}

// New returns a Config populated with defaults suitable for a local,
// single-operator deployment.
func New() *Config {
	return &Config{
		SocketPath: "/run/azsecret/azsecret.sock",
		Backend: BackendConfig{
			Kind: backend.KindEmbeddedKV,
			Path: "/var/lib/azsecret",
		},
		KeyService: KeyServiceConfig{
			TimeoutMS: 2000,
		},
		Vault: VaultConfig{
			TimeoutMS: 5000,
			Scope:     "https://vault.azure.net/.default",
		},
		RequestTimeoutMS: 30000,
		MaxInflight:      128,
		MaxSecretBytes:   64 * 1024,
		MetricsAddr:      "127.0.0.1:9090",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from file (if present) and environment
// variables. CONFIG_FILE names the file explicitly; otherwise
// configs/azsecret.yaml is tried and silently skipped if absent.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/azsecret.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged field has a matching
		// environment variable set; treat that as "no overrides".
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from a YAML file only, skipping
// environment overrides. Used by tests and by the operator CLI.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// Validate checks that every required option is set and self-consistent.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("config: socket_path must not be empty")
	}
	switch c.Backend.Kind {
	case backend.KindEmbeddedKV:
		if c.Backend.Path == "" {
			return fmt.Errorf("config: backend.path is required for backend.kind %q", c.Backend.Kind)
		}
	case backend.KindRelational:
		if c.Backend.DSN == "" {
			return fmt.Errorf("config: backend.dsn is required for backend.kind %q", c.Backend.Kind)
		}
	default:
		return fmt.Errorf("config: backend.kind must be %q or %q, got %q", backend.KindEmbeddedKV, backend.KindRelational, c.Backend.Kind)
	}
	if c.MaxInflight <= 0 {
		return fmt.Errorf("config: max_inflight must be positive")
	}
	if c.MaxSecretBytes <= 0 {
		return fmt.Errorf("config: max_secret_bytes must be positive")
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("config: request_timeout_ms must be positive")
	}
	return nil
}

// Rules converts the configuration's policy list into authz.Rule values
// in the same order, preserving the first-match-wins semantics.
func (c *Config) Rules() []authz.Rule {
	rules := make([]authz.Rule, 0, len(c.Policy))
	for _, r := range c.Policy {
		rules = append(rules, r.Rule())
	}
	return rules
}
