// Package config loads the prover/attestor service configuration from a
// YAML file, substituting ${ENV_VAR} and ${ENV_VAR:-default} references
// before unmarshalling.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/certen/sgx-prover/pkg/errs"
)

// Duration is a yaml-friendly wrapper around time.Duration accepting
// strings like "30s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// VerifierConfig describes how to reach the Verifier contract.
type VerifierConfig struct {
	Endpoint string `yaml:"endpoint"` // JSON-RPC WS URL
	Addr     string `yaml:"addr"`     // contract address
}

// ServerConfig controls the local JSON-RPC HTTP server.
type ServerConfig struct {
	Addr      string   `yaml:"addr"`
	BodyLimit int64    `yaml:"body_limit"` // bytes
	Workers   int      `yaml:"workers"`    // max concurrent RPC calls
	TLS       *TLSPair `yaml:"tls,omitempty"`
}

// TLSPair names the cert/key pair for an optional TLS listener.
type TLSPair struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Config is the full set of keys enumerated in spec.md section 6.
type Config struct {
	Verifier     VerifierConfig `yaml:"verifier"`
	L2           string         `yaml:"l2"` // L2 node URL
	RelayAccount string         `yaml:"relay_account"` // hex privkey, fee-paying relay (not the enclave key)
	Server       ServerConfig   `yaml:"server"`

	// Attestor-only, relay-mode signing key.
	PrivateKey string `yaml:"private_key,omitempty"`

	// Legacy EPID attestation fields, kept for config-file compatibility.
	SPID        string `yaml:"spid,omitempty"`
	IASAPIKey   string `yaml:"ias_apikey,omitempty"`

	ChainID int64 `yaml:"chain_id"`

	// K is how many blocks behind head the attestor resumes log-tailing
	// from on restart (crash-safe restart point, spec.md 4.7).
	ReplayDepth uint64 `yaml:"replay_depth"`

	Threshold              int      `yaml:"threshold"`
	AttestValiditySeconds  int64    `yaml:"attest_validity_seconds"`
	MaxVoteRetries         int      `yaml:"max_vote_retries"` // "M" in spec.md 4.7
	ReceiptPollAttempts    int      `yaml:"receipt_poll_attempts"` // "N" in spec.md 4.7
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} references in raw with
// the corresponding environment variable (or default, or empty string).
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envRef.FindSubmatch(match)
		name := string(groups[1])
		def := string(groups[3])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(def)
	})
}

// Load reads and parses the config file at path, expanding environment
// variable references first. A missing or malformed config file is a
// Config-kind error, fatal at startup per spec.md section 7.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.Config, "config.Load", fmt.Errorf("read %s: %w", path, err))
	}

	expanded := expandEnv(raw)

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, errs.New(errs.Config, "config.Load", fmt.Errorf("parse %s: %w", path, err))
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return &cfg, errs.New(errs.Config, "config.Load", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8645"
	}
	if c.Server.BodyLimit == 0 {
		c.Server.BodyLimit = 10 << 20
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = 4
	}
	if c.ReplayDepth == 0 {
		c.ReplayDepth = 64
	}
	if c.Threshold == 0 {
		c.Threshold = 1
	}
	if c.AttestValiditySeconds == 0 {
		c.AttestValiditySeconds = 3600
	}
	if c.MaxVoteRetries == 0 {
		c.MaxVoteRetries = 5
	}
	if c.ReceiptPollAttempts == 0 {
		c.ReceiptPollAttempts = 10
	}
}

func (c *Config) validate() error {
	if c.L2 == "" {
		return fmt.Errorf("config: l2 node URL is required")
	}
	if c.Verifier.Addr == "" {
		return fmt.Errorf("config: verifier.addr is required")
	}
	return nil
}
