// Package config handles configuration loading, validation, and hot
// reload for easeld.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Storage configuration for the encrypted session store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Signing configuration for proof issuance.
	Signing SigningConfig `toml:"signing" json:"signing" yaml:"signing"`

	// Stamp configuration for timestamp backends.
	Stamp StampConfig `toml:"stamp" json:"stamp" yaml:"stamp"`

	// Matcher configuration for the verification index.
	Matcher MatcherConfig `toml:"matcher" json:"matcher" yaml:"matcher"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// StorageConfig holds session persistence settings.
type StorageConfig struct {
	// Dir is the encrypted session store directory.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// CleanupMaxAgeHours removes unfinished session records older
	// than this. 0 disables cleanup.
	CleanupMaxAgeHours int `toml:"cleanup_max_age_hours" json:"cleanup_max_age_hours" yaml:"cleanup_max_age_hours"`

	// PersistIntervalSec is the background persistence cadence.
	PersistIntervalSec int `toml:"persist_interval_sec" json:"persist_interval_sec" yaml:"persist_interval_sec"`
}

// SigningConfig holds proof signing settings.
type SigningConfig struct {
	// PrivateKeyPath is the Ed25519 signing key (raw seed, raw key,
	// or OpenSSH format).
	PrivateKeyPath string `toml:"private_key_path" json:"private_key_path" yaml:"private_key_path"`

	// PublicKeyPath is the verifying key distributed with proofs.
	PublicKeyPath string `toml:"public_key_path" json:"public_key_path" yaml:"public_key_path"`

	// AllowHMACFallback permits the deprecated symmetric scheme when
	// no Ed25519 key is usable. Off by default; switching it on is an
	// explicit, logged decision.
	AllowHMACFallback bool `toml:"allow_hmac_fallback" json:"allow_hmac_fallback" yaml:"allow_hmac_fallback"`

	// HMACSecretPath is the fallback secret location.
	HMACSecretPath string `toml:"hmac_secret_path" json:"hmac_secret_path" yaml:"hmac_secret_path"`
}

// StampBackendConfig is one timestamp backend's settings.
type StampBackendConfig struct {
	Enabled    bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	TimeoutSec int  `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// StampConfig holds timestamp orchestration settings.
type StampConfig struct {
	Gist    StampBackendConfig `toml:"gist" json:"gist" yaml:"gist"`
	Archive StampBackendConfig `toml:"archive" json:"archive" yaml:"archive"`
	Local   StampBackendConfig `toml:"local" json:"local" yaml:"local"`

	// GistToken authenticates against the gist API.
	GistToken string `toml:"gist_token" json:"gist_token" yaml:"gist_token"`

	// GistID is an existing gist to append to; empty creates one per
	// submission.
	GistID string `toml:"gist_id" json:"gist_id" yaml:"gist_id"`

	// LocalLogPath is the HMAC-chained append log location.
	LocalLogPath string `toml:"local_log_path" json:"local_log_path" yaml:"local_log_path"`

	// TLSBundlePath points at a bundled root PEM. Empty uses system
	// roots directly.
	TLSBundlePath string `toml:"tls_bundle_path" json:"tls_bundle_path" yaml:"tls_bundle_path"`

	// AllowUnverifiedTLS permits the loudly-logged last-resort layer.
	AllowUnverifiedTLS bool `toml:"allow_unverified_tls" json:"allow_unverified_tls" yaml:"allow_unverified_tls"`
}

// MatcherConfig holds verification index settings.
type MatcherConfig struct {
	// IndexPath is the SQLite proof index.
	IndexPath string `toml:"index_path" json:"index_path" yaml:"index_path"`

	// HammingThreshold is the widest perceptual distance accepted as
	// a re-encode, out of 256 bits.
	HammingThreshold int `toml:"hamming_threshold" json:"hamming_threshold" yaml:"hamming_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string `toml:"level" json:"level" yaml:"level"`
	Format   string `toml:"format" json:"format" yaml:"format"`
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() *Config {
	base := defaultDataDir()
	return &Config{
		Version: Version,
		Storage: StorageConfig{
			Dir:                filepath.Join(base, "sessions"),
			CleanupMaxAgeHours: 24 * 14,
			PersistIntervalSec: 30,
		},
		Signing: SigningConfig{
			PrivateKeyPath: filepath.Join(base, "keys", "signing.key"),
			PublicKeyPath:  filepath.Join(base, "keys", "signing.pub"),
			HMACSecretPath: filepath.Join(base, "keys", "fallback.secret"),
		},
		Stamp: StampConfig{
			Gist:         StampBackendConfig{Enabled: true, TimeoutSec: 15},
			Archive:      StampBackendConfig{Enabled: true, TimeoutSec: 20},
			Local:        StampBackendConfig{Enabled: true, TimeoutSec: 10},
			LocalLogPath: filepath.Join(base, "timestamps.jsonl"),
		},
		Matcher: MatcherConfig{
			IndexPath:        filepath.Join(base, "proofs.db"),
			HammingThreshold: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "easeld")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "easeld")
		}
		return filepath.Join(home, "easeld")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "easeld")
		}
		return filepath.Join(home, ".local", "share", "easeld")
	}
}

// Validation errors.
var (
	ErrUnsupportedVersion = errors.New("config: unsupported schema version")
	ErrInvalidThreshold   = errors.New("config: hamming threshold out of range")
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Version <= 0 || c.Version > Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, c.Version)
	}
	if c.Storage.Dir == "" {
		return errors.New("config: storage.dir is required")
	}
	if c.Matcher.HammingThreshold < 0 || c.Matcher.HammingThreshold > 256 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, c.Matcher.HammingThreshold)
	}
	for name, b := range map[string]StampBackendConfig{
		"gist": c.Stamp.Gist, "archive": c.Stamp.Archive, "local": c.Stamp.Local,
	} {
		if b.TimeoutSec < 0 {
			return fmt.Errorf("config: stamp.%s.timeout_sec must be >= 0", name)
		}
	}
	if c.Stamp.Local.Enabled && c.Stamp.LocalLogPath == "" {
		return errors.New("config: stamp.local_log_path is required when the local backend is enabled")
	}
	return nil
}

// BackendTimeout returns a backend's timeout with the orchestrator
// default applied.
func (b StampBackendConfig) BackendTimeout(def time.Duration) time.Duration {
	if b.TimeoutSec <= 0 {
		return def
	}
	return time.Duration(b.TimeoutSec) * time.Second
}

// ApplyEnvOverrides layers environment variables over file settings.
// Secrets in particular come from the environment in deployments.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("EASELD_GIST_TOKEN"); v != "" {
		c.Stamp.GistToken = v
	}
	if v := os.Getenv("EASELD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EASELD_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("EASELD_SIGNING_KEY"); v != "" {
		c.Signing.PrivateKeyPath = v
	}
}
