// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/spool/lib/consent"
	"github.com/bureau-foundation/spool/lib/internallog"
	"github.com/bureau-foundation/spool/lib/storage"
	"github.com/bureau-foundation/spool/lib/upload"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the complete spool configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// Intake describes where batches are sent and how they are
	// tagged.
	Intake IntakeConfig `yaml:"intake"`

	// Consent is the tracking consent at startup: granted, pending
	// or not_granted.
	Consent string `yaml:"consent"`

	Paths   PathsConfig   `yaml:"paths"`
	Storage StorageConfig `yaml:"storage"`
	Upload  UploadConfig  `yaml:"upload"`
	Log     LogConfig     `yaml:"log"`

	// Features lists the features to register. Known names are
	// logs, rum and crash.
	Features []string `yaml:"features"`

	// Per-environment sections, decoded over the base values when
	// Environment matches.
	Development yaml.Node `yaml:"development,omitempty"`
	Staging     yaml.Node `yaml:"staging,omitempty"`
	Production  yaml.Node `yaml:"production,omitempty"`
}

// IntakeConfig configures the upload destination.
type IntakeConfig struct {
	// Site is the intake base URL.
	Site string `yaml:"site"`

	// ClientToken authenticates uploads. It may reference the
	// environment with ${VAR}.
	ClientToken string `yaml:"client_token"`

	Service       string            `yaml:"service"`
	Env           string            `yaml:"env"`
	Version       string            `yaml:"version"`
	Source        string            `yaml:"source"`
	ApplicationID string            `yaml:"application_id"`
	Attributes    map[string]string `yaml:"attributes"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the storage root holding every feature directory.
	Root string `yaml:"root"`
}

// StorageConfig mirrors storage.Config.
type StorageConfig struct {
	MaxItemSize       ByteSize `yaml:"max_item_size"`
	MaxItemsPerBatch  int      `yaml:"max_items_per_batch"`
	MaxBatchSize      ByteSize `yaml:"max_batch_size"`
	OldBatchThreshold Duration `yaml:"old_batch_threshold"`
	BatchSize         string   `yaml:"batch_size"`
	MaxDiskSpace      ByteSize `yaml:"max_disk_space"`
	MaxPendingSize    ByteSize `yaml:"max_pending_size"`
	Compression       string   `yaml:"compression"`

	// EncryptionIdentityFile holds an age X25519 identity. When set,
	// batches are encrypted at rest.
	EncryptionIdentityFile string `yaml:"encryption_identity_file"`
}

// UploadConfig configures the scheduler and HTTP client.
type UploadConfig struct {
	Frequency string   `yaml:"frequency"`
	Timeout   Duration `yaml:"timeout"`

	// ShutdownTimeout bounds the final upload pass on stop.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the internal logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Journal   bool   `yaml:"journal"`
	Telemetry bool   `yaml:"telemetry"`
}

// ByteSize is a size in bytes that unmarshals from an integer or a
// human-readable string.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	size, err := humanize.ParseBytes(text)
	if err != nil {
		return fmt.Errorf("line %d: invalid byte size %q: %w", node.Line, text, err)
	}
	*b = ByteSize(size)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (any, error) {
	return humanize.IBytes(uint64(b)), nil
}

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// Duration unmarshals from Go duration syntax.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used as the base before the file
// is decoded over it.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Environment: Development,
		Consent:     consent.Pending.String(),
		Intake: IntakeConfig{
			Source: "go",
		},
		Paths: PathsConfig{
			Root: filepath.Join(homeDir, ".cache", "spool"),
		},
		Storage: StorageConfig{
			MaxItemSize:       ByteSize(storage.DefaultMaxItemSize),
			MaxItemsPerBatch:  storage.DefaultMaxItemsPerBatch,
			MaxBatchSize:      ByteSize(storage.DefaultMaxBatchSize),
			OldBatchThreshold: Duration(storage.DefaultOldBatchThreshold),
			BatchSize:         storage.BatchSizeMedium.String(),
			MaxDiskSpace:      ByteSize(storage.DefaultMaxDiskSpace),
			MaxPendingSize:    ByteSize(storage.DefaultMaxPendingSize),
			Compression:       storage.CompressionNone.String(),
		},
		Upload: UploadConfig{
			Frequency:       upload.FrequencyAverage.String(),
			Timeout:         Duration(upload.DefaultTimeout),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			Telemetry: true,
		},
		Features: []string{"logs", "rum", "crash"},
	}
}

// Load loads configuration from the file named by SPOOL_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("SPOOL_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SPOOL_CONFIG environment variable not set; " +
			"set it to the path of your spool.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	return Parse(data)
}

// Parse decodes a configuration document over Default, applies the
// environment section and expands variables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides decodes the section for the configured
// environment over the current values. Fields absent from the section
// keep their base values.
func (c *Config) applyEnvironmentOverrides() error {
	var section yaml.Node
	switch c.Environment {
	case Development:
		section = c.Development
	case Staging:
		section = c.Staging
	case Production:
		section = c.Production
	}
	if section.Kind == 0 {
		return nil
	}

	environment := c.Environment
	if err := section.Decode(c); err != nil {
		return fmt.Errorf("parsing %s section: %w", environment, err)
	}
	// An environment section cannot switch environments.
	c.Environment = environment
	return nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"SPOOL_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SPOOL_ROOT"] = c.Paths.Root

	c.Storage.EncryptionIdentityFile = expandVars(c.Storage.EncryptionIdentityFile, vars)
	c.Intake.ClientToken = expandVars(c.Intake.ClientToken, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var knownFeatures = []string{"logs", "rum", "crash"}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if _, err := consent.Parse(c.Consent); err != nil {
		errs = append(errs, fmt.Errorf("consent: %w", err))
	}
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Intake.Site == "" {
		errs = append(errs, errors.New("intake.site is required"))
	}
	if c.Intake.ClientToken == "" {
		errs = append(errs, errors.New("intake.client_token is required"))
	}

	if c.Storage.MaxItemSize <= 0 {
		errs = append(errs, errors.New("storage.max_item_size must be positive"))
	}
	if c.Storage.MaxItemsPerBatch <= 0 {
		errs = append(errs, errors.New("storage.max_items_per_batch must be positive"))
	}
	if c.Storage.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("storage.max_batch_size must be positive"))
	}
	encrypted := c.Storage.EncryptionIdentityFile != ""
	if limit := storage.MaxRecordSize(int64(c.Storage.MaxItemSize), encrypted); limit > int64(c.Storage.MaxBatchSize) {
		errs = append(errs, fmt.Errorf("storage.max_item_size (%s) encodes to %s, which exceeds storage.max_batch_size (%s)",
			c.Storage.MaxItemSize, ByteSize(limit), c.Storage.MaxBatchSize))
	}
	if c.Storage.OldBatchThreshold <= 0 {
		errs = append(errs, errors.New("storage.old_batch_threshold must be positive"))
	}
	if c.Storage.MaxDiskSpace < c.Storage.MaxBatchSize {
		errs = append(errs, errors.New("storage.max_disk_space must be at least storage.max_batch_size"))
	}
	if c.Storage.MaxPendingSize < c.Storage.MaxBatchSize {
		errs = append(errs, errors.New("storage.max_pending_size must be at least storage.max_batch_size"))
	}
	if _, err := storage.ParseBatchSize(c.Storage.BatchSize); err != nil {
		errs = append(errs, fmt.Errorf("storage.batch_size: %w", err))
	}
	if _, err := storage.ParseCompressionTag(c.Storage.Compression); err != nil {
		errs = append(errs, fmt.Errorf("storage.compression: %w", err))
	}

	if _, err := upload.ParseFrequency(c.Upload.Frequency); err != nil {
		errs = append(errs, fmt.Errorf("upload.frequency: %w", err))
	}
	if c.Upload.Timeout <= 0 {
		errs = append(errs, errors.New("upload.timeout must be positive"))
	}

	if _, err := internallog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(c.Features) == 0 {
		errs = append(errs, errors.New("features must list at least one feature"))
	}
	for _, feature := range c.Features {
		if !contains(knownFeatures, feature) {
			errs = append(errs, fmt.Errorf("unknown feature %q (known: %v)", feature, knownFeatures))
		}
	}

	return errors.Join(errs...)
}

// EncryptionIdentity reads the configured age identity file, or
// returns "" when encryption is off.
func (c *Config) EncryptionIdentity() (string, error) {
	if c.Storage.EncryptionIdentityFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Storage.EncryptionIdentityFile)
	if err != nil {
		return "", fmt.Errorf("reading encryption identity: %w", err)
	}
	// age identity files may carry "# created: ..." comment lines.
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line, nil
		}
	}
	return "", fmt.Errorf("encryption identity file %s has no identity", c.Storage.EncryptionIdentityFile)
}

// EnsurePaths creates the storage root.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Paths.Root, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.Root, err)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
