// Package config provides configuration management for winguard.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (WINGUARD_*)
// 3. Project config (.winguard/config.yaml in cwd, or WINGUARD_CONFIG)
// 4. Home config (~/.winguard/config.yaml)
// 5. Defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/winguard/winguard/internal/observability/logging"
	"github.com/winguard/winguard/internal/observability/otel"
	"github.com/winguard/winguard/internal/observability/receipt"
)

// Config holds all winguard configuration.
type Config struct {
	// BackupDir holds index.jsonl and snapshot artifacts.
	BackupDir string `yaml:"backup_dir" json:"backup_dir"`

	// DefaultTimeout applies to exec requests without --timeout.
	DefaultTimeout string `yaml:"default_timeout" json:"default_timeout"`

	// RestorePointTimeout bounds Checkpoint-Computer.
	RestorePointTimeout string `yaml:"restore_point_timeout" json:"restore_point_timeout"`

	// Retention is the age after which `backup retain` purges records.
	// Accepts Go durations plus a "d" suffix for days.
	Retention string `yaml:"retention" json:"retention"`

	PolicyFile   string `yaml:"policy_file" json:"policy_file"`
	PolicyPreset string `yaml:"policy_preset" json:"policy_preset"`

	// AutoRestorePoint takes a restore point before every mutation.
	// Pointer so an explicit false in a project file beats a home true.
	AutoRestorePoint *bool `yaml:"auto_restore_point" json:"auto_restore_point"`

	Log     logging.Config `yaml:"log" json:"log"`
	Otel    otel.Config    `yaml:"otel" json:"otel"`
	Receipt ReceiptConfig  `yaml:"receipt" json:"receipt"`
}

// ReceiptConfig selects where audit receipts go. Empty Path disables them.
type ReceiptConfig struct {
	Path string `yaml:"path" json:"path"`
	Mode string `yaml:"mode" json:"mode"`
}

// Default config values (used in resolution and validation).
const (
	defaultTimeout             = "60s"
	defaultRestorePointTimeout = "2m"
	defaultRetention           = "30d"
	defaultPreset              = "baseline"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BackupDir:           defaultBackupDir(),
		DefaultTimeout:      defaultTimeout,
		RestorePointTimeout: defaultRestorePointTimeout,
		Retention:           defaultRetention,
		PolicyPreset:        defaultPreset,
		Log:                 logging.DefaultConfig(),
		Otel:                otel.DefaultConfig(),
		Receipt:             ReceiptConfig{Mode: string(receipt.ModeAppend)},
	}
}

func defaultBackupDir() string {
	if pd := os.Getenv("ProgramData"); pd != "" {
		return filepath.Join(pd, "winguard", "backups")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".winguard", "backups")
	}
	return filepath.Join(home, ".winguard", "backups")
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
// Missing files are ignored; malformed ones are errors.
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	for _, path := range []string{homeConfigPath(), projectConfigPath()} {
		fileCfg, err := loadFromPath(path)
		if err != nil {
			return nil, err
		}
		if fileCfg != nil {
			cfg = merge(cfg, fileCfg)
		}
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".winguard", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("WINGUARD_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".winguard", "config.yaml")
}

// loadFromPath loads config from a YAML file. A missing file is (nil, nil).
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	envStr := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	envStr("WINGUARD_BACKUP_DIR", &cfg.BackupDir)
	envStr("WINGUARD_DEFAULT_TIMEOUT", &cfg.DefaultTimeout)
	envStr("WINGUARD_RESTORE_POINT_TIMEOUT", &cfg.RestorePointTimeout)
	envStr("WINGUARD_RETENTION", &cfg.Retention)
	envStr("WINGUARD_POLICY_FILE", &cfg.PolicyFile)
	envStr("WINGUARD_POLICY_PRESET", &cfg.PolicyPreset)
	envStr("WINGUARD_LOG_FORMAT", &cfg.Log.Format)
	envStr("WINGUARD_LOG_LEVEL", &cfg.Log.Level)
	envStr("WINGUARD_LOG_OUTPUT", &cfg.Log.Output)
	envStr("WINGUARD_OTEL_ENDPOINT", &cfg.Otel.Endpoint)
	envStr("WINGUARD_OTEL_PROTOCOL", &cfg.Otel.Protocol)
	envStr("WINGUARD_RECEIPT", &cfg.Receipt.Path)
	envStr("WINGUARD_RECEIPT_MODE", &cfg.Receipt.Mode)

	if v, ok := getEnvBool("WINGUARD_OTEL"); ok {
		cfg.Otel.Enabled = v
	}
	if v, ok := getEnvBool("WINGUARD_OTEL_INSECURE"); ok {
		cfg.Otel.Insecure = v
	}
	if v := os.Getenv("WINGUARD_OTEL_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Otel.SampleRatio = f
		}
	}
	if v, ok := getEnvBool("WINGUARD_AUTO_RESTORE_POINT"); ok {
		cfg.AutoRestorePoint = &v
	}
	return cfg
}

// getEnvBool returns the value and whether the variable held a boolean.
func getEnvBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
// Plain booleans can only be switched on by a higher layer.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.BackupDir, src.BackupDir)
	mergeStr(&dst.DefaultTimeout, src.DefaultTimeout)
	mergeStr(&dst.RestorePointTimeout, src.RestorePointTimeout)
	mergeStr(&dst.Retention, src.Retention)
	mergeStr(&dst.PolicyFile, src.PolicyFile)
	mergeStr(&dst.PolicyPreset, src.PolicyPreset)
	if src.AutoRestorePoint != nil {
		v := *src.AutoRestorePoint
		dst.AutoRestorePoint = &v
	}

	mergeStr(&dst.Log.Format, src.Log.Format)
	mergeStr(&dst.Log.Level, src.Log.Level)
	mergeStr(&dst.Log.Output, src.Log.Output)

	if src.Otel.Enabled {
		dst.Otel.Enabled = true
	}
	if src.Otel.Insecure {
		dst.Otel.Insecure = true
	}
	mergeStr(&dst.Otel.Endpoint, src.Otel.Endpoint)
	mergeStr(&dst.Otel.Protocol, src.Otel.Protocol)
	mergeStr(&dst.Otel.ServiceName, src.Otel.ServiceName)
	if src.Otel.SampleRatio != 0 {
		dst.Otel.SampleRatio = src.Otel.SampleRatio
	}

	mergeStr(&dst.Receipt.Path, src.Receipt.Path)
	mergeStr(&dst.Receipt.Mode, src.Receipt.Mode)
	return dst
}

// Validate checks durations, modes and the nested log/otel sections.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BackupDir) == "" {
		return errors.New("config: backup_dir must not be empty")
	}
	for name, v := range map[string]string{
		"default_timeout":       c.DefaultTimeout,
		"restore_point_timeout": c.RestorePointTimeout,
		"retention":             c.Retention,
	} {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %q", name, v)
		}
	}
	if _, err := receipt.ParseMode(c.Receipt.Mode); err != nil {
		return fmt.Errorf("config: receipt.mode: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("config: log: %w", err)
	}
	if err := c.Otel.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CommandTimeout is DefaultTimeout parsed; Validate has already checked it.
func (c *Config) CommandTimeout() time.Duration {
	d, _ := ParseDuration(c.DefaultTimeout)
	return d
}

// RestorePointDeadline is RestorePointTimeout parsed.
func (c *Config) RestorePointDeadline() time.Duration {
	d, _ := ParseDuration(c.RestorePointTimeout)
	return d
}

// RetentionAge is Retention parsed.
func (c *Config) RetentionAge() time.Duration {
	d, _ := ParseDuration(c.Retention)
	return d
}

// RestorePointEnabled reports auto_restore_point, default off.
func (c *Config) RestorePointEnabled() bool {
	return c.AutoRestorePoint != nil && *c.AutoRestorePoint
}

// ParseDuration is time.ParseDuration plus whole days ("30d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
