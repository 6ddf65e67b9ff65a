// Package config provides configuration management for the holdings tracker.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/security"
)

// Store backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Data       DataConfig        `mapstructure:"data"`
	Thresholds ThresholdConfig   `mapstructure:"thresholds"`
	Filter     FilterConfig      `mapstructure:"filter"`
	Funds      []FundConfig      `mapstructure:"funds"`
	Names      map[string]string `mapstructure:"names"`
	Artifacts  ArtifactConfig    `mapstructure:"artifacts"`
	Logging    LoggingConfig     `mapstructure:"logging"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// DataConfig holds snapshot storage configuration.
type DataConfig struct {
	Dir        string `mapstructure:"dir"`
	Backend    string `mapstructure:"backend"` // json, sqlite
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ThresholdConfig holds the noise-suppression thresholds used by the
// presence policy, the change classifier and the history builder.
// Counts are in shares, weights in percent.
type ThresholdConfig struct {
	PresenceShares int64   `mapstructure:"presence_shares"`
	WeightMajor    float64 `mapstructure:"weight_major"`
	CountMajor     int64   `mapstructure:"count_major"`
	CountDetailed  int64   `mapstructure:"count_detailed"`
	WeightDisplay  float64 `mapstructure:"weight_display"`
}

// FilterConfig controls which instrument codes are tracked.
type FilterConfig struct {
	NumericCodesOnly bool `mapstructure:"numeric_codes_only"`
}

// FundConfig describes one tracked fund.
type FundConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// ArtifactConfig holds the file names of the derived artifacts.
type ArtifactConfig struct {
	ReportFile  string `mapstructure:"report_file"`
	HistoryFile string `mapstructure:"history_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultThresholds returns the thresholds of the live comparison path.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		PresenceShares: 5 * 1000,
		WeightMajor:    0.25,
		CountMajor:     50 * 1000,
		CountDetailed:  30 * 1000,
		WeightDisplay:  0.15,
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/etfwatch"
	}
	return filepath.Join(home, ".config", "etfwatch")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config.toml: %w", err)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.Dir = configDir

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration holding only defaults, rooted at dataDir.
func Default(dataDir string) *Config {
	t := DefaultThresholds()
	cfg := &Config{
		Data:       DataConfig{Dir: dataDir, Backend: BackendJSON},
		Thresholds: t,
		Filter:     FilterConfig{NumericCodesOnly: true},
		Names:      map[string]string{},
		Artifacts: ArtifactConfig{
			ReportFile:  "processed_etf_data.json",
			HistoryFile: "stock_history_data.json",
		},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
	cfg.resolvePaths()
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	t := DefaultThresholds()
	v.SetDefault("data.dir", filepath.Join(configDir, "data"))
	v.SetDefault("data.backend", BackendJSON)
	v.SetDefault("data.sqlite_path", "")
	v.SetDefault("thresholds.presence_shares", t.PresenceShares)
	v.SetDefault("thresholds.weight_major", t.WeightMajor)
	v.SetDefault("thresholds.count_major", t.CountMajor)
	v.SetDefault("thresholds.count_detailed", t.CountDetailed)
	v.SetDefault("thresholds.weight_display", t.WeightDisplay)
	v.SetDefault("filter.numeric_codes_only", true)
	v.SetDefault("artifacts.report_file", "processed_etf_data.json")
	v.SetDefault("artifacts.history_file", "stock_history_data.json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "etfwatch.log"))
	v.SetDefault("logging.max_size", 20)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("ETFWATCH_STORE_BACKEND"); v != "" {
		cfg.Data.Backend = v
	}
	if v := os.Getenv("ETFWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) resolvePaths() {
	c.Data.Dir = expandHome(c.Data.Dir)
	c.Logging.FilePath = expandHome(c.Logging.FilePath)
	if c.Data.SQLitePath == "" {
		c.Data.SQLitePath = filepath.Join(c.Data.Dir, "snapshots.db")
	}
	c.Data.SQLitePath = expandHome(c.Data.SQLitePath)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}

	switch c.Data.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return apperrors.NewThresholdConfigError("data.backend", c.Data.Backend, "must be 'json' or 'sqlite'")
	}
	if c.Data.Dir == "" {
		return apperrors.NewThresholdConfigError("data.dir", c.Data.Dir, "must not be empty")
	}

	seen := make(map[string]bool, len(c.Funds))
	for _, f := range c.Funds {
		if err := security.ValidateFundID(f.ID); err != nil {
			return apperrors.NewThresholdConfigError("funds.id", f.ID, "must be alphanumeric (with _ or -), at most 32 characters")
		}
		if seen[f.ID] {
			return apperrors.NewThresholdConfigError("funds.id", f.ID, "duplicate fund")
		}
		seen[f.ID] = true
	}

	return nil
}

// Validate rejects negative thresholds and weights outside 0..100.
func (t ThresholdConfig) Validate() error {
	if t.PresenceShares < 0 {
		return apperrors.NewThresholdConfigError("thresholds.presence_shares", t.PresenceShares, "must be non-negative")
	}
	if t.CountMajor < 0 {
		return apperrors.NewThresholdConfigError("thresholds.count_major", t.CountMajor, "must be non-negative")
	}
	if t.CountDetailed < 0 {
		return apperrors.NewThresholdConfigError("thresholds.count_detailed", t.CountDetailed, "must be non-negative")
	}
	if !isFinite(t.WeightMajor) {
		return apperrors.NewThresholdConfigError("thresholds.weight_major", t.WeightMajor, "must be a finite number")
	}
	if !isFinite(t.WeightDisplay) {
		return apperrors.NewThresholdConfigError("thresholds.weight_display", t.WeightDisplay, "must be a finite number")
	}
	if t.WeightMajor < 0 || t.WeightMajor > 100 {
		return apperrors.NewThresholdConfigError("thresholds.weight_major", t.WeightMajor, "must be between 0 and 100")
	}
	if t.WeightDisplay < 0 || t.WeightDisplay > 100 {
		return apperrors.NewThresholdConfigError("thresholds.weight_display", t.WeightDisplay, "must be between 0 and 100")
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Fund returns the configured fund with the given id.
func (c *Config) Fund(id string) (FundConfig, bool) {
	for _, f := range c.Funds {
		if f.ID == id {
			return f, true
		}
	}
	return FundConfig{}, false
}

// FundName returns the display name of a fund, or its id when unnamed.
func (c *Config) FundName(id string) string {
	if f, ok := c.Fund(id); ok && f.Name != "" {
		return f.Name
	}
	return id
}

// FundIDs returns the configured fund ids in declaration order.
func (c *Config) FundIDs() []string {
	ids := make([]string, 0, len(c.Funds))
	for _, f := range c.Funds {
		ids = append(ids, f.ID)
	}
	return ids
}

// ReportPath returns the path of the processed change report.
func (c *Config) ReportPath() string {
	return filepath.Join(c.Data.Dir, c.Artifacts.ReportFile)
}

// HistoryPath returns the path of the per-instrument lifecycle artifact.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Data.Dir, c.Artifacts.HistoryFile)
}
