// Package config handles configuration loading and management for tierlearn.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for tierlearn. It is built once per
// invocation and passed explicitly to every component.
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Learning  LearningConfig  `mapstructure:"learning"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Locks     LocksConfig     `mapstructure:"locks"`
	Log       LogConfig       `mapstructure:"log"`
}

// PathsConfig holds the on-disk roots. Relative paths are resolved against
// the project root by Resolve.
type PathsConfig struct {
	StateDir     string `mapstructure:"state_dir"`
	ArtifactsDir string `mapstructure:"artifacts_dir"`
}

// LearningConfig holds promotion and capacity thresholds.
type LearningConfig struct {
	// PromotionThreshold is the minimum frequency for auto-promotion.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
	// MaxHotItems caps the Hot tier population after capacity enforcement.
	MaxHotItems int `mapstructure:"max_hot_items"`
	// DemotionDays is the Warm-tier inactivity window before demotion to Cold.
	DemotionDays int `mapstructure:"demotion_days"`
	// AutoEnforceCapacity runs capacity enforcement after every submission.
	AutoEnforceCapacity bool `mapstructure:"auto_enforce_capacity"`
}

// BackupConfig holds backup retention settings.
type BackupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	MaxBackups    int `mapstructure:"max_backups"`
}

// ArchiveConfig holds Cold-tier compression settings.
type ArchiveConfig struct {
	// CompressionLevel is the gzip level (1-9).
	CompressionLevel int `mapstructure:"compression_level"`
	// Workers bounds how many quarters are compressed in parallel.
	Workers int `mapstructure:"workers"`
}

// SchedulerConfig holds settings for the periodic archival run.
type SchedulerConfig struct {
	Cron        string `mapstructure:"cron"`
	MetricsFile string `mapstructure:"metrics_file"`
}

// LocksConfig holds advisory lock settings.
type LocksConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// DemotionWindow returns the Warm-tier inactivity window as a duration.
func (c *Config) DemotionWindow() time.Duration {
	return time.Duration(c.Learning.DemotionDays) * 24 * time.Hour
}

// RetentionWindow returns the backup retention window as a duration.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
}

// Resolve makes relative paths absolute against root.
func (c *Config) Resolve(root string) {
	if !filepath.IsAbs(c.Paths.StateDir) {
		c.Paths.StateDir = filepath.Join(root, c.Paths.StateDir)
	}
	if !filepath.IsAbs(c.Paths.ArtifactsDir) {
		c.Paths.ArtifactsDir = filepath.Join(root, c.Paths.ArtifactsDir)
	}
}

// Validate checks that thresholds are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.StateDir == "" {
		errs = append(errs, errors.New("paths.state_dir must be set"))
	}
	if c.Paths.ArtifactsDir == "" {
		errs = append(errs, errors.New("paths.artifacts_dir must be set"))
	}
	if c.Learning.PromotionThreshold < 1 {
		errs = append(errs, fmt.Errorf("learning.promotion_threshold must be >= 1, got %d", c.Learning.PromotionThreshold))
	}
	if c.Learning.MaxHotItems < 1 {
		errs = append(errs, fmt.Errorf("learning.max_hot_items must be >= 1, got %d", c.Learning.MaxHotItems))
	}
	if c.Learning.DemotionDays < 1 {
		errs = append(errs, fmt.Errorf("learning.demotion_days must be >= 1, got %d", c.Learning.DemotionDays))
	}
	if c.Backup.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("backup.retention_days must be >= 1, got %d", c.Backup.RetentionDays))
	}
	if c.Backup.MaxBackups < 1 {
		errs = append(errs, fmt.Errorf("backup.max_backups must be >= 1, got %d", c.Backup.MaxBackups))
	}
	if c.Archive.CompressionLevel < 1 || c.Archive.CompressionLevel > 9 {
		errs = append(errs, fmt.Errorf("archive.compression_level must be 1-9, got %d", c.Archive.CompressionLevel))
	}
	if c.Locks.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("locks.timeout must be positive, got %v", c.Locks.Timeout))
	}
	return errors.Join(errs...)
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TIERLEARN_LEARNING_MAX_HOT_ITEMS, ...)
// 2. Project config (.tierlearn.yaml in current directory or parent)
// 3. User config (~/.config/tierlearn/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return SaveToPath(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveToPath writes the configuration to the given YAML file.
func SaveToPath(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	for key, value := range Values(cfg) {
		v.Set(key, value)
	}

	return v.WriteConfig()
}

// Values flattens the config into dot-notation keys.
func Values(cfg *Config) map[string]any {
	return map[string]any{
		"paths.state_dir":                cfg.Paths.StateDir,
		"paths.artifacts_dir":            cfg.Paths.ArtifactsDir,
		"learning.promotion_threshold":   cfg.Learning.PromotionThreshold,
		"learning.max_hot_items":         cfg.Learning.MaxHotItems,
		"learning.demotion_days":         cfg.Learning.DemotionDays,
		"learning.auto_enforce_capacity": cfg.Learning.AutoEnforceCapacity,
		"backup.retention_days":          cfg.Backup.RetentionDays,
		"backup.max_backups":             cfg.Backup.MaxBackups,
		"archive.compression_level":      cfg.Archive.CompressionLevel,
		"archive.workers":                cfg.Archive.Workers,
		"scheduler.cron":                 cfg.Scheduler.Cron,
		"scheduler.metrics_file":         cfg.Scheduler.MetricsFile,
		"locks.timeout":                  cfg.Locks.Timeout.String(),
		"log.verbose":                    cfg.Log.Verbose,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// ProjectRoot returns the directory holding .tierlearn.yaml, or the working
// directory when there is none.
func ProjectRoot() (string, error) {
	if p := findProjectConfig(); p != "" {
		return filepath.Dir(p), nil
	}
	return os.Getwd()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, value := range Values(d) {
		v.SetDefault(key, value)
	}
}

// bindEnv maps TIERLEARN_* environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("TIERLEARN")
	for key := range Values(Default()) {
		_ = v.BindEnv(key, envName(key))
	}
}

// envName converts "learning.max_hot_items" to "TIERLEARN_LEARNING_MAX_HOT_ITEMS".
func envName(key string) string {
	out := []byte("TIERLEARN_")
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == '.':
			out = append(out, '_')
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// getUserConfigDir returns the XDG config directory for tierlearn.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tierlearn")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "tierlearn")
	}
	return filepath.Join(home, ".config", "tierlearn")
}

// findProjectConfig searches for .tierlearn.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".tierlearn.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			StateDir:     ".tierlearn",
			ArtifactsDir: ".claude",
		},
		Learning: LearningConfig{
			PromotionThreshold:  3,
			MaxHotItems:         20,
			DemotionDays:        30,
			AutoEnforceCapacity: true,
		},
		Backup: BackupConfig{
			RetentionDays: 90,
			MaxBackups:    50,
		},
		Archive: ArchiveConfig{
			CompressionLevel: 6,
			Workers:          2,
		},
		Scheduler: SchedulerConfig{
			Cron: "0 3 * * *",
		},
		Locks: LocksConfig{
			Timeout: 10 * time.Second,
		},
	}
}
