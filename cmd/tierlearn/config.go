package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierlearn/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify tierlearn configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/tierlearn/config.yaml
Project-specific overrides can be placed in .tierlearn.yaml
Environment variables such as TIERLEARN_LEARNING_MAX_HOT_ITEMS override both.`,
	Args:        cobra.MaximumNArgs(2),
	Annotations: map[string]string{noState: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
		}
		return nil
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	values := config.Values(cfg)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, values[k])
	}
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(os.Stderr, "\n(project overrides from %s)\n", p)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	v, ok := config.Values(cfg)[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return fmt.Sprint(v), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	key = strings.ToLower(key)
	atoi := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	switch key {
	case "paths.state_dir":
		cfg.Paths.StateDir = value
	case "paths.artifacts_dir":
		cfg.Paths.ArtifactsDir = value
	case "learning.promotion_threshold":
		return atoi(&cfg.Learning.PromotionThreshold)
	case "learning.max_hot_items":
		return atoi(&cfg.Learning.MaxHotItems)
	case "learning.demotion_days":
		return atoi(&cfg.Learning.DemotionDays)
	case "learning.auto_enforce_capacity":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		cfg.Learning.AutoEnforceCapacity = b
	case "backup.retention_days":
		return atoi(&cfg.Backup.RetentionDays)
	case "backup.max_backups":
		return atoi(&cfg.Backup.MaxBackups)
	case "archive.compression_level":
		return atoi(&cfg.Archive.CompressionLevel)
	case "archive.workers":
		return atoi(&cfg.Archive.Workers)
	case "scheduler.cron":
		cfg.Scheduler.Cron = value
	case "scheduler.metrics_file":
		cfg.Scheduler.MetricsFile = value
	case "locks.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		cfg.Locks.Timeout = d
	case "log.verbose":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		cfg.Log.Verbose = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
