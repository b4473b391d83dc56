// Package config handles application configuration from environment
// variables, optionally layered over a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"robots_timeline/internal/filter"
	"robots_timeline/internal/model"
)

// Config holds the application configuration.
type Config struct {
	PublishersDir  string `yaml:"publishers_dir"`
	PublishersFile string `yaml:"publishers_file"`
	BotsFile       string `yaml:"bots_file"`
	OutputPath     string `yaml:"output_path"`
	DatabasePath   string `yaml:"database_path"`
	MetricsPath    string `yaml:"metrics_path"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	Workers        int    `yaml:"workers"`
	PublisherLimit int    `yaml:"publisher_limit"`
	MentionedOnly  bool   `yaml:"mentioned_only"`
	Years          []int  `yaml:"years"`
	BotFilters     string `yaml:"bot_filters"`
	StartDate      string `yaml:"start_date"`
	EndDate        string `yaml:"end_date"`

	// Parsed from BotFilters, StartDate and EndDate.
	Rules []filter.Rule `yaml:"-"`
	Start time.Time     `yaml:"-"`
	End   time.Time     `yaml:"-"`
}

func defaults() Config {
	return Config{
		OutputPath:     "./data/bot_blocking_analysis.csv",
		LogLevel:       "info",
		LogFormat:      "text",
		Workers:        1,
		PublisherLimit: 100,
	}
}

// Load reads configuration from CONFIG_FILE (if set) and then from
// environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path) //nolint:gosec // path comes from the environment
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.PublishersDir, "PUBLISHERS_DIR")
	setString(&cfg.PublishersFile, "PUBLISHERS_FILE")
	setString(&cfg.BotsFile, "BOTS_FILE")
	setString(&cfg.OutputPath, "OUTPUT_PATH")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.MetricsPath, "METRICS_PATH")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.BotFilters, "BOT_FILTERS")
	setString(&cfg.StartDate, "START_DATE")
	setString(&cfg.EndDate, "END_DATE")

	if err := setInt(&cfg.Workers, "WORKERS"); err != nil {
		return err
	}
	if err := setInt(&cfg.PublisherLimit, "PUBLISHER_LIMIT"); err != nil {
		return err
	}

	if raw := os.Getenv("MENTIONED_ONLY"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid MENTIONED_ONLY %q: %w", raw, err)
		}
		cfg.MentionedOnly = v
	}

	if raw := os.Getenv("YEARS"); raw != "" {
		cfg.Years = nil
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			y, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid year %q in YEARS: %w", s, err)
			}
			cfg.Years = append(cfg.Years, y)
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.PublishersDir == "" {
		return errors.New("PUBLISHERS_DIR is required")
	}
	if c.PublishersFile == "" {
		return errors.New("PUBLISHERS_FILE is required")
	}
	if c.BotsFile == "" {
		return errors.New("BOTS_FILE is required")
	}
	if c.OutputPath == "" {
		return errors.New("OUTPUT_PATH must not be empty")
	}
	if c.Workers == 0 || c.Workers < -1 {
		return fmt.Errorf("WORKERS must be positive or -1, got %d", c.Workers)
	}
	if c.PublisherLimit < 0 {
		return fmt.Errorf("PUBLISHER_LIMIT must not be negative, got %d", c.PublisherLimit)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	rules, err := filter.Parse(c.BotFilters)
	if err != nil {
		return fmt.Errorf("invalid BOT_FILTERS: %w", err)
	}
	c.Rules = rules

	if (c.StartDate == "") != (c.EndDate == "") {
		return errors.New("START_DATE and END_DATE must be set together")
	}
	if c.StartDate != "" {
		if c.Start, err = time.Parse(model.DateLayout, c.StartDate); err != nil {
			return fmt.Errorf("invalid START_DATE %q: %w", c.StartDate, err)
		}
		if c.End, err = time.Parse(model.DateLayout, c.EndDate); err != nil {
			return fmt.Errorf("invalid END_DATE %q: %w", c.EndDate, err)
		}
		if c.End.Before(c.Start) {
			return fmt.Errorf("END_DATE %s is before START_DATE %s", c.EndDate, c.StartDate)
		}
	}
	return nil
}

// HasWindow reports whether an explicit date window was configured.
func (c *Config) HasWindow() bool {
	return !c.Start.IsZero()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = v
	return nil
}
