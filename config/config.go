package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	EnvOutputRoot = "EML_TO_CSV_OUTPUT_ROOT"

	DefaultOutputRoot  = "output"
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
	DefaultMaxBackoff  = 30 * time.Second
	DefaultWorkers     = 1
	DefaultUserAgent   = "eml-to-csv/1.0"

	maxAttemptsLimit = 20
	maxWorkers       = 16
)

// Config captures all command-line options required for a run.
type Config struct {
	EmailPath   string
	Label       string
	OutputRoot  string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Workers     int
	UserAgent   string
	IncludeURL  []string
	ExcludeURL  []string
	LogLevel    string
	Progress    bool
	ConfigFile  string
}

// File is the optional YAML config file. Explicit flags win over it.
type File struct {
	OutputRoot  string   `yaml:"output_root"`
	Timeout     string   `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     string   `yaml:"backoff"`
	MaxBackoff  string   `yaml:"max_backoff"`
	Workers     int      `yaml:"workers"`
	UserAgent   string   `yaml:"user_agent"`
	IncludeURL  []string `yaml:"include_url"`
	ExcludeURL  []string `yaml:"exclude_url"`
	LogLevel    string   `yaml:"log_level"`
	Progress    *bool    `yaml:"progress"`
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("email", "", "Path to the .eml message file to read links from")
	flags.String("name", "", "Label for this run, used in the output directory name")
	flags.String("output-root", DefaultOutputRoot, "Directory that receives the run folder (falls back to "+EnvOutputRoot+" env var)")
	flags.Duration("timeout", DefaultTimeout, "Timeout for a single download attempt")
	flags.Int("max-attempts", DefaultMaxAttempts, "Maximum download attempts per URL")
	flags.Duration("backoff", DefaultBackoff, "Delay before the first retry; doubles on each further retry")
	flags.Duration("max-backoff", DefaultMaxBackoff, "Upper bound for the retry delay")
	flags.Int("workers", DefaultWorkers, "Number of parallel downloads")
	flags.String("user-agent", DefaultUserAgent, "User-Agent header sent with downloads")
	flags.StringArray("include-url", nil, "Regex allow-list applied to extracted links (mutually exclusive with --exclude-url)")
	flags.StringArray("exclude-url", nil, "Regex block-list applied to extracted links (mutually exclusive with --include-url)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.Bool("progress", false, "Show a download progress bar")
	flags.String("config", "", "Optional YAML config file")

	if err := cmd.MarkFlagFilename("email", "eml", "mbox"); err != nil {
		return err
	}
	if err := cmd.MarkFlagFilename("config", "yaml", "yml"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	var cfg Config
	var err error

	if cfg.EmailPath, err = flags.GetString("email"); err != nil {
		return Config{}, err
	}
	if cfg.Label, err = flags.GetString("name"); err != nil {
		return Config{}, err
	}
	if cfg.OutputRoot, err = flags.GetString("output-root"); err != nil {
		return Config{}, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return Config{}, err
	}
	if cfg.MaxAttempts, err = flags.GetInt("max-attempts"); err != nil {
		return Config{}, err
	}
	if cfg.Backoff, err = flags.GetDuration("backoff"); err != nil {
		return Config{}, err
	}
	if cfg.MaxBackoff, err = flags.GetDuration("max-backoff"); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = flags.GetInt("workers"); err != nil {
		return Config{}, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return Config{}, err
	}
	if cfg.IncludeURL, err = flags.GetStringArray("include-url"); err != nil {
		return Config{}, err
	}
	if cfg.ExcludeURL, err = flags.GetStringArray("exclude-url"); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
		return Config{}, err
	}
	if cfg.Progress, err = flags.GetBool("progress"); err != nil {
		return Config{}, err
	}
	if cfg.ConfigFile, err = flags.GetString("config"); err != nil {
		return Config{}, err
	}

	if !flags.Changed("output-root") {
		if env := strings.TrimSpace(os.Getenv(EnvOutputRoot)); env != "" {
			cfg.OutputRoot = env
		}
	}

	if cfg.ConfigFile != "" {
		file, err := ReadFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		if err := applyFile(&cfg, file, flags); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", cfg.ConfigFile, err)
		}
	}

	cfg.EmailPath = strings.TrimSpace(cfg.EmailPath)
	cfg.Label = strings.TrimSpace(cfg.Label)
	cfg.OutputRoot = filepath.Clean(cfg.OutputRoot)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ReadFile parses a YAML config file.
func ReadFile(path string) (File, error) {
	var file File
	data, err := os.ReadFile(path)
	if err != nil {
		return file, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, nil
}

func applyFile(cfg *Config, file File, flags *pflag.FlagSet) error {
	set := func(name string) bool { return !flags.Changed(name) }

	if file.OutputRoot != "" && set("output-root") {
		cfg.OutputRoot = file.OutputRoot
	}
	if file.Timeout != "" && set("timeout") {
		d, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if file.MaxAttempts != 0 && set("max-attempts") {
		cfg.MaxAttempts = file.MaxAttempts
	}
	if file.Backoff != "" && set("backoff") {
		d, err := time.ParseDuration(file.Backoff)
		if err != nil {
			return fmt.Errorf("backoff: %w", err)
		}
		cfg.Backoff = d
	}
	if file.MaxBackoff != "" && set("max-backoff") {
		d, err := time.ParseDuration(file.MaxBackoff)
		if err != nil {
			return fmt.Errorf("max_backoff: %w", err)
		}
		cfg.MaxBackoff = d
	}
	if file.Workers != 0 && set("workers") {
		cfg.Workers = file.Workers
	}
	if file.UserAgent != "" && set("user-agent") {
		cfg.UserAgent = file.UserAgent
	}
	if len(file.IncludeURL) > 0 && set("include-url") {
		cfg.IncludeURL = file.IncludeURL
	}
	if len(file.ExcludeURL) > 0 && set("exclude-url") {
		cfg.ExcludeURL = file.ExcludeURL
	}
	if file.LogLevel != "" && set("log-level") {
		cfg.LogLevel = file.LogLevel
	}
	if file.Progress != nil && set("progress") {
		cfg.Progress = *file.Progress
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.EmailPath == "" {
		return errors.New("--email is required")
	}
	if cfg.Label == "" {
		return errors.New("--name is required")
	}
	if cfg.Timeout <= 0 {
		return errors.New("--timeout must be positive")
	}
	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > maxAttemptsLimit {
		return fmt.Errorf("--max-attempts must be between 1 and %d", maxAttemptsLimit)
	}
	if cfg.Backoff < 0 {
		return errors.New("--backoff must not be negative")
	}
	if cfg.MaxBackoff < cfg.Backoff {
		return errors.New("--max-backoff must not be shorter than --backoff")
	}
	if cfg.Workers < 1 || cfg.Workers > maxWorkers {
		return fmt.Errorf("--workers must be between 1 and %d", maxWorkers)
	}
	if len(cfg.IncludeURL) > 0 && len(cfg.ExcludeURL) > 0 {
		return errors.New("--include-url and --exclude-url are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
