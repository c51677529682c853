package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

// Config holds the deployer settings.
type Config struct {
	// ProductPath is the directory packages are installed into.
	ProductPath string `yaml:"product_path"`
	// FeedURL is the base URL of the package feed.
	FeedURL string `yaml:"feed_url"`
	// FeedHealthAddress is an optional gRPC health endpoint probed before downloading.
	FeedHealthAddress string `yaml:"feed_health_address,omitempty"`
	// StagingPath is where downloaded packages are unpacked.
	StagingPath string `yaml:"staging_path"`
	// StateFile stores the installed package records.
	StateFile string `yaml:"state_file"`
	// HistoryDB is the SQLite database recording deployment runs. Empty disables history.
	HistoryDB string `yaml:"history_db,omitempty"`
	// BackupRoot is where transaction backup folders are created. Empty means the temp directory.
	BackupRoot string `yaml:"backup_root,omitempty"`
	// DefaultConflict applies to package files whose manifest does not name a mode.
	DefaultConflict string `yaml:"default_conflict"`
	// JournalConfiguration makes package record removal part of the rollback journal.
	JournalConfiguration *bool `yaml:"journal_configuration,omitempty"`
	// StopProcesses terminates running product executables before they are replaced.
	StopProcesses bool `yaml:"stop_processes"`
	// MetricsFile receives Prometheus text-format metrics after each run. Empty disables it.
	MetricsFile string `yaml:"metrics_file,omitempty"`
	// LogLevel is the minimum log level.
	LogLevel string `yaml:"log_level"`
	// Timeout bounds feed requests.
	Timeout time.Duration `yaml:"timeout"`
	// DownloadWorkers is how many files of one package are fetched in parallel.
	DownloadWorkers int `yaml:"download_workers"`
}

const (
	// DefaultConfigFilename is the default settings file name.
	DefaultConfigFilename = "pkgdeploy.yaml"

	// DefaultStateFilename is the default installed package state file.
	DefaultStateFilename = "pkgdeploy-state.json"

	// DefaultStagingPath is the default download staging directory.
	DefaultStagingPath = "pkgdeploy-staging"

	// DefaultTimeout is the default duration for feed requests.
	DefaultTimeout = 30 * time.Second

	// DefaultDownloadWorkers is the default download parallelism.
	DefaultDownloadWorkers = 4

	// DefaultFilePermissions is used for settings and state files.
	DefaultFilePermissions = 0o600
)

var (
	errConfigIsNotSet      = errors.New("configuration is not set")
	errProductPathRequired = errors.New("product path must be provided")
	errInvalidLogLevel     = errors.New("invalid log level")
	errInvalidWorkerCount  = errors.New("download workers must not be negative")
	errFeedHealthNeedsFeed = errors.New("feed health address requires a feed URL")
	errMissingHost         = errors.New("address has no host")
	errInvalidPort         = errors.New("port must be between 1 and 65535")
)

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save validates and writes the settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills in defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ProductPath == "" {
		return errProductPathRequired
	}

	if cfg.StagingPath == "" {
		cfg.StagingPath = DefaultStagingPath
	}

	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFilename
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.DownloadWorkers < 0 {
		return errInvalidWorkerCount
	}

	if cfg.DownloadWorkers == 0 {
		cfg.DownloadWorkers = DefaultDownloadWorkers
	}

	if cfg.JournalConfiguration == nil {
		journal := true
		cfg.JournalConfiguration = &journal
	}

	if cfg.DefaultConflict == "" {
		cfg.DefaultConflict = deployment.ConflictFail.String()
	}

	if _, err := deployment.ParseConflictResolution(cfg.DefaultConflict); err != nil {
		return fmt.Errorf("invalid default conflict: %w", err)
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%q: %w", cfg.LogLevel, errInvalidLogLevel)
	}

	if cfg.FeedURL != "" {
		if _, err := url.ParseRequestURI(cfg.FeedURL); err != nil {
			return fmt.Errorf("invalid feed URL: %w", err)
		}
	}

	if cfg.FeedHealthAddress == "" {
		return nil
	}

	if cfg.FeedURL == "" {
		return errFeedHealthNeedsFeed
	}

	if err := validateHostPort(cfg.FeedHealthAddress); err != nil {
		return fmt.Errorf("invalid feed health address: %w", err)
	}

	return nil
}

// validateHostPort checks the shape of a host:port address without resolving the host.
func validateHostPort(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}

	if host == "" {
		return fmt.Errorf("%q: %w", address, errMissingHost)
	}

	if n, err := strconv.ParseUint(port, 10, 16); err != nil || n == 0 {
		return fmt.Errorf("%q: %w", address, errInvalidPort)
	}

	return nil
}

// Conflict returns the parsed default conflict mode. Call after Validate.
func (c *Config) Conflict() deployment.ConflictResolution {
	mode, err := deployment.ParseConflictResolution(c.DefaultConflict)
	if err != nil {
		return deployment.ConflictFail
	}

	return mode
}

// JournalsConfiguration reports whether record removals are rolled back.
func (c *Config) JournalsConfiguration() bool {
	return c.JournalConfiguration == nil || *c.JournalConfiguration
}
