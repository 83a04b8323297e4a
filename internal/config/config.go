// Package config loads the application configuration from the XDG config
// directory, merging file values over built-in defaults. Command line flags
// are overlaid by the CLI layer after loading.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/apopov/chairdump/internal/plan"
)

var ErrInvalidConfig = errors.New("invalid config")

const configFileName = "chairdump/config.yaml"

const (
	defaultMaxRetries        = 4
	defaultRetryBaseDelay    = 500 * time.Millisecond
	defaultProbeConcurrency  = 8
	defaultDegradedThreshold = 0.5
	defaultProgressInterval  = 500 * time.Millisecond
)

// Config holds the configuration options for the application.
type Config struct {
	Download *DownloadConfig `yaml:"download,omitempty"`
	Fetch    *FetchConfig    `yaml:"fetch,omitempty"`
	Estimate *EstimateConfig `yaml:"estimate,omitempty"`
}

// DownloadConfig holds the plan-level options.
type DownloadConfig struct {
	BaseURL        string   `yaml:"baseUrl,omitempty"`
	OutputDir      string   `yaml:"dir,omitempty"`
	Tables         []string `yaml:"tables,omitempty"`
	RemoveArchives *bool    `yaml:"removeArchives,omitempty"`
}

// FetchConfig holds the transfer tunables.
type FetchConfig struct {
	MaxRetries       int           `yaml:"maxRetries,omitempty"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay,omitempty"`
	ProgressInterval time.Duration `yaml:"progressInterval,omitempty"`
}

// EstimateConfig holds the size-probe tunables.
type EstimateConfig struct {
	Concurrency       int     `yaml:"concurrency,omitempty"`
	DegradedThreshold float64 `yaml:"degradedThreshold,omitempty"`
}

// CleanupArchives reports whether archives should be removed after
// extraction. Unset means yes.
func (d *DownloadConfig) CleanupArchives() bool {
	return d.RemoveArchives == nil || *d.RemoveArchives
}

// Load reads the configuration file and returns a Config struct. A missing
// file is not an error; defaults apply.
func Load() (*Config, error) {
	return loadFrom(filepath.Join(xdg.ConfigHome, configFileName))
}

func loadFrom(path string) (*Config, error) {
	defaults := DefaultConfig()

	var cfg Config

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if len(b) > 0 {
		err = yaml.Unmarshal(b, &cfg)
		if err != nil {
			return nil, err
		}
	}

	download := zeroOr(cfg.Download, defaults.Download)
	fetch := zeroOr(cfg.Fetch, defaults.Fetch)
	estimate := zeroOr(cfg.Estimate, defaults.Estimate)

	conf := Config{
		Download: &DownloadConfig{
			BaseURL:        zeroOr(download.BaseURL, defaults.Download.BaseURL),
			OutputDir:      download.OutputDir,
			Tables:         zeroOr(download.Tables, defaults.Download.Tables),
			RemoveArchives: download.RemoveArchives,
		},
		Fetch: &FetchConfig{
			MaxRetries:       zeroOr(fetch.MaxRetries, defaults.Fetch.MaxRetries),
			RetryBaseDelay:   zeroOr(fetch.RetryBaseDelay, defaults.Fetch.RetryBaseDelay),
			ProgressInterval: zeroOr(fetch.ProgressInterval, defaults.Fetch.ProgressInterval),
		},
		Estimate: &EstimateConfig{
			Concurrency:       zeroOr(estimate.Concurrency, defaults.Estimate.Concurrency),
			DegradedThreshold: zeroOr(estimate.DegradedThreshold, defaults.Estimate.DegradedThreshold),
		},
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func DefaultConfig() Config {
	return Config{
		Download: &DownloadConfig{
			BaseURL: plan.DefaultBaseURL,
			Tables:  plan.KnownTables,
		},
		Fetch: &FetchConfig{
			MaxRetries:       defaultMaxRetries,
			RetryBaseDelay:   defaultRetryBaseDelay,
			ProgressInterval: defaultProgressInterval,
		},
		Estimate: &EstimateConfig{
			Concurrency:       defaultProbeConcurrency,
			DegradedThreshold: defaultDegradedThreshold,
		},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}

func (c *Config) validate() error {
	if c.Download.BaseURL == "" || len(c.Download.Tables) == 0 {
		return ErrInvalidConfig
	}

	if c.Fetch.MaxRetries < 0 || c.Fetch.RetryBaseDelay < 0 {
		return ErrInvalidConfig
	}

	if c.Estimate.Concurrency <= 0 || c.Estimate.DegradedThreshold <= 0 || c.Estimate.DegradedThreshold > 1 {
		return ErrInvalidConfig
	}

	return nil
}
