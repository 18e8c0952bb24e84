// Package config loads engine configuration from defaults, an optional
// YAML file, and environment variables, in that order of precedence,
// exposing typed accessors the way the teacher's loadConfig() exposed
// getEnv/getEnvInt/getEnvBool helpers.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide, read-mostly configuration object.
type Config struct {
	v *viper.Viper
}

// Load reads defaults, then configPath (if non-empty and present), then
// environment variables prefixed LIBRARY_.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("library")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	return &Config{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "reference_data.db")
	v.SetDefault("scratch.dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("jobs.global_concurrency", 0) // read by GlobalJobConcurrency(); the job manager applies no global cap
	v.SetDefault("jobs.lease_seconds", 60)
	v.SetDefault("jobs.per_kind_concurrency.faces_detect", 1)
	v.SetDefault("jobs.per_kind_concurrency.faces_embed", 1)
	v.SetDefault("jobs.per_kind_concurrency.faces_cluster", 1)
	v.SetDefault("jobs.per_kind_concurrency.semantic_embed", 1)
	v.SetDefault("jobs.per_kind_concurrency.scan", 2)
	v.SetDefault("faces.eps", 0.35)
	v.SetDefault("faces.min_samples", 3)
	v.SetDefault("faces.low_confidence_threshold", 0.5)
	v.SetDefault("duplicates.hamming_threshold", 8)
	v.SetDefault("embeddings.checkpoint_interval", 10)
	v.SetDefault("mtp.copy_timeout_seconds", 30)
	v.SetDefault("mtp.poll_interval_ms", 250)
	v.SetDefault("scan.ignored_dirs", []string{})
	v.SetDefault("jobs.per_kind_concurrency.duplicate_group", 1)
	v.SetDefault("jobs.per_kind_concurrency.group_index", 1)
	v.SetDefault("backends.detector_url", "http://127.0.0.1:8600")
	v.SetDefault("backends.embedder_url", "http://127.0.0.1:8601")
	v.SetDefault("backends.detector_model", "retinaface")
	v.SetDefault("backends.embedder_model", "clip-vit-b32")
	v.SetDefault("backends.embedder_dim", 512)
	v.SetDefault("backends.poll_interval_seconds", 2)
	v.SetDefault("backends.poll_timeout_seconds", 120)
}

func (c *Config) DBPath() string { return c.v.GetString("db.path") }

// ScratchDir returns the configured MTP scratch directory, or "" to mean
// "use the system temp dir" (resolved by the ingest package).
func (c *Config) ScratchDir() string { return c.v.GetString("scratch.dir") }

func (c *Config) LogLevel() string { return c.v.GetString("log.level") }

func (c *Config) GlobalJobConcurrency() int { return c.v.GetInt("jobs.global_concurrency") }

func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.v.GetInt("jobs.lease_seconds")) * time.Second
}

// PerKindConcurrency returns the configured concurrency cap for kind, or
// 0 if unset (the serve command registers a kind with 0 at a cap of 1).
func (c *Config) PerKindConcurrency(kind string) int {
	return c.v.GetInt("jobs.per_kind_concurrency." + kind)
}

func (c *Config) ClusterEps() float64      { return c.v.GetFloat64("faces.eps") }
func (c *Config) ClusterMinSamples() int   { return c.v.GetInt("faces.min_samples") }
func (c *Config) LowConfidenceThreshold() float64 {
	return c.v.GetFloat64("faces.low_confidence_threshold")
}

func (c *Config) DuplicateHammingThreshold() int {
	return c.v.GetInt("duplicates.hamming_threshold")
}

func (c *Config) EmbeddingCheckpointInterval() int {
	return c.v.GetInt("embeddings.checkpoint_interval")
}

func (c *Config) MTPCopyTimeout() time.Duration {
	return time.Duration(c.v.GetInt("mtp.copy_timeout_seconds")) * time.Second
}

func (c *Config) MTPPollInterval() time.Duration {
	return time.Duration(c.v.GetInt("mtp.poll_interval_ms")) * time.Millisecond
}

// IgnoredDirs returns the user-configured additions to the scan
// walker's builtin ignored-directory denylist.
func (c *Config) IgnoredDirs() []string {
	return c.v.GetStringSlice("scan.ignored_dirs")
}

func (c *Config) DetectorURL() string    { return c.v.GetString("backends.detector_url") }
func (c *Config) EmbedderURL() string    { return c.v.GetString("backends.embedder_url") }
func (c *Config) DetectorModel() string  { return c.v.GetString("backends.detector_model") }
func (c *Config) EmbedderModel() string  { return c.v.GetString("backends.embedder_model") }
func (c *Config) EmbedderDim() int       { return c.v.GetInt("backends.embedder_dim") }

func (c *Config) BackendPolling() time.Duration {
	return time.Duration(c.v.GetInt("backends.poll_interval_seconds")) * time.Second
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.v.GetInt("backends.poll_timeout_seconds")) * time.Second
}
