package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cloneio/pkg/helper/errors"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a file, falling back to defaults
// and environment variable overrides.
func LoadFromFile(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		expandedPath := ExpandHomeDir(configPath)

		if _, err := os.Stat(expandedPath); os.IsNotExist(err) {
			return nil, errors.NotFoundf("configuration file not found: %s", expandedPath)
		}

		data, err := os.ReadFile(expandedPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read configuration file")
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse configuration file")
		}
	}

	if err := loadFromEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(config *Config) error {
	envVars := map[string]*string{
		"CLONEIO_LOG_LEVEL":      &config.LogLevel,
		"CLONEIO_SCRUB_SCHEDULE": &config.Scrub.Schedule,
	}

	for env, field := range envVars {
		if value, exists := os.LookupEnv(env); exists && value != "" {
			*field = value
		}
	}

	if value, exists := os.LookupEnv("CLONEIO_COPY_ON_READ"); exists {
		config.Clone.CopyOnRead = strings.ToLower(value) == "true" || value == "1"
	}
	if value, exists := os.LookupEnv("CLONEIO_COPY_ON_WRITE"); exists {
		config.Clone.CopyOnWrite = strings.ToLower(value) == "true" || value == "1"
	}
	if value, exists := os.LookupEnv("CLONEIO_COPYUP_WORKERS"); exists {
		if n, err := strconv.Atoi(value); err == nil {
			config.Workers.CopyupWorkers = n
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(filePath string) error {
	expandedPath := ExpandHomeDir(filePath)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	file, err := os.Create(expandedPath)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return errors.Wrap(err, "failed to encode configuration")
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	logLevel := strings.ToLower(c.LogLevel)
	if logLevel != "debug" && logLevel != "info" && logLevel != "warn" && logLevel != "error" && logLevel != "fatal" {
		return errors.InvalidInputf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", c.LogLevel)
	}

	if c.Stripe.ObjectSizeBytes <= 0 {
		return errors.InvalidInputf("object size must be positive")
	}
	if c.Stripe.StripeUnit <= 0 {
		return errors.InvalidInputf("stripe unit must be positive")
	}
	if c.Stripe.StripeCount <= 0 {
		return errors.InvalidInputf("stripe count must be positive")
	}
	if c.Stripe.ObjectSizeBytes%c.Stripe.StripeUnit != 0 {
		return errors.InvalidInputf("object size must be a multiple of the stripe unit")
	}

	if c.Clone.ReadOnly && c.Clone.CopyOnRead {
		return errors.InvalidInputf("copy-on-read cannot be enabled on a read-only image")
	}

	if c.Workers.CopyupWorkers < 0 {
		return errors.InvalidInputf("copyup workers must be non-negative")
	}
	if c.Workers.QueueDepth <= 0 {
		return errors.InvalidInputf("queue depth must be positive")
	}

	if c.Resilience.RequestsPerSecond <= 0 {
		return errors.InvalidInputf("store requests/sec must be positive")
	}
	if c.Resilience.CircuitBreakerFailures <= 0 {
		return errors.InvalidInputf("breaker failure threshold must be positive")
	}

	return nil
}
