package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config represents the main application configuration for the clone
// I/O engine.
type Config struct {
	// General configuration
	LogLevel string

	// Stripe configuration
	Stripe StripeConfig

	// Clone policy configuration
	Clone CloneConfig

	// Worker pool configuration
	Workers WorkerConfig

	// Resilience configuration for the object-store adapter
	Resilience ResilienceConfig

	// Scrub configuration
	Scrub ScrubConfig
}

// StripeConfig describes how an image's logical address space is striped
// across backing objects.
type StripeConfig struct {
	ObjectSizeBytes int64
	StripeUnit      int64
	StripeCount     int64
}

// CloneConfig controls copy-on-read / copy-on-write materialisation policy.
type CloneConfig struct {
	CopyOnRead  bool
	CopyOnWrite bool
	ReadOnly    bool
}

// WorkerConfig contains worker pool configuration for async copyups.
type WorkerConfig struct {
	CopyupWorkers int
	QueueDepth    int
	AutoDetect    bool
}

// ResilienceConfig configures the demo object-store adapter's resilience
// wrappers.
type ResilienceConfig struct {
	RequestsPerSecond      float64
	BurstSize              int
	CircuitBreakerFailures int
	CircuitBreakerCooldown time.Duration
}

// ScrubConfig controls the periodic ObjectMap staleness scan.
type ScrubConfig struct {
	Enabled          bool
	Schedule         string
	StalePendingAfter time.Duration
}

// NewDefaultConfig creates a new configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Stripe: StripeConfig{
			ObjectSizeBytes: 4 << 20, // 4MiB, the traditional RBD default
			StripeUnit:      4 << 20,
			StripeCount:     1,
		},
		Clone: CloneConfig{
			CopyOnRead:  false,
			CopyOnWrite: true,
			ReadOnly:    false,
		},
		Workers: WorkerConfig{
			CopyupWorkers: 0,
			QueueDepth:    256,
			AutoDetect:    true,
		},
		Resilience: ResilienceConfig{
			RequestsPerSecond:      2000,
			BurstSize:              4000,
			CircuitBreakerFailures: 8,
			CircuitBreakerCooldown: 10 * time.Second,
		},
		Scrub: ScrubConfig{
			Enabled:           true,
			Schedule:          "@every 5m",
			StalePendingAfter: 2 * time.Minute,
		},
	}
}

// AddFlagsToCommand adds configuration flags to a cobra command.
func (c *Config) AddFlagsToCommand(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, fatal)")

	cmd.PersistentFlags().Int64Var(&c.Stripe.ObjectSizeBytes, "object-size", c.Stripe.ObjectSizeBytes, "Backing object size in bytes")
	cmd.PersistentFlags().Int64Var(&c.Stripe.StripeUnit, "stripe-unit", c.Stripe.StripeUnit, "Stripe unit in bytes")
	cmd.PersistentFlags().Int64Var(&c.Stripe.StripeCount, "stripe-count", c.Stripe.StripeCount, "Number of objects in a stripe")

	cmd.PersistentFlags().BoolVar(&c.Clone.CopyOnRead, "copy-on-read", c.Clone.CopyOnRead, "Materialise parent data into the child on read fallback")
	cmd.PersistentFlags().BoolVar(&c.Clone.CopyOnWrite, "copy-on-write", c.Clone.CopyOnWrite, "Materialise parent data into the child on a guarded write")
	cmd.PersistentFlags().BoolVar(&c.Clone.ReadOnly, "read-only", c.Clone.ReadOnly, "Open the image read-only (disables copy-on-read)")

	cmd.PersistentFlags().IntVar(&c.Workers.CopyupWorkers, "copyup-workers", c.Workers.CopyupWorkers, "Number of concurrent copyup workers (0 = auto-detect)")
	cmd.PersistentFlags().IntVar(&c.Workers.QueueDepth, "queue-depth", c.Workers.QueueDepth, "Depth of the copyup work queue")
	cmd.PersistentFlags().BoolVar(&c.Workers.AutoDetect, "auto-detect-workers", c.Workers.AutoDetect, "Not read by the worker pool, which sizes itself from the CPU count whenever --copyup-workers is 0")

	cmd.PersistentFlags().Float64Var(&c.Resilience.RequestsPerSecond, "store-rps", c.Resilience.RequestsPerSecond, "Sustained requests/sec allowed against the object store")
	cmd.PersistentFlags().IntVar(&c.Resilience.BurstSize, "store-burst", c.Resilience.BurstSize, "Burst size allowed against the object store")
	cmd.PersistentFlags().IntVar(&c.Resilience.CircuitBreakerFailures, "breaker-failures", c.Resilience.CircuitBreakerFailures, "Requests the object-store circuit breaker must count before its failure ratio can open it")
	cmd.PersistentFlags().DurationVar(&c.Resilience.CircuitBreakerCooldown, "breaker-cooldown", c.Resilience.CircuitBreakerCooldown, "Cooldown before a half-open retry")

	cmd.PersistentFlags().BoolVar(&c.Scrub.Enabled, "scrub-enabled", c.Scrub.Enabled, "Enable periodic object-map staleness scrubbing")
	cmd.PersistentFlags().StringVar(&c.Scrub.Schedule, "scrub-schedule", c.Scrub.Schedule, "Cron schedule for the object-map scrub")
	cmd.PersistentFlags().DurationVar(&c.Scrub.StalePendingAfter, "scrub-stale-after", c.Scrub.StalePendingAfter, "How long an object may sit in PENDING before the scrubber flags it")
}

// ExpandHomeDir expands the ~ or $HOME at the beginning of a directory path.
func ExpandHomeDir(path string) string {
	if path == "" {
		return path
	}

	if strings.Contains(path, "${HOME}") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = strings.ReplaceAll(path, "${HOME}", homeDir)
		}
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return path
}

// GetOptimalWorkerCount determines the optimal number of copyup worker
// goroutines for this machine.
func GetOptimalWorkerCount() int {
	numCPU := runtime.NumCPU()

	if numCPU <= 2 {
		return 2
	} else if numCPU <= 4 {
		return numCPU
	}
	return numCPU - 1
}
