package convert

import "time"

// Transfer and locking constants.
const (
	// DefaultTransferConcurrency is the default number of concurrent
	// object transfers during publish and fetch.
	DefaultTransferConcurrency = 4

	// MaxTransferConcurrency is the maximum allowed concurrent object
	// transfers.
	MaxTransferConcurrency = 16

	// DefaultLockTimeout is the default timeout for acquiring the run lock.
	DefaultLockTimeout = 30 * time.Second
)

// RunOption configures a single Run invocation.
type RunOption func(*runConfig)

// runConfig holds per-run settings.
type runConfig struct {
	// publish controls whether converted artifacts are uploaded.
	publish bool

	// preflight controls the tool availability check before the first task.
	preflight bool
}

// newRunConfig returns run defaults: publish enabled, preflight enabled.
func newRunConfig() *runConfig {
	return &runConfig{
		publish:   true,
		preflight: true,
	}
}

// WithSkipPublish disables uploading converted artifacts for this run.
// Conversions still happen and are recorded locally.
func WithSkipPublish() RunOption {
	return func(c *runConfig) {
		c.publish = false
	}
}

// WithoutPreflight skips the external tool availability check before the
// first task. Mostly useful in tests.
func WithoutPreflight() RunOption {
	return func(c *runConfig) {
		c.preflight = false
	}
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

// orchestratorConfig holds configuration for Orchestrator construction.
type orchestratorConfig struct {
	// logger receives diagnostic log messages.
	logger Logger

	// storeClient performs object store operations. Built lazily from the
	// ambient AWS configuration when nil.
	storeClient StoreClient

	// runner executes external tools.
	runner CommandRunner

	// concurrency bounds the transfer worker pool.
	concurrency int

	// awsProfile selects a shared-config profile for the lazy client.
	awsProfile string

	// lockTimeout bounds run lock acquisition.
	lockTimeout time.Duration
}

// newOrchestratorConfig returns an orchestratorConfig with default values.
func newOrchestratorConfig() *orchestratorConfig {
	return &orchestratorConfig{
		runner:      execRunner{},
		concurrency: DefaultTransferConcurrency,
		lockTimeout: DefaultLockTimeout,
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) Option {
	return func(c *orchestratorConfig) {
		c.logger = logger
	}
}

// WithStoreClient sets the object store client.
// If not set, a client is built from the ambient AWS configuration the
// first time a remote operation runs. Useful for testing with fakes.
func WithStoreClient(client StoreClient) Option {
	return func(c *orchestratorConfig) {
		c.storeClient = client
	}
}

// WithRunner sets the external tool runner.
// If not set, tools run as subprocesses inheriting the environment.
func WithRunner(runner CommandRunner) Option {
	return func(c *orchestratorConfig) {
		c.runner = runner
	}
}

// WithTransferConcurrency sets the number of concurrent object transfers.
// Values are clamped to the range [1, MaxTransferConcurrency].
// Default is DefaultTransferConcurrency (4).
func WithTransferConcurrency(n int) Option {
	return func(c *orchestratorConfig) {
		if n < 1 {
			n = 1
		}
		if n > MaxTransferConcurrency {
			n = MaxTransferConcurrency
		}
		c.concurrency = n
	}
}

// WithAWSProfile selects a shared-config profile when the store client is
// built from the ambient AWS configuration.
func WithAWSProfile(profile string) Option {
	return func(c *orchestratorConfig) {
		c.awsProfile = profile
	}
}

// WithLockTimeout bounds how long Run waits for the run lock.
// Non-positive values restore DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(c *orchestratorConfig) {
		if d <= 0 {
			d = DefaultLockTimeout
		}
		c.lockTimeout = d
	}
}

// Logger is the interface for diagnostic logging.
// Compatible with slog, zap, logrus, and other structured loggers.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}
