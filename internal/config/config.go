package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains the embedded database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// WorkerConfig contains the background worker's tuning knobs.
type WorkerConfig struct {
	// PollIntervalMs is how often the worker asks for ready tasks.
	PollIntervalMs int `mapstructure:"poll_interval_ms" validate:"required,gt=0"`

	// BatchSize caps how many claimed tasks run concurrently per poll cycle.
	BatchSize int `mapstructure:"batch_size" validate:"required,gt=0"`

	// MaxAttempts is the per-task execution attempt budget.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// StaleTimeoutSeconds is how long a task may sit in-progress before
	// it is considered abandoned by a crashed worker.
	StaleTimeoutSeconds int `mapstructure:"stale_timeout_seconds" validate:"required,gt=0"`

	// StaleRecoveryIntervalSeconds is how often the stale sweep runs.
	StaleRecoveryIntervalSeconds int `mapstructure:"stale_recovery_interval_seconds" validate:"required,gt=0"`

	// ShutdownTimeoutSeconds bounds how long graceful shutdown waits for
	// in-flight task executions.
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"required,gt=0"`
}
