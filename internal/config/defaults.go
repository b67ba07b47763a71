package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the proxy server.
const DefaultPort = 7677

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.gencache"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "gencache.toml"

// DefaultJournalFilename is the name of the cache journal file within DataDir.
// Must match the filename the cache engine itself uses internally.
const DefaultJournalFilename = "cache.jsonl"

// DefaultAuditLogFilename is the name of the audit log database within DataDir.
const DefaultAuditLogFilename = "audit.db"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high to accommodate slow upstream generations.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (10 MB).
const DefaultMaxBodySize = 10 << 20

// DefaultUpstreamTimeout is the default upstream call timeout in seconds.
const DefaultUpstreamTimeout = 300

// DefaultUpstreamFormat is the default dialect hint for the upstream backend.
const DefaultUpstreamFormat = "native"

// DefaultRetentionDays is the default audit log retention in days.
const DefaultRetentionDays = 30

// DefaultRetryMaxAttempts is the default maximum number of upstream attempts per request, counting the first call.
const DefaultRetryMaxAttempts = 3

// DefaultRetryBaseDelayMs is the default base delay for exponential backoff in milliseconds.
const DefaultRetryBaseDelayMs = 500

// DefaultRetryMaxDelayMs is the default maximum delay for exponential backoff in milliseconds.
const DefaultRetryMaxDelayMs = 30000

// DefaultCBFailureThreshold is the default number of consecutive failures before opening the circuit.
const DefaultCBFailureThreshold = 5

// DefaultCBResetTimeout is the default circuit breaker reset timeout in seconds.
const DefaultCBResetTimeout = 60

// DefaultCBHalfOpenMax is the default number of successful calls in half-open state to close the circuit.
const DefaultCBHalfOpenMax = 1

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "stdout"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "gencache"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidUpstreamFormats lists the allowed upstream dialect hints.
var ValidUpstreamFormats = []string{"native", "completions", "chat"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			TLSEnabled:   false,
			CertFile:     "",
			KeyFile:      "",
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Auth: AuthConfig{
			Enabled: false,
			Token:   "",
		},
		Upstream: UpstreamConfig{
			BaseURL:   "",
			Format:    DefaultUpstreamFormat,
			Timeout:   DefaultUpstreamTimeout,
			APIKeyRef: "",
		},
		Cache: CacheConfig{
			DataDir:         DefaultDataDir,
			JournalFilename: DefaultJournalFilename,
			AuditFilename:   DefaultAuditLogFilename,
			RetentionDays:   DefaultRetentionDays,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:   DefaultRetryMaxAttempts,
			RetryBaseDelayMs:   DefaultRetryBaseDelayMs,
			RetryMaxDelayMs:    DefaultRetryMaxDelayMs,
			CBEnabled:          true,
			CBFailureThreshold: DefaultCBFailureThreshold,
			CBResetTimeoutSec:  DefaultCBResetTimeout,
			CBHalfOpenMax:      DefaultCBHalfOpenMax,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Logging: LoggingConfig{
			Level:   DefaultLogLevel,
			Verbose: false,
		},
	}
}
