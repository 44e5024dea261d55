// Package configuration loads pipeline settings from environment variables.
//
// Configuration is read once and cached; call Reset in tests to force a
// reload. Every knob has a production-safe default so an empty environment
// yields a working console-only pipeline.
package configuration

import (
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/fieldserve/pulselog/core"
)

// Config holds every tunable of the pipeline.
type Config struct {
	// Static service identity stamped onto every entry.
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Level is the minimum severity the facade forwards at all.
	Level core.Level

	// Format selects console rendering: "json" or "pretty". Empty means
	// pretty outside production, JSON lines in production.
	Format string

	// Transports lists the enabled sink names.
	Transports []string

	// Sampling.
	SamplingRate   float64
	LevelRates     map[core.Level]float64
	BurstAllowance int
	RateLimit      float64

	// Redaction.
	RedactionEnabled bool
	RedactionMode    string
	AnonymizeIP      bool

	// Feature flags.
	EnableSentry       bool
	EnableDatadog      bool
	EnableCloudWatch   bool
	EnableAuditLogging bool
	EnableAdaptive     bool

	// Buffer tuning.
	BufferSize    int
	FlushInterval time.Duration
	MaxRetryQueue int
	MaxRetries    int
	BackoffBase   time.Duration

	// File sink.
	FilePath       string
	FileMaxSize    int64
	FileMaxAgeDays int
	FileMaxFiles   int
	FileRotate     string // "daily" or "hourly"

	// Generic HTTP sink.
	HTTPEndpoint  string
	HTTPAuthToken string
	HTTPAuthUser  string
	HTTPAuthPass  string
	HTTPAPIKey    string
	HTTPBatchSize int
	HTTPTimeout   time.Duration
	HTTPFormat    string // "json", "bulk", or "stream"

	// Sentry sink.
	SentryDSN string

	// Datadog sink.
	DatadogAPIKey string
	DatadogSite   string

	// CloudWatch sink.
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	CloudWatchGroup    string
	CloudWatchStream   string
}

var (
	mu     sync.Mutex
	cached *Config
)

// Load returns the process configuration, reading the environment on first
// call and returning the cached result afterwards.
func Load() *Config {
	mu.Lock()
	defer mu.Unlock()
	if cached == nil {
		cached = loadFromEnv()
	}
	return cached
}

// Reset discards the cached configuration so the next Load rereads the
// environment. Intended for tests.
func Reset() {
	mu.Lock()
	cached = nil
	mu.Unlock()
}

func loadFromEnv() *Config {
	k := koanf.New(".")
	// Delimiter "." keeps env var names as flat keys; no nesting is used.
	_ = k.Load(env.Provider("", ".", nil), nil)

	cfg := &Config{
		ServiceName:    stringOr(k, "SERVICE_NAME", "pulselog"),
		ServiceVersion: k.String("SERVICE_VERSION"),
		Environment:    stringOr(k, "ENVIRONMENT", "development"),

		Format: k.String("LOG_FORMAT"),

		SamplingRate:   floatOr(k, "LOG_SAMPLING_RATE", 1.0),
		BurstAllowance: intOr(k, "LOG_BURST_ALLOWANCE", 5),
		RateLimit:      floatOr(k, "LOG_RATE_LIMIT", 100),

		RedactionEnabled: boolOr(k, "LOG_REDACTION_ENABLED", true),
		RedactionMode:    stringOr(k, "LOG_REDACTION_MODE", "mask"),
		AnonymizeIP:      boolOr(k, "LOG_ANONYMIZE_IP", true),

		EnableSentry:       k.Bool("ENABLE_SENTRY"),
		EnableDatadog:      k.Bool("ENABLE_DATADOG"),
		EnableCloudWatch:   k.Bool("ENABLE_CLOUDWATCH"),
		EnableAuditLogging: boolOr(k, "ENABLE_AUDIT_LOGGING", true),
		EnableAdaptive:     k.Bool("LOG_ADAPTIVE_SAMPLING"),

		BufferSize:    intOr(k, "LOG_BUFFER_SIZE", 1000),
		FlushInterval: durationMsOr(k, "LOG_FLUSH_INTERVAL", 5000),
		MaxRetryQueue: intOr(k, "LOG_MAX_RETRY_QUEUE", 500),
		MaxRetries:    intOr(k, "LOG_MAX_RETRIES", 3),
		BackoffBase:   durationMsOr(k, "LOG_BACKOFF_MS", 1000),

		FilePath:       stringOr(k, "LOG_FILE_PATH", "logs/app.log"),
		FileMaxSize:    int64Or(k, "LOG_FILE_MAX_SIZE", 50*1024*1024),
		FileMaxAgeDays: intOr(k, "LOG_FILE_MAX_AGE_DAYS", 14),
		FileMaxFiles:   intOr(k, "LOG_FILE_MAX_FILES", 10),
		FileRotate:     stringOr(k, "LOG_FILE_ROTATE", "daily"),

		HTTPEndpoint:  k.String("LOG_HTTP_ENDPOINT"),
		HTTPAuthToken: k.String("LOG_HTTP_AUTH_TOKEN"),
		HTTPAuthUser:  k.String("LOG_HTTP_AUTH_USER"),
		HTTPAuthPass:  k.String("LOG_HTTP_AUTH_PASS"),
		HTTPAPIKey:    k.String("LOG_HTTP_API_KEY"),
		HTTPBatchSize: intOr(k, "LOG_HTTP_BATCH_SIZE", 100),
		HTTPTimeout:   durationMsOr(k, "LOG_HTTP_TIMEOUT_MS", 10000),
		HTTPFormat:    stringOr(k, "LOG_HTTP_FORMAT", "json"),

		SentryDSN: k.String("SENTRY_DSN"),

		DatadogAPIKey: k.String("DD_API_KEY"),
		DatadogSite:   stringOr(k, "DD_SITE", "datadoghq.com"),

		AWSRegion:          stringOr(k, "AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     k.String("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: k.String("AWS_SECRET_ACCESS_KEY"),
		CloudWatchGroup:    k.String("CLOUDWATCH_LOG_GROUP"),
		CloudWatchStream:   k.String("CLOUDWATCH_LOG_STREAM"),
	}

	if lvl, err := core.ParseLevel(stringOr(k, "LOG_LEVEL", "info")); err == nil {
		cfg.Level = lvl
	} else {
		cfg.Level = core.InfoLevel
	}

	if raw := k.String("LOG_TRANSPORTS"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Transports = append(cfg.Transports, name)
			}
		}
	} else {
		cfg.Transports = []string{"console"}
	}

	cfg.LevelRates = map[core.Level]float64{
		core.TraceLevel: floatOr(k, "LOG_SAMPLING_RATE_TRACE", 0.1*cfg.SamplingRate),
		core.DebugLevel: floatOr(k, "LOG_SAMPLING_RATE_DEBUG", 0.25*cfg.SamplingRate),
		core.InfoLevel:  floatOr(k, "LOG_SAMPLING_RATE_INFO", 0.5*cfg.SamplingRate),
		core.WarnLevel:  floatOr(k, "LOG_SAMPLING_RATE_WARN", 1.0),
		core.ErrorLevel: floatOr(k, "LOG_SAMPLING_RATE_ERROR", 1.0),
		core.FatalLevel: 1.0,
	}

	return cfg
}

// Production reports whether the config targets a production environment,
// which switches console output from pretty to JSON lines.
func (c *Config) Production() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// PrettyConsole reports whether console output should be human formatted.
// An explicit LOG_FORMAT wins; otherwise production gets JSON lines.
func (c *Config) PrettyConsole() bool {
	switch c.Format {
	case "pretty":
		return true
	case "json":
		return false
	}
	return !c.Production()
}

func stringOr(k *koanf.Koanf, key, def string) string {
	if v := k.String(key); v != "" {
		return v
	}
	return def
}

func intOr(k *koanf.Koanf, key string, def int) int {
	if !k.Exists(key) {
		return def
	}
	return k.Int(key)
}

func int64Or(k *koanf.Koanf, key string, def int64) int64 {
	if !k.Exists(key) {
		return def
	}
	return k.Int64(key)
}

func floatOr(k *koanf.Koanf, key string, def float64) float64 {
	if !k.Exists(key) {
		return def
	}
	return k.Float64(key)
}

func boolOr(k *koanf.Koanf, key string, def bool) bool {
	if !k.Exists(key) {
		return def
	}
	return k.Bool(key)
}

func durationMsOr(k *koanf.Koanf, key string, defMs int64) time.Duration {
	ms := int64Or(k, key, defMs)
	return time.Duration(ms) * time.Millisecond
}
