package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the call orchestration core.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	HTTPPort   int
	LogLevel   string
	LogFormat  string
	CORSOrigins string

	DatabaseURL string // Postgres DSN; empty selects the in-memory dev store
	JWTSecret   string // hex-encoded 32-byte secret for AuthContext + callbackAuth tokens

	MaxConcurrentRecordings int
	QueueTimeoutMs          int
	QueueCleanupIntervalMs  int
	QueueAlertCooldownMs    int
	QueueAlertRecipient     string

	SignalTTLMs int

	StunServers    string // comma-separated list of stun: URIs
	TurnURL        string
	TurnUser       string
	TurnCredential string

	RecorderBackendBaseURL string
	APIPublicBaseURL       string
	RecordingsStorageDir   string

	SMTPHost string
	SMTPPort int
	SMTPFrom string
	SMTPUser string
	SMTPPass string

	FCMCredentialsFile string
}

const (
	defaultHTTPPort               = 8080
	defaultLogLevel               = "info"
	defaultLogFormat              = "text"
	defaultMaxConcurrentRecording = 25
	defaultQueueTimeoutMs         = 30000
	defaultQueueCleanupIntervalMs = 5000
	defaultQueueAlertCooldownMs   = 300000
	defaultSignalTTLMs            = 300000
)

// envPrefix is the prefix for all call-core environment variables.
const envPrefix = "CALLCORE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callcore", flag.ContinueOnError)

	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres DSN for call/participant storage (empty uses the in-memory store)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for AuthContext and recorder callback tokens (auto-generated if empty)")
	fs.IntVar(&cfg.MaxConcurrentRecordings, "max-concurrent-recordings", defaultMaxConcurrentRecording, "maximum number of recordings the recorder fleet may run at once")
	fs.IntVar(&cfg.QueueTimeoutMs, "queue-timeout-ms", defaultQueueTimeoutMs, "milliseconds a queued recording request waits before it is dropped")
	fs.IntVar(&cfg.QueueCleanupIntervalMs, "queue-cleanup-interval-ms", defaultQueueCleanupIntervalMs, "how often the recording queue sweeps for timed-out entries")
	fs.IntVar(&cfg.QueueAlertCooldownMs, "queue-alert-cooldown-ms", defaultQueueAlertCooldownMs, "minimum milliseconds between operator alerts for queue pressure")
	fs.StringVar(&cfg.QueueAlertRecipient, "queue-alert-recipient", "", "operator address (email or push token) notified on sustained queue pressure")
	fs.IntVar(&cfg.SignalTTLMs, "signal-ttl-ms", defaultSignalTTLMs, "milliseconds an undelivered signaling message is retained before eviction")
	fs.StringVar(&cfg.StunServers, "stun-servers", "stun:stun.l.google.com:19302", "comma-separated list of STUN server URIs returned to clients")
	fs.StringVar(&cfg.TurnURL, "turn-url", "", "TURN server URI (optional)")
	fs.StringVar(&cfg.TurnUser, "turn-user", "", "TURN username (optional)")
	fs.StringVar(&cfg.TurnCredential, "turn-credential", "", "TURN credential (optional)")
	fs.StringVar(&cfg.RecorderBackendBaseURL, "recorder-backend-base-url", "", "base URL of the ghost recorder backend")
	fs.StringVar(&cfg.APIPublicBaseURL, "api-public-base-url", "", "externally reachable base URL of this API, handed to the recorder backend for callbacks")
	fs.StringVar(&cfg.RecordingsStorageDir, "recordings-storage-dir", "./data/recordings", "local filesystem directory where ingested recording artifacts are stored")
	fs.StringVar(&cfg.SMTPHost, "smtp-host", "", "SMTP host for operator alert email delivery")
	fs.IntVar(&cfg.SMTPPort, "smtp-port", 587, "SMTP port")
	fs.StringVar(&cfg.SMTPFrom, "smtp-from", "", "SMTP From address")
	fs.StringVar(&cfg.SMTPUser, "smtp-user", "", "SMTP auth username")
	fs.StringVar(&cfg.SMTPPass, "smtp-pass", "", "SMTP auth password")
	fs.StringVar(&cfg.FCMCredentialsFile, "fcm-credentials-file", "", "path to a Firebase service account JSON file for push-based operator alerts")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"http-port":                 envPrefix + "HTTP_PORT",
		"log-level":                 envPrefix + "LOG_LEVEL",
		"log-format":                envPrefix + "LOG_FORMAT",
		"cors-origins":              envPrefix + "CORS_ORIGINS",
		"database-url":              envPrefix + "DATABASE_URL",
		"jwt-secret":                envPrefix + "JWT_SECRET",
		"max-concurrent-recordings": envPrefix + "MAX_CONCURRENT_RECORDINGS",
		"queue-timeout-ms":          envPrefix + "QUEUE_TIMEOUT_MS",
		"queue-cleanup-interval-ms": envPrefix + "QUEUE_CLEANUP_INTERVAL_MS",
		"queue-alert-cooldown-ms":   envPrefix + "QUEUE_ALERT_COOLDOWN_MS",
		"queue-alert-recipient":     envPrefix + "QUEUE_ALERT_RECIPIENT",
		"signal-ttl-ms":             envPrefix + "SIGNAL_TTL_MS",
		"stun-servers":              envPrefix + "STUN_SERVERS",
		"turn-url":                  envPrefix + "TURN_URL",
		"turn-user":                 envPrefix + "TURN_USER",
		"turn-credential":           envPrefix + "TURN_CREDENTIAL",
		"recorder-backend-base-url": envPrefix + "RECORDER_BACKEND_BASE_URL",
		"api-public-base-url":       envPrefix + "API_PUBLIC_BASE_URL",
		"recordings-storage-dir":    envPrefix + "RECORDINGS_STORAGE_DIR",
		"smtp-host":                 envPrefix + "SMTP_HOST",
		"smtp-port":                 envPrefix + "SMTP_PORT",
		"smtp-from":                 envPrefix + "SMTP_FROM",
		"smtp-user":                 envPrefix + "SMTP_USER",
		"smtp-pass":                 envPrefix + "SMTP_PASS",
		"fcm-credentials-file":      envPrefix + "FCM_CREDENTIALS_FILE",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "database-url":
			cfg.DatabaseURL = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "max-concurrent-recordings":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxConcurrentRecordings = v
			}
		case "queue-timeout-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.QueueTimeoutMs = v
			}
		case "queue-cleanup-interval-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.QueueCleanupIntervalMs = v
			}
		case "queue-alert-cooldown-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.QueueAlertCooldownMs = v
			}
		case "queue-alert-recipient":
			cfg.QueueAlertRecipient = val
		case "signal-ttl-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SignalTTLMs = v
			}
		case "stun-servers":
			cfg.StunServers = val
		case "turn-url":
			cfg.TurnURL = val
		case "turn-user":
			cfg.TurnUser = val
		case "turn-credential":
			cfg.TurnCredential = val
		case "recorder-backend-base-url":
			cfg.RecorderBackendBaseURL = val
		case "api-public-base-url":
			cfg.APIPublicBaseURL = val
		case "recordings-storage-dir":
			cfg.RecordingsStorageDir = val
		case "smtp-host":
			cfg.SMTPHost = val
		case "smtp-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SMTPPort = v
			}
		case "smtp-from":
			cfg.SMTPFrom = val
		case "smtp-user":
			cfg.SMTPUser = val
		case "smtp-pass":
			cfg.SMTPPass = val
		case "fcm-credentials-file":
			cfg.FCMCredentialsFile = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.MaxConcurrentRecordings < 1 {
		return fmt.Errorf("max-concurrent-recordings must be at least 1, got %d", c.MaxConcurrentRecordings)
	}
	if c.QueueTimeoutMs < 1 {
		return fmt.Errorf("queue-timeout-ms must be positive, got %d", c.QueueTimeoutMs)
	}
	if c.QueueCleanupIntervalMs < 1 {
		return fmt.Errorf("queue-cleanup-interval-ms must be positive, got %d", c.QueueCleanupIntervalMs)
	}
	if c.SignalTTLMs < 1 {
		return fmt.Errorf("signal-ttl-ms must be positive, got %d", c.SignalTTLMs)
	}
	if c.TurnURL == "" && (c.TurnUser != "" || c.TurnCredential != "") {
		return fmt.Errorf("turn-user/turn-credential require turn-url to be set")
	}
	if c.RecordingsStorageDir == "" {
		return fmt.Errorf("recordings-storage-dir must not be empty")
	}

	return nil
}

// StunServerList splits the configured STUN server string into a slice,
// trimming whitespace and dropping empty entries.
func (c *Config) StunServerList() []string {
	if c.StunServers == "" {
		return nil
	}
	parts := strings.Split(c.StunServers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JWTSecretBytes returns the decoded 32-byte signing secret. If none is
// configured, it generates a random 32-byte key for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (recorder callback tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
