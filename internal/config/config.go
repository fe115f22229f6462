package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "NOVACHAT_CALLD_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "NOVACHAT_CALLD_LOG_FORMAT"
	envVarLogLevel        = "NOVACHAT_CALLD_LOG_LEVEL"
	envVarShutdownTimeout = "NOVACHAT_CALLD_SHUTDOWN_TIMEOUT"
	envVarMode            = "NOVACHAT_CALLD_MODE"
	envVarStore           = "NOVACHAT_CALLD_STORE"

	// Redis-backed call store.
	envVarRedisAddr     = "REDIS_ADDR"
	envVarRedisPassword = "REDIS_PASSWORD"
	envVarRedisDB       = "REDIS_DB"

	// Call lifecycle timing. Exposed so operators (and tests) can tune them;
	// the defaults match the product behavior.
	envVarDialTimeout         = "CALL_DIAL_TIMEOUT"
	envVarRestartGracePeriod  = "CALL_RESTART_GRACE_PERIOD"
	envVarCandidatePoolSize   = "CALL_ICE_CANDIDATE_POOL_SIZE"
	envVarICEProviderURL      = "ICE_PROVIDER_URL"
	envVarICEProviderTimeout  = "ICE_PROVIDER_TIMEOUT"
	envVarSignalingWSIdle     = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPing     = "SIGNALING_WS_PING_INTERVAL"
	envVarSignalingAuthWindow = "SIGNALING_AUTH_TIMEOUT"
	envVarMaxSignalingBytes   = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingPerSec  = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Signaling gateway auth.
	envVarAuthMode  = "AUTH_MODE"
	envVarAPIKey    = "API_KEY"
	envVarJWTSecret = "JWT_SECRET"

	// coturn TURN REST (ephemeral) credentials handed out via GET /webrtc/ice.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultRedisAddr            = "localhost:6379"

	// DefaultDialTimeout is how long an outgoing call may ring before it is
	// ended and logged as missed.
	DefaultDialTimeout = 45 * time.Second
	// DefaultRestartGracePeriod bounds how long a degraded voice call may
	// attempt ICE recovery before being force-ended.
	DefaultRestartGracePeriod = 30 * time.Second
	// DefaultCandidatePoolSize pre-gathers ICE candidates to improve the odds
	// of a fast connection on answer.
	DefaultCandidatePoolSize = 10

	DefaultICEProviderTimeout = 5 * time.Second

	// DefaultAuthMode applies in prod mode; dev mode defaults to none.
	DefaultAuthMode AuthMode = AuthModeAPIKey

	DefaultSignalingAuthTimeout          = 2 * time.Second
	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "novachat"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// StoreBackend selects where call records and candidate streams live. The
// memory backend is process-local and only suitable for a single-instance
// dev setup; redis is the shared store both call endpoints signal through.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreRedis  StoreBackend = "redis"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	Store StoreBackend
	Redis RedisConfig

	// Call lifecycle timing.
	DialTimeout        time.Duration
	RestartGracePeriod time.Duration
	CandidatePoolSize  int

	// ICE server handout/consumption.
	ICEServers         []webrtc.ICEServer
	ICEProviderURL     string
	ICEProviderTimeout time.Duration
	TURNREST           TurnRESTConfig

	// Signaling gateway auth + hardening.
	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	SignalingAuthTimeout    time.Duration
	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if !envLogFormatOK || envLogFormat == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if !envLogLevelOK || envLogLevel == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	redisAddr := envOrDefault(lookup, envVarRedisAddr, DefaultRedisAddr)
	redisPassword := envOrDefault(lookup, envVarRedisPassword, "")
	redisDB, err := envIntOrDefault(lookup, envVarRedisDB, 0)
	if err != nil {
		return Config{}, err
	}

	dialTimeout, err := envDurationOrDefault(lookup, envVarDialTimeout, DefaultDialTimeout)
	if err != nil {
		return Config{}, err
	}
	restartGrace, err := envDurationOrDefault(lookup, envVarRestartGracePeriod, DefaultRestartGracePeriod)
	if err != nil {
		return Config{}, err
	}
	candidatePoolSize, err := envIntOrDefault(lookup, envVarCandidatePoolSize, DefaultCandidatePoolSize)
	if err != nil {
		return Config{}, err
	}

	iceProviderURL := envOrDefault(lookup, envVarICEProviderURL, "")
	iceProviderTimeout, err := envDurationOrDefault(lookup, envVarICEProviderTimeout, DefaultICEProviderTimeout)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	authModeStr := envOrDefault(lookup, envVarAuthMode, "")
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")

	signalingAuthTimeout, err := envDurationOrDefault(lookup, envVarSignalingAuthWindow, DefaultSignalingAuthTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdle, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPing, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes, err := envIntOrDefault(lookup, envVarMaxSignalingBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingPerSec, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	fs := flag.NewFlagSet("novachat-calld", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flagListenAddr := fs.String("listen-addr", listenAddr, "TCP listen address for the signaling gateway")
	flagMode := fs.String("mode", modeDefault, "dev or prod (controls logging defaults)")
	flagLogFormat := fs.String("log-format", logFormatDefault, "log format: text or json")
	flagLogLevel := fs.String("log-level", logLevelDefault, "log level: debug, info, warn, error")
	flagRedisAddr := fs.String("redis-addr", redisAddr, "redis address of the shared call store")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	mode, err := parseMode(*flagMode)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*flagLogFormat)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*flagLogLevel)
	if err != nil {
		return Config{}, err
	}
	// Auth defaults track the mode: a local dev gateway is open, a prod one
	// requires credentials out of the box.
	if authModeStr == "" {
		authModeStr = string(AuthModeNone)
		if mode == ModeProd {
			authModeStr = string(DefaultAuthMode)
		}
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}

	storeStr := envOrDefault(lookup, envVarStore, "")
	if storeStr == "" {
		storeStr = string(StoreMemory)
		if mode == ModeProd {
			storeStr = string(StoreRedis)
		}
	}
	store, err := parseStoreBackend(storeStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	if dialTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarDialTimeout)
	}
	if restartGrace <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarRestartGracePeriod)
	}
	if candidatePoolSize < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", envVarCandidatePoolSize)
	}

	cfg := Config{
		ListenAddr:      *flagListenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		Store: store,
		Redis: RedisConfig{
			Addr:     *flagRedisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},

		DialTimeout:        dialTimeout,
		RestartGracePeriod: restartGrace,
		CandidatePoolSize:  candidatePoolSize,

		ICEServers:         iceServers,
		ICEProviderURL:     iceProviderURL,
		ICEProviderTimeout: iceProviderTimeout,
		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},

		AuthMode:  authMode,
		APIKey:    apiKey,
		JWTSecret: jwtSecret,

		SignalingAuthTimeout:    signalingAuthTimeout,
		SignalingWSIdleTimeout:  signalingWSIdleTimeout,
		SignalingWSPingInterval: signalingWSPingInterval,

		MaxSignalingMessageBytes:      int64(maxSignalingMessageBytes),
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
	}

	if err := cfg.validateAuth(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validateAuth() error {
	switch c.AuthMode {
	case AuthModeNone:
		if c.Mode == ModeProd {
			return fmt.Errorf("%s=%s is not allowed in prod mode", envVarAuthMode, AuthModeNone)
		}
		return nil
	case AuthModeAPIKey:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%s is required when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
		}
		return nil
	case AuthModeJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("%s is required when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
		}
		return nil
	default:
		return fmt.Errorf("unsupported auth mode %q", c.AuthMode)
	}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid auth mode %q (expected none, api_key or jwt)", raw)
	}
}

func parseStoreBackend(raw string) (StoreBackend, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StoreMemory):
		return StoreMemory, nil
	case string(StoreRedis):
		return StoreRedis, nil
	default:
		return "", fmt.Errorf("invalid store backend %q (expected memory or redis)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return nil, fmt.Errorf("invalid origin %q (expected scheme://host or *)", origin)
		}
		out = append(out, strings.TrimSuffix(origin, "/"))
	}
	return out, nil
}
