package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.DialTimeout != DefaultDialTimeout {
		t.Fatalf("DialTimeout=%v, want %v", cfg.DialTimeout, DefaultDialTimeout)
	}
	if cfg.RestartGracePeriod != DefaultRestartGracePeriod {
		t.Fatalf("RestartGracePeriod=%v, want %v", cfg.RestartGracePeriod, DefaultRestartGracePeriod)
	}
	if cfg.CandidatePoolSize != DefaultCandidatePoolSize {
		t.Fatalf("CandidatePoolSize=%d, want %d", cfg.CandidatePoolSize, DefaultCandidatePoolSize)
	}
	if cfg.Redis.Addr != DefaultRedisAddr {
		t.Fatalf("Redis.Addr=%q, want %q", cfg.Redis.Addr, DefaultRedisAddr)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("expected no ICE servers by default, got %d", len(cfg.ICEServers))
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAPIKey: "k",
	}), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestDefaultAuthModeRequiresAPIKey(t *testing.T) {
	if _, err := load(noEnv, []string{"--mode", "prod"}); err == nil {
		t.Fatalf("expected error for api_key auth without API_KEY")
	}
}

func TestStoreBackendDefaultsByMode(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("Store=%q, want memory in dev", cfg.Store)
	}

	cfg, err = load(lookupMap(map[string]string{envVarAPIKey: "secret"}), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreRedis {
		t.Fatalf("Store=%q, want redis in prod", cfg.Store)
	}

	cfg, err = load(lookupMap(map[string]string{envVarStore: "memory", envVarAPIKey: "secret"}), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("Store=%q, want explicit memory override", cfg.Store)
	}

	if _, err := load(lookupMap(map[string]string{envVarStore: "etcd"}), nil); err == nil {
		t.Fatalf("expected error for unknown store backend")
	}
}

func TestAuthModeNoneRefusedInProd(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "none"}), []string{"--mode", "prod"}); err == nil {
		t.Fatalf("expected error for none auth in prod mode")
	}

	cfg, err := load(lookupMap(map[string]string{envVarAuthMode: "none"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("AuthMode=%q, want none", cfg.AuthMode)
	}
}

func TestCallTimingEnvOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarDialTimeout:        "10s",
		envVarRestartGracePeriod: "5s",
		envVarCandidatePoolSize:  "4",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DialTimeout != 10*time.Second {
		t.Fatalf("DialTimeout=%v, want 10s", cfg.DialTimeout)
	}
	if cfg.RestartGracePeriod != 5*time.Second {
		t.Fatalf("RestartGracePeriod=%v, want 5s", cfg.RestartGracePeriod)
	}
	if cfg.CandidatePoolSize != 4 {
		t.Fatalf("CandidatePoolSize=%d, want 4", cfg.CandidatePoolSize)
	}
}

func TestRejectsNonPositiveDialTimeout(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarDialTimeout: "0s"}), nil); err == nil {
		t.Fatalf("expected error for zero dial timeout")
	}
}

func TestRejectsInvalidDuration(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarDialTimeout: "45"}), nil); err == nil {
		t.Fatalf("expected error for bare-number duration")
	}
}

func TestAuthModeJWTRequiresSecret(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "jwt"}), nil); err == nil {
		t.Fatalf("expected error for jwt auth without secret")
	}

	cfg, err := load(lookupMap(map[string]string{
		envVarAuthMode:  "jwt",
		envVarJWTSecret: "secret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeJWT {
		t.Fatalf("AuthMode=%q, want jwt", cfg.AuthMode)
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "https://app.example.com, http://localhost:5173/",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:5173"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins[%d]=%q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestRejectsUnexpectedArgs(t *testing.T) {
	if _, err := load(noEnv, []string{"extra"}); err == nil {
		t.Fatalf("expected error for unexpected positional args")
	}
}
