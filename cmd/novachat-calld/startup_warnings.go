package main

import (
	"log/slog"

	"github.com/aryan25798/NovaChat-sub003/internal/config"
	"github.com/aryan25798/NovaChat-sub003/internal/origin"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.Store == config.StoreMemory {
		logger.Warn("startup warning: memory store while --mode=prod (call records are process-local; endpoints on other instances cannot see them)",
			"warning_code", "memory_store_in_prod",
			"store", cfg.Store,
			"mode", cfg.Mode,
		)
	}

	// Static TURN credentials in the handout list are visible to every client
	// that can reach /webrtc/ice. TURN REST replaces them with short-lived
	// per-user ones.
	if !cfg.TURNREST.Enabled() && hasStaticTURNCredentials(cfg) {
		logger.Warn("startup security warning: static TURN credentials configured without TURN REST (long-lived secrets are handed to every client)",
			"warning_code", "static_turn_credentials",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !hasTURNURL(cfg) {
		logger.Warn("startup warning: no TURN server configured while --mode=prod (calls between endpoints behind restrictive NATs may fail to connect)",
			"warning_code", "no_turn_in_prod",
			"mode", cfg.Mode,
		)
	}
}

func hasTURNURL(cfg config.Config) bool {
	for _, server := range cfg.ICEServers {
		for _, url := range server.URLs {
			if origin.HasSchemeFold(url, "turn") || origin.HasSchemeFold(url, "turns") {
				return true
			}
		}
	}
	return false
}

func hasStaticTURNCredentials(cfg config.Config) bool {
	for _, server := range cfg.ICEServers {
		if server.Username == "" {
			continue
		}
		for _, url := range server.URLs {
			if origin.HasSchemeFold(url, "turn") || origin.HasSchemeFold(url, "turns") {
				return true
			}
		}
	}
	return false
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
