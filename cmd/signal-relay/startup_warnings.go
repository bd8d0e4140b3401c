package main

import (
	"log/slog"
	"time"

	"github.com/streamview/signal-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: SIGNAL_RELAY_ALLOWED_ORIGINS contains '*' (allows any browser origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
		)
	}

	if cfg.MaxRooms <= 0 {
		logger.Warn("startup security warning: SIGNAL_RELAY_MAX_ROOMS is unset/0 (unlimited rooms)",
			"warning_code", "max_rooms_unlimited",
			"max_rooms", cfg.MaxRooms,
		)
	}

	if cfg.MaxParticipantsPerRoom <= 0 {
		logger.Warn("startup security warning: SIGNAL_RELAY_MAX_PARTICIPANTS_PER_ROOM is unset/0 (unlimited participants per room)",
			"warning_code", "max_participants_unlimited",
			"max_participants_per_room", cfg.MaxParticipantsPerRoom,
		)
	}

	// Dead connections hold room slots until the probe gives up on them.
	if cfg.ProbeTimeout > 5*time.Minute {
		logger.Warn("startup security warning: SIGNAL_RELAY_PROBE_TIMEOUT is very large (dead connections linger in rooms)",
			"warning_code", "probe_timeout_large",
			"probe_timeout", cfg.ProbeTimeout,
		)
	}

	if turnWithoutCredentials(cfg) {
		logger.Warn("startup security warning: TURN servers configured without static credentials and no SIGNAL_RELAY_TURN_REST_SECRET (clients cannot authenticate against TURN)",
			"warning_code", "turn_without_credentials",
			"ice_servers", len(cfg.ICEServers),
		)
	}

	if cfg.TURNREST.Enabled() && !hasTURNServer(cfg) {
		logger.Warn("startup warning: SIGNAL_RELAY_TURN_REST_SECRET is set but no TURN server is configured (secret is unused)",
			"warning_code", "turn_rest_secret_unused",
		)
	}
}

func hasTURNServer(cfg config.Config) bool {
	for _, server := range cfg.ICEServers {
		if config.HasTURNURL(server) {
			return true
		}
	}
	return false
}

func turnWithoutCredentials(cfg config.Config) bool {
	if cfg.TURNREST.Enabled() {
		return false
	}
	for _, server := range cfg.ICEServers {
		if config.HasTURNURL(server) && (server.Username == "" || server.Credential == nil) {
			return true
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
