package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
)

const minJWTSecretBytes = 32

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Relay) {
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

	if cfg.AuthMode == config.AuthModeJWT && len(cfg.JWTSecret) < minJWTSecretBytes {
		logger.Warn("startup security warning: JWT_SECRET is shorter than 32 bytes",
			"warning_code", "jwt_secret_short",
			"jwt_secret_bytes", len(cfg.JWTSecret),
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxRoomMembers <= 0 {
		logger.Warn("startup security warning: MAX_ROOM_MEMBERS is 0 (unlimited) while --mode=prod",
			"warning_code", "max_room_members_unlimited_in_prod",
			"max_room_members", cfg.MaxRoomMembers,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.Redis.Enabled() && cfg.Redis.Password == "" {
		logger.Warn("startup security warning: REDIS_PASSWORD is empty while --mode=prod",
			"warning_code", "redis_no_password_in_prod",
			"redis_addr", cfg.Redis.Addr,
			"mode", cfg.Mode,
		)
	}
}
