package main

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication on the signaling socket and REST API",
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
	} else if cfg.Mode == config.ModeProd && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is unset while --mode=prod (any browser origin may connect)",
			"warning_code", "allowed_origins_unset_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeNone && strings.TrimSpace(cfg.Overshoot.APIKey) != "" {
		logger.Warn("startup security warning: OVERSHOOT_API_KEY is served by /api/overshoot-config without authentication",
			"warning_code", "overshoot_key_unauthenticated",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.HTTPRequestsPerSecondPerClient <= 0 {
		logger.Warn("startup security warning: HTTP_REQUESTS_PER_SECOND_PER_CLIENT is 0 (unlimited) while --mode=prod",
			"warning_code", "http_rate_limit_disabled_in_prod",
			"http_requests_per_second_per_client", cfg.HTTPRequestsPerSecondPerClient,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (weakens signaling DoS hardening)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.MQTT.Enabled() && cfg.MQTT.Password != "" && !isTLSBroker(cfg.MQTT.Broker) {
		logger.Warn("startup security warning: MQTT_PASSWORD is sent to a broker without TLS",
			"warning_code", "mqtt_credentials_plaintext",
			"mqtt_broker_host", safeURLHost(cfg.MQTT.Broker),
			"mode", cfg.Mode,
		)
	}
}

func isTLSBroker(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "ssl", "tls", "mqtts", "wss", "tcps":
		return true
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

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
