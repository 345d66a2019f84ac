package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/alertsink"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/api"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/livekit"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/sensors"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/speech"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting patient-monitor-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"offer_role", cfg.OfferRole,
		"max_alert_history", cfg.MaxAlertHistory,
		"livekit_configured", cfg.LiveKit.Configured(),
		"speech_configured", cfg.Speech.APIKey != "",
		"redis_enabled", cfg.Redis.Enabled(),
		"mqtt_enabled", cfg.MQTT.Enabled(),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		logger.Error("failed to configure auth", "err", err)
		os.Exit(2)
	}

	var turnGen *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turnGen, err = turnrest.NewGeneratorFromConfig(cfg.TURNREST)
		if err != nil {
			logger.Error("failed to configure TURN REST credentials", "err", err)
			os.Exit(2)
		}
	}

	m := metrics.New()
	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime})

	var (
		sink       *alertsink.Dispatcher
		sinkCancel context.CancelFunc = func() {}
		stream     *alertsink.RedisStream
	)
	if cfg.Redis.Enabled() {
		stream = alertsink.NewRedisStream(cfg.Redis)
		srv.AddReadinessCheck("redis", stream.Ping)
		sink = alertsink.NewDispatcher(stream, alertsink.DefaultQueueSize, logger.With("component", "alertsink"), m)
		var sinkCtx context.Context
		sinkCtx, sinkCancel = context.WithCancel(context.Background())
		go sink.Run(sinkCtx)
		logger.Info("alert event stream enabled", "redis_addr", cfg.Redis.Addr, "stream", stream.Stream())
	}

	reg := registry.New()
	router := signaling.NewRouter(signaling.RouterConfig{
		Registry:         reg,
		Ledger:           ledger.New(cfg.MaxAlertHistory),
		OfferRole:        cfg.OfferRole,
		InitRecentAlerts: cfg.InitRecentAlerts,
		Notifier:         sink,
		Metrics:          m,
		Logger:           logger.With("component", "router"),
	})

	sig := signaling.NewServer(signaling.Config{
		Router:               router,
		AuthMode:             cfg.AuthMode,
		Verifier:             verifier,
		Origins:              srv.CORS(),
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueFrames:      cfg.SignalingSendQueueFrames,
		Metrics:              m,
		Logger:               logger.With("component", "signaling"),
	})
	sig.RegisterRoutes(srv.Mux())

	api.New(api.Config{
		Router:                     router,
		LiveKit:                    livekit.NewIssuer(cfg.LiveKit),
		Speech:                     speech.NewClient(cfg.Speech, logger.With("component", "speech")),
		Overshoot:                  cfg.Overshoot,
		ICEServers:                 cfg.ICEServers,
		ICEConfigErr:               cfg.ICEConfigError(),
		TURNREST:                   turnGen,
		AuthMode:                   cfg.AuthMode,
		Verifier:                   verifier,
		RequestsPerSecondPerClient: cfg.HTTPRequestsPerSecondPerClient,
		Metrics:                    m,
		Logger:                     logger.With("component", "api"),
	}).Register(srv.Mux())

	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m, relayGauges(reg, router.Ledger(), sig)...))

	var sensorSub *sensors.Subscriber
	if cfg.MQTT.Enabled() {
		handler := sensors.NewHandler(router, m, logger.With("component", "sensors"))
		sensorSub, err = sensors.NewSubscriber(cfg.MQTT, handler.HandleMessage, logger.With("component", "mqtt"))
		if err != nil {
			// Sensor intake is optional.
			logger.Error("sensor network unavailable", "broker", cfg.MQTT.Broker, "err", err)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownDeps := func(ctx context.Context) {
		sensorSub.Close()
		if err := sink.Close(ctx); err != nil {
			logger.Warn("alert sink did not drain before shutdown", "err", err)
		}
		sinkCancel()
		if stream != nil {
			_ = stream.Close()
		}
	}

	select {
	case err := <-errCh:
		sig.Close()
		shutdownDeps(context.Background())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// http.Server.Shutdown does not track hijacked connections.
	sig.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	shutdownDeps(shutdownCtx)

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
