package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "LISTEN_ADDR"
	envVarPort            = "PORT"
	envVarWebSocketPort   = "WEBSOCKET_PORT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "LOG_FORMAT"
	envVarLogLevel        = "LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"
	envVarMode            = "MODE"

	// Routing.
	envVarOfferRole        = "OFFER_ROLE"
	envVarMaxAlertHistory  = "MAX_ALERT_HISTORY"
	envVarInitRecentAlerts = "INIT_RECENT_ALERTS"

	// Signaling / WebSocket auth + hardening.
	envVarAuthMode                      = "AUTH_MODE"
	envVarAPIKey                        = "API_KEY"
	envVarJWTSecret                     = "JWT_SECRET"
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingSendQueueFrames      = "SIGNALING_SEND_QUEUE_FRAMES"
	envVarHTTPRequestsPerSecond         = "HTTP_REQUESTS_PER_SECOND_PER_CLIENT"

	// LiveKit media tokens.
	envVarLiveKitURL       = "LIVEKIT_URL"
	envVarLiveKitAPIKey    = "LIVEKIT_API_KEY"
	envVarLiveKitAPISecret = "LIVEKIT_API_SECRET"
	envVarLiveKitTokenTTL  = "LIVEKIT_TOKEN_TTL"

	// ElevenLabs speech synthesis.
	envVarElevenLabsAPIKey       = "ELEVENLABS_API_KEY"
	envVarElevenLabsBaseURL      = "ELEVENLABS_BASE_URL"
	envVarElevenLabsVoiceID      = "ELEVENLABS_VOICE_ID"
	envVarElevenLabsModelID      = "ELEVENLABS_MODEL_ID"
	envVarElevenLabsOutputFormat = "ELEVENLABS_OUTPUT_FORMAT"
	envVarElevenLabsLatencyHint  = "ELEVENLABS_LATENCY_HINT"
	envVarElevenLabsTimeout      = "ELEVENLABS_TIMEOUT"
	envVarAlertAudioMaxChars     = "ALERT_AUDIO_MAX_CHARS"

	envVarOvershootAPIKey = "OVERSHOOT_API_KEY"
	envVarOvershootAPIURL = "OVERSHOOT_API_URL"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	// Alert event stream.
	envVarRedisAddr         = "REDIS_ADDR"
	envVarRedisPassword     = "REDIS_PASSWORD"
	envVarRedisDB           = "REDIS_DB"
	envVarRedisAlertStream  = "REDIS_ALERT_STREAM"
	envVarRedisStreamMaxLen = "REDIS_ALERT_STREAM_MAXLEN"

	// Sensor-network alert intake.
	envVarMQTTBroker     = "MQTT_BROKER"
	envVarMQTTClientID   = "MQTT_CLIENT_ID"
	envVarMQTTUsername   = "MQTT_USERNAME"
	envVarMQTTPassword   = "MQTT_PASSWORD"
	envVarMQTTAlertTopic = "MQTT_ALERT_TOPIC"
	envVarMQTTQoS        = "MQTT_QOS"
)

const (
	DefaultPort                  = "3000"
	DefaultShutdown              = 15 * time.Second
	DefaultMode             Mode = ModeDev
	DefaultAuthMode              = AuthModeNone
	DefaultOfferRole             = OfferRoleNurse
	DefaultMaxAlertHistory       = 200
	DefaultInitRecentAlerts      = 10

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(256 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingSendQueueFrames      = 64
	DefaultHTTPRequestsPerSecond         = 20

	DefaultLiveKitTokenTTL = 24 * time.Hour

	DefaultElevenLabsBaseURL      = "https://api.elevenlabs.io"
	DefaultElevenLabsVoiceID      = "21m00Tcm4TlvDq8ikWAM"
	DefaultElevenLabsModelID      = "eleven_multilingual_v2"
	DefaultElevenLabsOutputFormat = "mp3_44100_128"
	DefaultElevenLabsLatencyHint  = 2
	DefaultElevenLabsTimeout      = 20 * time.Second
	DefaultAlertAudioMaxChars     = 500

	DefaultOvershootAPIURL = "https://cluster1.overshoot.ai/api/v0.2"

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "patient-monitor"

	DefaultRedisAlertStream  = "patient-monitor:alerts"
	DefaultRedisStreamMaxLen = int64(10000)
	DefaultMQTTClientID      = "patient-monitor-relay"
	DefaultMQTTAlertTopic    = "patient-monitor/rooms/+/alerts"
	DefaultMQTTQoS           = 1
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
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

// OfferRole names which side of a video session sends the session offer.
type OfferRole string

const (
	OfferRoleNurse   OfferRole = "nurse"
	OfferRolePatient OfferRole = "patient"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

func (c LiveKitConfig) Configured() bool {
	return c.URL != "" && c.APIKey != "" && c.APISecret != ""
}

type SpeechConfig struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	ModelID      string
	OutputFormat string
	LatencyHint  int
	MaxChars     int
	Timeout      time.Duration
}

type OvershootConfig struct {
	APIKey string
	APIURL string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	AlertStream  string
	StreamMaxLen int64
}

func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

type MQTTConfig struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	AlertTopic string
	QoS        byte
}

func (c MQTTConfig) Enabled() bool { return strings.TrimSpace(c.Broker) != "" }

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	OfferRole        OfferRole
	MaxAlertHistory  int
	InitRecentAlerts int

	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueFrames      int

	// HTTPRequestsPerSecondPerClient bounds the alert-ingest and speech
	// endpoints per remote address. <= 0 disables the limit.
	HTTPRequestsPerSecondPerClient int

	LiveKit   LiveKitConfig
	Speech    SpeechConfig
	Overshoot OvershootConfig
	Redis     RedisConfig
	MQTT      MQTTConfig

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports a malformed ICE server configuration. It is kept
// separate from Load errors so the service can start and serve everything but
// /api/ice-servers.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
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
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	port := envOrDefault(lookup, envVarWebSocketPort, envOrDefault(lookup, envVarPort, DefaultPort))
	listenAddr := envOrDefault(lookup, envVarListenAddr, ":"+port)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	offerRoleStr := envOrDefault(lookup, envVarOfferRole, string(DefaultOfferRole))
	authModeStr := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	liveKit := LiveKitConfig{
		URL:       envOrDefault(lookup, envVarLiveKitURL, ""),
		APIKey:    envOrDefault(lookup, envVarLiveKitAPIKey, ""),
		APISecret: envOrDefault(lookup, envVarLiveKitAPISecret, ""),
	}
	speech := SpeechConfig{
		APIKey:       envOrDefault(lookup, envVarElevenLabsAPIKey, ""),
		BaseURL:      strings.TrimRight(envOrDefault(lookup, envVarElevenLabsBaseURL, DefaultElevenLabsBaseURL), "/"),
		VoiceID:      envOrDefault(lookup, envVarElevenLabsVoiceID, DefaultElevenLabsVoiceID),
		ModelID:      envOrDefault(lookup, envVarElevenLabsModelID, DefaultElevenLabsModelID),
		OutputFormat: envOrDefault(lookup, envVarElevenLabsOutputFormat, DefaultElevenLabsOutputFormat),
	}
	overshoot := OvershootConfig{
		APIKey: envOrDefault(lookup, envVarOvershootAPIKey, ""),
		APIURL: envOrDefault(lookup, envVarOvershootAPIURL, DefaultOvershootAPIURL),
	}
	redis := RedisConfig{
		Addr:        envOrDefault(lookup, envVarRedisAddr, ""),
		Password:    envOrDefault(lookup, envVarRedisPassword, ""),
		AlertStream: envOrDefault(lookup, envVarRedisAlertStream, DefaultRedisAlertStream),
	}
	mqtt := MQTTConfig{
		Broker:     envOrDefault(lookup, envVarMQTTBroker, ""),
		ClientID:   envOrDefault(lookup, envVarMQTTClientID, DefaultMQTTClientID),
		Username:   envOrDefault(lookup, envVarMQTTUsername, ""),
		Password:   envOrDefault(lookup, envVarMQTTPassword, ""),
		AlertTopic: envOrDefault(lookup, envVarMQTTAlertTopic, DefaultMQTTAlertTopic),
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{envVarShutdownTimeout, new(time.Duration), DefaultShutdown},
		{envVarSignalingWSIdleTimeout, new(time.Duration), DefaultSignalingWSIdleTimeout},
		{envVarSignalingWSPingInterval, new(time.Duration), DefaultSignalingWSPingInterval},
		{envVarLiveKitTokenTTL, &liveKit.TokenTTL, DefaultLiveKitTokenTTL},
		{envVarElevenLabsTimeout, &speech.Timeout, DefaultElevenLabsTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = envDurationOrDefault(lookup, d.key, d.def); err != nil {
			return Config{}, err
		}
	}
	shutdownTimeout := *durations[0].dst
	signalingWSIdleTimeout := *durations[1].dst
	signalingWSPingInterval := *durations[2].dst

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{envVarMaxAlertHistory, new(int), DefaultMaxAlertHistory},
		{envVarInitRecentAlerts, new(int), DefaultInitRecentAlerts},
		{envVarMaxSignalingMessagesPerSecond, new(int), DefaultMaxSignalingMessagesPerSecond},
		{envVarSignalingSendQueueFrames, new(int), DefaultSignalingSendQueueFrames},
		{envVarHTTPRequestsPerSecond, new(int), DefaultHTTPRequestsPerSecond},
		{envVarElevenLabsLatencyHint, &speech.LatencyHint, DefaultElevenLabsLatencyHint},
		{envVarAlertAudioMaxChars, &speech.MaxChars, DefaultAlertAudioMaxChars},
		{envVarRedisDB, &redis.DB, 0},
		{envVarMQTTQoS, new(int), DefaultMQTTQoS},
	}
	for _, n := range ints {
		if *n.dst, err = envIntOrDefault(lookup, n.key, n.def); err != nil {
			return Config{}, err
		}
	}
	maxAlertHistory := *ints[0].dst
	initRecentAlerts := *ints[1].dst
	maxSignalingMessagesPerSecond := *ints[2].dst
	signalingSendQueueFrames := *ints[3].dst
	httpRequestsPerSecond := *ints[4].dst
	mqttQoS := *ints[8].dst

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}

	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}

	redis.StreamMaxLen = DefaultRedisStreamMaxLen
	if raw, ok := lookup(envVarRedisStreamMaxLen); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarRedisStreamMaxLen, raw, err)
		}
		redis.StreamMaxLen = n
	}

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs := flag.NewFlagSet("patient-monitor-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+" or "+envVarPort+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&offerRoleStr, "offer-role", offerRoleStr, "Which participant sends the session offer: nurse or patient (env "+envVarOfferRole+")")
	fs.IntVar(&maxAlertHistory, "max-alert-history", maxAlertHistory, "Alerts retained in memory (env "+envVarMaxAlertHistory+")")
	fs.IntVar(&initRecentAlerts, "init-recent-alerts", initRecentAlerts, "Alerts included in a nurse's init frame (env "+envVarInitRecentAlerts+")")
	fs.StringVar(&authModeStr, "auth-mode", authModeStr, "Auth mode: none, api_key, or jwt (env "+envVarAuthMode+")")
	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&signalingSendQueueFrames, "signaling-send-queue-frames", signalingSendQueueFrames, "Outbound frames buffered per connection before dropping (env "+envVarSignalingSendQueueFrames+")")
	fs.IntVar(&httpRequestsPerSecond, "http-requests-per-second-per-client", httpRequestsPerSecond, "Per-client request rate for alert and speech endpoints (0 = unlimited; env "+envVarHTTPRequestsPerSecond+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&redis.Addr, "redis-addr", redis.Addr, "Redis address for the alert event stream (empty = disabled; env "+envVarRedisAddr+")")
	fs.StringVar(&mqtt.Broker, "mqtt-broker", mqtt.Broker, "MQTT broker URL for sensor alerts (empty = disabled; env "+envVarMQTTBroker+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}
	offerRole, err := parseOfferRole(offerRoleStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if maxAlertHistory <= 0 {
		return Config{}, fmt.Errorf("%s/--max-alert-history must be > 0", envVarMaxAlertHistory)
	}
	if initRecentAlerts < 0 {
		return Config{}, fmt.Errorf("%s/--init-recent-alerts must be >= 0", envVarInitRecentAlerts)
	}
	if authMode == AuthModeAPIKey && strings.TrimSpace(apiKey) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
	}
	if authMode == AuthModeJWT && strings.TrimSpace(jwtSecret) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if signalingSendQueueFrames <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-send-queue-frames must be > 0", envVarSignalingSendQueueFrames)
	}
	if liveKit.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarLiveKitTokenTTL)
	}
	if speech.MaxChars <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarAlertAudioMaxChars)
	}
	if speech.Timeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarElevenLabsTimeout)
	}
	if mqttQoS < 0 || mqttQoS > 2 {
		return Config{}, fmt.Errorf("%s must be 0, 1, or 2", envVarMQTTQoS)
	}
	mqtt.QoS = byte(mqttQoS)

	if strings.TrimSpace(turnRESTSharedSecret) != "" {
		if turnRESTTTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0 when %s is set", envVarTURNRESTTTLSeconds, envVarTURNRESTSharedSecret)
		}
		if strings.TrimSpace(turnRESTUsernamePrefix) == "" {
			return Config{}, fmt.Errorf("%s must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		}
		if strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		OfferRole:        offerRole,
		MaxAlertHistory:  maxAlertHistory,
		InitRecentAlerts: initRecentAlerts,

		AuthMode:  authMode,
		APIKey:    apiKey,
		JWTSecret: jwtSecret,

		SignalingWSIdleTimeout:         signalingWSIdleTimeout,
		SignalingWSPingInterval:        signalingWSPingInterval,
		MaxSignalingMessageBytes:       maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond:  maxSignalingMessagesPerSecond,
		SignalingSendQueueFrames:       signalingSendQueueFrames,
		HTTPRequestsPerSecondPerClient: httpRequestsPerSecond,

		LiveKit:   liveKit,
		Speech:    speech,
		Overshoot: overshoot,
		Redis:     redis,
		MQTT:      mqtt,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
	}

	iceServers, err := parseICEServersFromValues(
		iceServersJSON,
		stunURLs,
		turnURLs,
		turnUsername,
		turnCredential,
		cfg.TURNREST.Enabled(),
	)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
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
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeAPIKey, AuthModeJWT)
	}
}

func parseOfferRole(raw string) (OfferRole, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(OfferRoleNurse):
		return OfferRoleNurse, nil
	case string(OfferRolePatient):
		return OfferRolePatient, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarOfferRole, raw, OfferRoleNurse, OfferRolePatient)
	}
}

// parseAllowedOrigins accepts "*" or full origins (scheme://host[:port]) and
// returns them lowercased without a trailing slash.
func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		u, err := url.Parse(entry)
		if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" ||
			(u.Path != "" && u.Path != "/") {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
		default:
			return nil, fmt.Errorf("invalid origin %q (scheme must be http or https)", entry)
		}
		out = append(out, strings.ToLower(u.Scheme)+"://"+strings.ToLower(u.Host))
	}
	return out, nil
}
