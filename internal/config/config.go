// Package config loads the relay's runtime configuration from environment
// variables and command-line flags. Flags override environment values;
// everything has a default so a bare `signal-relay` starts a dev instance.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/streamview/signal-relay/internal/origin"
)

const (
	envListenAddr      = "SIGNAL_RELAY_LISTEN_ADDR"
	envAllowedOrigins  = "SIGNAL_RELAY_ALLOWED_ORIGINS"
	envLogFormat       = "SIGNAL_RELAY_LOG_FORMAT"
	envLogLevel        = "SIGNAL_RELAY_LOG_LEVEL"
	envShutdownTimeout = "SIGNAL_RELAY_SHUTDOWN_TIMEOUT"

	// Liveness probing.
	envProbeInterval = "SIGNAL_RELAY_PROBE_INTERVAL"
	envProbeTimeout  = "SIGNAL_RELAY_PROBE_TIMEOUT"

	// Inbound signaling hardening.
	envMaxMessageBytes      = "SIGNAL_RELAY_MAX_MESSAGE_BYTES"
	envMaxMessagesPerSecond = "SIGNAL_RELAY_MAX_MESSAGES_PER_SECOND"
	envSendQueueSize        = "SIGNAL_RELAY_SEND_QUEUE_SIZE"

	// Capacity caps (0 = unlimited).
	envMaxRooms               = "SIGNAL_RELAY_MAX_ROOMS"
	envMaxParticipantsPerRoom = "SIGNAL_RELAY_MAX_PARTICIPANTS_PER_ROOM"

	// TURN REST credentials for the /webrtc/ice endpoint.
	envTURNRESTSecret = "SIGNAL_RELAY_TURN_REST_SECRET"
	envTURNRESTTTL    = "SIGNAL_RELAY_TURN_REST_TTL"
	envTURNRESTPrefix = "SIGNAL_RELAY_TURN_REST_PREFIX"
)

const (
	DefaultListenAddr = "127.0.0.1:8080"

	// Probe cadence matches the reference deployment: ping every 20s, drop
	// the connection when no ack arrives within 60s.
	DefaultProbeInterval = 20 * time.Second
	DefaultProbeTimeout  = 60 * time.Second

	DefaultShutdownTimeout      = 10 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 64
	DefaultTURNRESTTTL          = 10 * time.Minute
	DefaultTURNRESTPrefix       = "relay"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TURNRESTConfig struct {
	SharedSecret string
	TTL          time.Duration
	Prefix       string
}

func (c TURNRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int

	MaxRooms               int
	MaxParticipantsPerRoom int

	ICEServers []webrtc.ICEServer
	TURNREST   TURNRESTConfig
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envAllowedOrigins, "")
	logFormatStr := envOrDefault(lookup, envLogFormat, string(LogFormatText))
	logLevelStr := envOrDefault(lookup, envLogLevel, "info")

	shutdownTimeout, err := envDurationOrDefault(lookup, envShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	probeInterval, err := envDurationOrDefault(lookup, envProbeInterval, DefaultProbeInterval)
	if err != nil {
		return Config{}, err
	}
	probeTimeout, err := envDurationOrDefault(lookup, envProbeTimeout, DefaultProbeTimeout)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envInt64OrDefault(lookup, envMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueSize, err := envIntOrDefault(lookup, envSendQueueSize, DefaultSendQueueSize)
	if err != nil {
		return Config{}, err
	}
	maxRooms, err := envIntOrDefault(lookup, envMaxRooms, 0)
	if err != nil {
		return Config{}, err
	}
	maxParticipants, err := envIntOrDefault(lookup, envMaxParticipantsPerRoom, 0)
	if err != nil {
		return Config{}, err
	}

	turnRESTSecret := envOrDefault(lookup, envTURNRESTSecret, "")
	turnRESTTTL, err := envDurationOrDefault(lookup, envTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}
	turnRESTPrefix := envOrDefault(lookup, envTURNRESTPrefix, DefaultTURNRESTPrefix)

	fs := flag.NewFlagSet("signal-relay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintln(out, "Usage: signal-relay [flags]")
		fs.PrintDefaults()
	}

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "TCP listen address (env "+envListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to connect (env "+envAllowedOrigins+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (env "+envLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn or error (env "+envLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envShutdownTimeout+")")
	fs.DurationVar(&probeInterval, "probe-interval", probeInterval, "Liveness probe interval (env "+envProbeInterval+")")
	fs.DurationVar(&probeTimeout, "probe-timeout", probeTimeout, "Liveness probe ack timeout (env "+envProbeTimeout+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Maximum inbound signaling message size (env "+envMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Per-connection inbound message rate limit (env "+envMaxMessagesPerSecond+")")
	fs.IntVar(&sendQueueSize, "send-queue-size", sendQueueSize, "Per-connection outbound queue length (env "+envSendQueueSize+")")
	fs.IntVar(&maxRooms, "max-rooms", maxRooms, "Maximum number of concurrent rooms, 0 = unlimited (env "+envMaxRooms+")")
	fs.IntVar(&maxParticipants, "max-participants-per-room", maxParticipants, "Maximum participants per room, 0 = unlimited (env "+envMaxParticipantsPerRoom+")")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			fs.SetOutput(os.Stderr)
			fs.Usage()
			return Config{}, flag.ErrHelp
		}
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	if probeInterval <= 0 {
		return Config{}, fmt.Errorf("probe interval must be positive, got %s", probeInterval)
	}
	if probeTimeout <= probeInterval {
		return Config{}, fmt.Errorf("probe timeout (%s) must exceed the probe interval (%s)", probeTimeout, probeInterval)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("max message bytes must be positive, got %d", maxMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("max messages per second must be positive, got %d", maxMessagesPerSecond)
	}
	if sendQueueSize <= 0 {
		return Config{}, fmt.Errorf("send queue size must be positive, got %d", sendQueueSize)
	}
	if maxRooms < 0 || maxParticipants < 0 {
		return Config{}, fmt.Errorf("capacity caps must not be negative")
	}

	iceServers, err := parseICEServersFromEnv(lookup)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		ProbeInterval: probeInterval,
		ProbeTimeout:  probeTimeout,

		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		SendQueueSize:        sendQueueSize,

		MaxRooms:               maxRooms,
		MaxParticipantsPerRoom: maxParticipants,

		ICEServers: iceServers,
		TURNREST: TURNRESTConfig{
			SharedSecret: turnRESTSecret,
			TTL:          turnRESTTTL,
			Prefix:       turnRESTPrefix,
		},
	}
	if cfg.TURNREST.Enabled() {
		if cfg.TURNREST.TTL <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", envTURNRESTTTL)
		}
		if strings.Contains(cfg.TURNREST.Prefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envTURNRESTPrefix)
		}
	}
	return cfg, nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

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

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", raw)
	}
}

// parseAllowedOrigins normalizes each configured origin so later comparisons
// are exact string matches. "*" is passed through.
func parseAllowedOrigins(raw string) ([]string, error) {
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
		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q in %s", entry, envAllowedOrigins)
		}
		out = append(out, normalized)
	}
	return out, nil
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

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
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
