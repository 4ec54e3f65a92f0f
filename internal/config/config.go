// Package config provides the configuration schema, loader and file watcher
// for the agentlink client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InputSource selects where captured audio comes from.
type InputSource string

const (
	InputMic  InputSource = "mic"
	InputFile InputSource = "file"
	InputNone InputSource = "none"
)

// IsValid reports whether s is a recognised input source.
func (s InputSource) IsValid() bool {
	return s == InputMic || s == InputFile || s == InputNone
}

// OutputSink selects where engine audio is rendered.
type OutputSink string

const (
	OutputSpeaker OutputSink = "speaker"
	OutputFile    OutputSink = "file"
	OutputNone    OutputSink = "none"
)

// IsValid reports whether s is a recognised output sink.
func (s OutputSink) IsValid() bool {
	return s == OutputSpeaker || s == OutputFile || s == OutputNone
}

// Config is the root configuration, loaded with [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Reconnect     ReconnectConfig     `yaml:"reconnect"`
	Session       SessionConfig       `yaml:"session"`
	Agent         AgentConfig         `yaml:"agent"`
	Capture       CaptureConfig       `yaml:"capture"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Observability ObservabilityConfig `yaml:"observability"`
	Journal       JournalConfig       `yaml:"journal"`
}

// ServerConfig locates the engine.
type ServerConfig struct {
	// URL is the engine's WebSocket endpoint. http(s) URLs are dialled as ws(s).
	URL string `yaml:"url"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// DialTimeout bounds a single dial. Default 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ReconnectConfig is the linear reconnect policy.
type ReconnectConfig struct {
	// MaxAttempts is the reconnect ceiling. Default 5.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is multiplied by the attempt number. Default 1s.
	BaseDelay time.Duration `yaml:"base_delay"`
}

// SessionConfig addresses the graph a session runs.
type SessionConfig struct {
	// ClientURI is stamped as this client's app_uri on outgoing messages.
	ClientURI string `yaml:"client_uri"`

	// ExtensionName is the extension session traffic is addressed to.
	ExtensionName string `yaml:"extension_name"`

	// GraphID and GraphName select the predefined graph. GraphName wins when
	// both are set.
	GraphID   string `yaml:"graph_id"`
	GraphName string `yaml:"graph_name"`

	// AutoStart starts a session as soon as the connection opens.
	AutoStart bool `yaml:"auto_start"`
}

// AgentConfig is sent with every CMD_START_GRAPH. Changes apply to the next
// session.
type AgentConfig struct {
	Greeting string            `yaml:"greeting"`
	Prompt   string            `yaml:"prompt"`
	Env      map[string]string `yaml:"env"`
	AGC      bool              `yaml:"agc"`
	NS       bool              `yaml:"ns"`
	AEC      bool              `yaml:"aec"`
	Extra    map[string]any    `yaml:"extra"`
}

// CaptureConfig tunes the capture pipeline.
type CaptureConfig struct {
	// Source selects the microphone, a WAV file or nothing. Default mic.
	Source InputSource `yaml:"source"`

	// File is the WAV file read when Source is "file".
	File string `yaml:"file"`

	// DeviceRate is the capture rate. Default 48000.
	DeviceRate int `yaml:"device_rate"`

	// TargetRate is the rate sent to the engine. Default 16000.
	TargetRate int `yaml:"target_rate"`

	// Muted starts the microphone muted.
	Muted bool `yaml:"muted"`

	// Suppression thresholds. Hot-reloadable. A zero MaxSilentFrames means
	// the default of 3; a negative one drops every silent frame.
	SilenceThreshold float64 `yaml:"silence_threshold"`
	MaxSilentFrames  int     `yaml:"max_silent_frames"`
	DuplicateEpsilon float64 `yaml:"duplicate_epsilon"`
}

// PlaybackConfig tunes the playback pipeline.
type PlaybackConfig struct {
	// Sink selects the speaker, a WAV file or nothing. Default speaker.
	Sink OutputSink `yaml:"sink"`

	// File is the WAV file written when Sink is "file".
	File string `yaml:"file"`

	// OutputRate is the render rate. Default 48000.
	OutputRate int `yaml:"output_rate"`

	// Channels is the speaker channel count, 1 or 2. Default 2.
	Channels int `yaml:"channels"`
}

// ObservabilityConfig configures the admin HTTP endpoints.
type ObservabilityConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`
}

// JournalConfig configures the SQLite session journal.
type JournalConfig struct {
	// Path of the database file. Empty disables the journal.
	Path string `yaml:"path"`

	// MaxAge prunes older entries on startup. Zero keeps everything.
	MaxAge time.Duration `yaml:"max_age"`
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.DialTimeout == 0 {
		cfg.Server.DialTimeout = 10 * time.Second
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = 5
	}
	if cfg.Reconnect.BaseDelay == 0 {
		cfg.Reconnect.BaseDelay = time.Second
	}
	if cfg.Session.ClientURI == "" {
		cfg.Session.ClientURI = "agentlink"
	}
	if cfg.Capture.Source == "" {
		cfg.Capture.Source = InputMic
	}
	if cfg.Capture.DeviceRate == 0 {
		cfg.Capture.DeviceRate = 48000
	}
	if cfg.Capture.TargetRate == 0 {
		cfg.Capture.TargetRate = 16000
	}
	if cfg.Capture.SilenceThreshold == 0 {
		cfg.Capture.SilenceThreshold = 0.005
	}
	if cfg.Capture.MaxSilentFrames == 0 {
		cfg.Capture.MaxSilentFrames = 3
	}
	if cfg.Capture.DuplicateEpsilon == 0 {
		cfg.Capture.DuplicateEpsilon = 1e-6
	}
	if cfg.Playback.Sink == "" {
		cfg.Playback.Sink = OutputSpeaker
	}
	if cfg.Playback.OutputRate == 0 {
		cfg.Playback.OutputRate = 48000
	}
	if cfg.Playback.Channels == 0 {
		cfg.Playback.Channels = 2
	}
}
