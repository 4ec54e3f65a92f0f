package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, expands, decodes and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. ${VAR} references are
// expanded from the environment before decoding; unknown fields are errors.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

// parse decodes data, fills defaults, applies overrides in order and
// validates the result.
func parse(data []byte, overrides ...func(*Config)) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	for _, o := range overrides {
		o(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url %q is invalid: %w", cfg.Server.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("server.url %q must use ws, wss, http or https", cfg.Server.URL))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.dial_timeout %s must not be negative", cfg.Server.DialTimeout))
	}

	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", cfg.Reconnect.MaxAttempts))
	}
	if cfg.Reconnect.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("reconnect.base_delay %s must not be negative", cfg.Reconnect.BaseDelay))
	}

	if cfg.Session.AutoStart && cfg.Session.GraphID == "" && cfg.Session.GraphName == "" {
		errs = append(errs, errors.New("session.auto_start requires session.graph_id or session.graph_name"))
	}

	c := cfg.Capture
	if !c.Source.IsValid() {
		errs = append(errs, fmt.Errorf("capture.source %q is invalid; valid values: mic, file, none", c.Source))
	}
	if c.Source == InputFile && c.File == "" {
		errs = append(errs, errors.New("capture.file is required when capture.source is file"))
	}
	if c.DeviceRate <= 0 || c.TargetRate <= 0 {
		errs = append(errs, fmt.Errorf("capture rates must be positive, got device_rate=%d target_rate=%d", c.DeviceRate, c.TargetRate))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("capture.silence_threshold %g is out of range [0, 1]", c.SilenceThreshold))
	}
	if c.DuplicateEpsilon < 0 {
		errs = append(errs, fmt.Errorf("capture.duplicate_epsilon %g must not be negative", c.DuplicateEpsilon))
	}

	p := cfg.Playback
	if !p.Sink.IsValid() {
		errs = append(errs, fmt.Errorf("playback.sink %q is invalid; valid values: speaker, file, none", p.Sink))
	}
	if p.Sink == OutputFile && p.File == "" {
		errs = append(errs, errors.New("playback.file is required when playback.sink is file"))
	}
	if p.OutputRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.output_rate %d must be positive", p.OutputRate))
	}
	if p.Channels != 1 && p.Channels != 2 {
		errs = append(errs, fmt.Errorf("playback.channels %d is invalid; valid values: 1, 2", p.Channels))
	}

	if cfg.Journal.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("journal.max_age %s must not be negative", cfg.Journal.MaxAge))
	}

	return errors.Join(errs...)
}
