package config_test

import (
	"testing"

	"github.com/MrWong99/agentlink/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{URL: "ws://localhost/ws"},
		Agent: config.AgentConfig{
			Greeting: "hi",
			Env:      map[string]string{"LANG": "en"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   config.ConfigDiff
	}{
		{
			name:   "identical",
			mutate: func(*config.Config) {},
			want:   config.ConfigDiff{},
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogWarn },
			want:   config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogWarn},
		},
		{
			name:   "threshold",
			mutate: func(c *config.Config) { c.Capture.MaxSilentFrames = 10 },
			want:   config.ConfigDiff{ThresholdsChanged: true},
		},
		{
			name:   "muted",
			mutate: func(c *config.Config) { c.Capture.Muted = true },
			want:   config.ConfigDiff{MutedChanged: true},
		},
		{
			name:   "agent env",
			mutate: func(c *config.Config) { c.Agent.Env = map[string]string{"LANG": "de"} },
			want:   config.ConfigDiff{AgentChanged: true},
		},
		{
			name:   "server url",
			mutate: func(c *config.Config) { c.Server.URL = "ws://elsewhere/ws" },
			want:   config.ConfigDiff{RestartRequired: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			got := config.Diff(old, new)
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
			if got.Changed() != (tc.want != config.ConfigDiff{}) {
				t.Errorf("Changed: got %v", got.Changed())
			}
		})
	}
}
