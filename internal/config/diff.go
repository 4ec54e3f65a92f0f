package config

import (
	"maps"
	"reflect"
)

// ConfigDiff lists the hot-reloadable differences between two configs.
// Anything not tracked here needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdsChanged is set when any capture suppression threshold moved.
	ThresholdsChanged bool

	// MutedChanged is set when capture.muted flipped.
	MutedChanged bool

	// AgentChanged is set when the start-graph properties changed. They take
	// effect on the next session.
	AgentChanged bool

	// RestartRequired is set when a field outside the hot-reloadable set
	// changed.
	RestartRequired bool
}

// Changed reports whether d carries any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || d.MutedChanged || d.AgentChanged || d.RestartRequired
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Capture, new.Capture
	d.ThresholdsChanged = oc.SilenceThreshold != nc.SilenceThreshold ||
		oc.MaxSilentFrames != nc.MaxSilentFrames ||
		oc.DuplicateEpsilon != nc.DuplicateEpsilon
	d.MutedChanged = oc.Muted != nc.Muted
	d.AgentChanged = !agentEqual(old.Agent, new.Agent)

	// Blank out the hot-reloadable fields and compare what remains.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Capture.SilenceThreshold, n.Capture.SilenceThreshold = 0, 0
	o.Capture.MaxSilentFrames, n.Capture.MaxSilentFrames = 0, 0
	o.Capture.DuplicateEpsilon, n.Capture.DuplicateEpsilon = 0, 0
	o.Capture.Muted, n.Capture.Muted = false, false
	o.Agent, n.Agent = AgentConfig{}, AgentConfig{}
	d.RestartRequired = !reflect.DeepEqual(o, n)

	return d
}

func agentEqual(a, b AgentConfig) bool {
	if a.Greeting != b.Greeting || a.Prompt != b.Prompt ||
		a.AGC != b.AGC || a.NS != b.NS || a.AEC != b.AEC {
		return false
	}
	if !maps.Equal(a.Env, b.Env) {
		return false
	}
	return reflect.DeepEqual(a.Extra, b.Extra)
}
