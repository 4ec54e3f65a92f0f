package session

import "maps"

// Property keys produced by [Settings.Flatten].
const (
	PropGreeting  = "greeting"
	PropPrompt    = "prompt"
	PropEnv       = "env"
	PropEnableAGC = "enable_agc"
	PropEnableNS  = "enable_ns"
	PropEnableAEC = "enable_aec"
)

// Settings are the agent options sent with CMD_START_GRAPH.
type Settings struct {
	Greeting string
	Prompt   string

	// Env is passed through to the graph's extensions.
	Env map[string]string

	// Audio processing toggles for the engine-side pipeline.
	AGC bool
	NS  bool
	AEC bool

	// Extra is copied into the properties verbatim.
	Extra map[string]any
}

// Flatten renders the settings as command properties. Extra keys are copied
// first; the typed fields override them. Empty strings and maps are omitted.
func (s Settings) Flatten() map[string]any {
	props := make(map[string]any, len(s.Extra)+6)
	maps.Copy(props, s.Extra)
	if s.Greeting != "" {
		props[PropGreeting] = s.Greeting
	}
	if s.Prompt != "" {
		props[PropPrompt] = s.Prompt
	}
	if len(s.Env) > 0 {
		env := make(map[string]any, len(s.Env))
		for k, v := range s.Env {
			env[k] = v
		}
		props[PropEnv] = env
	}
	props[PropEnableAGC] = s.AGC
	props[PropEnableNS] = s.NS
	props[PropEnableAEC] = s.AEC
	return props
}

// GraphSelection names the predefined graph a session runs.
type GraphSelection struct {
	ID   string
	Name string
}

// predefinedName is the value sent as predefined_graph_name.
func (g GraphSelection) predefinedName() string {
	if g.Name != "" {
		return g.Name
	}
	return g.ID
}
