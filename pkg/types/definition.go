// Package types holds the shapes shared by the server, the clone service and the
// run orchestrator: test-case definitions, run events and persisted records.
package types

// Mode describes how a test case is authored. It is always derived from the
// definition, never stored.
type Mode string

const (
	ModeSimple  Mode = "simple"
	ModeBuilder Mode = "builder"
)

// BrowserConfig describes one named browser context used by builder steps.
type BrowserConfig struct {
	URL      string `json:"url" yaml:"url"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Step is one instruction executed against a browser context. Order matters.
type Step struct {
	ID     string `json:"id" yaml:"id"`
	Target string `json:"target" yaml:"target"`
	Action string `json:"action" yaml:"action"`
}

// TestCaseDefinition is everything the executor needs to run a test.
type TestCaseDefinition struct {
	Name          string                   `json:"name,omitempty" yaml:"name,omitempty"`
	URL           string                   `json:"url" yaml:"url"`
	Prompt        string                   `json:"prompt" yaml:"prompt"`
	Username      string                   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string                   `json:"password,omitempty" yaml:"password,omitempty"`
	Steps         []Step                   `json:"steps,omitempty" yaml:"steps,omitempty"`
	BrowserConfig map[string]BrowserConfig `json:"browserConfig,omitempty" yaml:"browserConfig,omitempty"`
}

// DeriveMode is the single rule for telling builder definitions from simple ones.
func DeriveMode(steps []Step, browsers map[string]BrowserConfig) Mode {
	if len(steps) > 0 || len(browsers) > 0 {
		return ModeBuilder
	}
	return ModeSimple
}

// Mode reports the derived authoring mode of d.
func (d TestCaseDefinition) Mode() Mode {
	return DeriveMode(d.Steps, d.BrowserConfig)
}

// Clone returns a deep copy so snapshots are not affected by later edits.
func (d TestCaseDefinition) Clone() TestCaseDefinition {
	out := d
	if d.Steps != nil {
		out.Steps = append([]Step(nil), d.Steps...)
	}
	if d.BrowserConfig != nil {
		out.BrowserConfig = make(map[string]BrowserConfig, len(d.BrowserConfig))
		for id, cfg := range d.BrowserConfig {
			out.BrowserConfig[id] = cfg
		}
	}
	return out
}
