// Package sym defines the glyphs pulseflow prints in front of log lines and
// CLI output. They are stable across logs, CLI and documentation.
package sym

// Subsystem glyphs.
const (
	Pulse      = "꩜" // job acquisition, execution and retry
	PulseOpen  = "✿" // worker pool startup and stale lock release
	PulseClose = "❀" // worker pool shutdown
	DB         = "⊔" // database/storage layer
	Engine     = "⟶" // activity state machine
	Tree       = "⌬" // execution tree reconstruction
	AM         = "≡" // configuration
)

// entry binds a glyph to the subsystem name it stands for.
type entry struct {
	glyph string
	name  string
}

var registry = []entry{
	{Pulse, "pulse"},
	{PulseOpen, "pulse-open"},
	{PulseClose, "pulse-close"},
	{DB, "db"},
	{Engine, "engine"},
	{Tree, "tree"},
	{AM, "am"},
}

// Name returns the subsystem name for a glyph, or "" when unknown.
func Name(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.name
		}
	}
	return ""
}

// FromName returns the glyph for a subsystem name, or "" when unknown.
func FromName(name string) string {
	for _, e := range registry {
		if e.name == name {
			return e.glyph
		}
	}
	return ""
}
