package sym

import "testing"

func TestRoundTrip(t *testing.T) {
	for _, e := range registry {
		if got := Name(e.glyph); got != e.name {
			t.Errorf("Name(%q) = %q, want %q", e.glyph, got, e.name)
		}
		if got := FromName(e.name); got != e.glyph {
			t.Errorf("FromName(%q) = %q, want %q", e.name, got, e.glyph)
		}
	}
}

func TestUnknown(t *testing.T) {
	if Name("?") != "" {
		t.Error("expected empty name for unknown glyph")
	}
	if FromName("nope") != "" {
		t.Error("expected empty glyph for unknown name")
	}
}
