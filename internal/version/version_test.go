package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestVersionDefaults(t *testing.T) {
	if got := Version(); got != "0.1.0-dev" {
		t.Fatalf("Version() = %q", got)
	}
}

func TestVersionCanBeOverridden(t *testing.T) {
	orig := []string{Major, Minor, Patch, Suffix}
	t.Cleanup(func() { Major, Minor, Patch, Suffix = orig[0], orig[1], orig[2], orig[3] })

	Major, Minor, Patch, Suffix = "1", "2", "3", ""
	if got := Version(); got != "1.2.3" {
		t.Fatalf("Version() = %q", got)
	}
}

func TestColoredMatchesPlainWithoutColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	if Colored() != Version() {
		t.Fatalf("Colored() = %q, Version() = %q", Colored(), Version())
	}
}

func TestCommit(t *testing.T) {
	orig := GitCommit
	t.Cleanup(func() { GitCommit = orig })

	cases := []struct{ in, want string }{
		{"", "unknown"},
		{"abc123", "abc123"},
		{"1234567890abcdef1234567890abcdef12345678", "1234567890ab"},
	}
	for _, tc := range cases {
		GitCommit = tc.in
		if got := Commit(); got != tc.want {
			t.Errorf("Commit() with %q = %q, want %q", tc.in, got, tc.want)
		}
	}
}
