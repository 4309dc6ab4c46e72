package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{name: "fits", input: "story 2.3", width: 20, want: "story 2.3"},
		{name: "exact", input: "story", width: 5, want: "story"},
		{name: "cut", input: "anomaly error_marker", width: 8, want: "anomaly…"},
		{name: "width one", input: "review", width: 1, want: "…"},
		{name: "zero width", input: "review", width: 0, want: ""},
		{name: "wide characters", input: "日本語のレビュー", width: 7, want: "日本語…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.input, tt.width)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
			}
			if w := lipgloss.Width(got); w > tt.width {
				t.Errorf("width %d exceeds %d", w, tt.width)
			}
		})
	}
}

func TestTruncate_PreservesEscapes(t *testing.T) {
	styled := "\x1b[1mDEVELOP phase running\x1b[0m"
	got := Truncate(styled, 10)
	if w := lipgloss.Width(got); w != 10 {
		t.Errorf("visible width = %d, want 10 (%q)", w, got)
	}
}

func TestFirstLine(t *testing.T) {
	tests := map[string]string{
		"":                         "",
		"single":                   "single",
		"  padded  ":               "padded",
		"first\nsecond":            "first",
		"exit status 1\r\nstderr":  "exit status 1",
		"\n\nafter blank lines\nx": "after blank lines",
	}
	for in, want := range tests {
		if got := FirstLine(in); got != want {
			t.Errorf("FirstLine(%q) = %q, want %q", in, got, want)
		}
	}
}
