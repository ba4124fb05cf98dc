package reply

import (
	"context"
	"testing"
)

func TestCannedGenerate(t *testing.T) {
	src := NewCanned()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"greeting", "Hello there", "Hello! How can I help you today?"},
		{"case insensitive", "HELLO!", "Hello! How can I help you today?"},
		{"keyword inside sentence", "what are your hours today", "We're open Monday to Friday, nine to five."},
		{"thanks", "ok thanks a lot", "You're welcome!"},
		{"no match falls back", "quantum chromodynamics", DefaultFallback},
		{"empty falls back", "", DefaultFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := src.Generate(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Generate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCannedFirstRuleWins(t *testing.T) {
	src := NewCanned()

	// "hello" precedes "hi" in the rule set, so a text containing both
	// matches the earlier rule.
	got, err := src.Generate(context.Background(), "hi, hello")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "Hello! How can I help you today?" {
		t.Errorf("Generate() = %q, want the first matching rule's reply", got)
	}
}
