package main

import (
	"log/slog"
	"testing"
)

// TestMergeLogLevel verifies flag-over-file precedence: the flag's
// non-empty default must not clobber a level set in the config file
func TestMergeLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		fromFile string
		fromFlag string
		flagSet  bool
		want     string
	}{
		{"neither set falls back to flag default", "", "info", false, "info"},
		{"file only", "debug", "info", false, "debug"},
		{"flag only", "", "warn", true, "warn"},
		{"explicit flag beats file", "debug", "error", true, "error"},
		{"unset flag default does not beat file", "warn", "info", false, "warn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeLogLevel(tt.fromFile, tt.fromFlag, tt.flagSet)
			if got != tt.want {
				t.Errorf("mergeLogLevel(%q, %q, %v) = %q, want %q",
					tt.fromFile, tt.fromFlag, tt.flagSet, got, tt.want)
			}
		})
	}
}

// TestParseLevel tests log level name resolution
func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.level); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
