package core

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  zerolog.Level
	}{
		{"off", zerolog.Disabled},
		{"0", zerolog.Disabled},
		{" OFF ", zerolog.Disabled},
		{"full", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.value); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v; want %v", tt.value, got, tt.want)
		}
	}
}

func TestLoggingFromEnv(t *testing.T) {
	t.Setenv(LogLevelEnv, "full")
	zerolog.SetGlobalLevel(ParseLogLevel("full"))
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("Expected logging level to be Debug, got %v", zerolog.GlobalLevel())
	}
}
