package core

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevelEnv names the environment variable that controls the logging level.
const LogLevelEnv = "MDBENCH_LOG"

// init initializes the logging configuration for the application based on the MDBENCH_LOG environment variable.
func init() {
	zerolog.SetGlobalLevel(ParseLogLevel(os.Getenv(LogLevelEnv)))
}

// ParseLogLevel maps a MDBENCH_LOG value to a zerolog level.
// "off" or "0" disables logging and "full" enables debug output. The default is info.
func ParseLogLevel(value string) zerolog.Level {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "off", "0":
		return zerolog.Disabled
	case "full":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
