package control

import (
	"fmt"
	"log/slog"
	"math"
)

// ParseLoggingLevel maps the SetLoggingLevel command's vocabulary onto
// slog.Level, spec §6. NONE and SENSITIVE have no stdlib slog equivalent:
// NONE is pinned above LevelError so nothing logs, SENSITIVE below
// LevelDebug so everything does, including data a production build would
// normally withhold.
func ParseLoggingLevel(s string) (slog.Level, error) {
	switch s {
	case "NONE":
		return slog.Level(math.MaxInt8), nil
	case "ERROR":
		return slog.LevelError, nil
	case "WARNING":
		return slog.LevelWarn, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "VERBOSE":
		return slog.LevelDebug, nil
	case "SENSITIVE":
		return slog.LevelDebug - 4, nil
	default:
		return 0, fmt.Errorf("control: unknown logging level %q", s)
	}
}
