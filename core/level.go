package core

import (
	"fmt"
	"strings"
)

// Level specifies the severity of a log entry.
type Level int8

const (
	// TraceLevel is the most detailed logging level.
	TraceLevel Level = iota

	// DebugLevel is for debugging information.
	DebugLevel

	// InfoLevel is for informational messages.
	InfoLevel

	// WarnLevel is for warnings.
	WarnLevel

	// ErrorLevel is for errors.
	ErrorLevel

	// FatalLevel is for fatal errors.
	FatalLevel
)

// String returns the lowercase name of the level, matching the wire format.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return fmt.Sprintf("level(%d)", int8(l))
	}
}

// MarshalJSON serializes the level as its lowercase name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON parses a level from its lowercase name.
func (l *Level) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a level name to a Level. Matching is case-insensitive
// and accepts the common aliases "warning" and "information".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "verbose":
		return TraceLevel, nil
	case "debug":
		return DebugLevel, nil
	case "info", "information":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
