// internal/logging/levels.go
package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and carries per-step bootstrap detail.
const TraceLevel = zapcore.Level(-2)

const traceName = "trace"

// Level is the configured minimum level. It accepts every zap level name
// plus "trace", in any case, so TRACEBOOT_LOGGING_LEVEL=TRACE works.
type Level zapcore.Level

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := LevelFromString(string(text))
	if err != nil {
		return err
	}
	*l = Level(parsed)
	return nil
}

func (l Level) String() string {
	if zapcore.Level(l) == TraceLevel {
		return traceName
	}
	return zapcore.Level(l).String()
}

// Enabled implements zapcore.LevelEnabler.
func (l Level) Enabled(lvl zapcore.Level) bool {
	return lvl >= zapcore.Level(l)
}

// LevelFromString parses a level name, including "trace". Surrounding space
// and case are ignored.
func LevelFromString(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == traceName {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// encodeLevel names TraceLevel entries "trace" instead of "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString(traceName)
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}
