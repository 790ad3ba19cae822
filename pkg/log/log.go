package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger every WithX helper derives from.
var Logger zerolog.Logger

// Level is the subset of zerolog levels Config accepts.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var zerologLevels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config selects the global log level, output stream, and wire format.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init sets the global zerolog level and (re)builds Logger from cfg.
// Call once at process startup before any WithX logger is built, since
// those close over Logger by value at construction time.
func Init(cfg Config) {
	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Logger = zerolog.New(writerFor(cfg)).With().Timestamp().Logger()
}

func writerFor(cfg Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.JSONOutput {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// WithComponent returns a child logger tagging every entry with the
// subsystem name (e.g. "coordinator", "antientropy", "gc").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID returns a child logger tagging every entry with the
// owning node's id.
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithSlot returns a child logger tagging every entry with the slot
// it concerns.
func WithSlot(slotID uint32) zerolog.Logger {
	return Logger.With().Uint32("slot_id", slotID).Logger()
}

// WithReplica returns a child logger tagging every entry with the
// peer replica's node id.
func WithReplica(nodeID string) zerolog.Logger {
	return Logger.With().Str("replica", nodeID).Logger()
}

// WithPath returns a child logger tagging every entry with the object
// path it concerns.
func WithPath(path string) zerolog.Logger {
	return Logger.With().Str("path", path).Logger()
}

// Info logs msg at info level on the global Logger.
func Info(msg string) { Logger.Info().Msg(msg) }

// Debug logs msg at debug level on the global Logger.
func Debug(msg string) { Logger.Debug().Msg(msg) }

// Warn logs msg at warn level on the global Logger.
func Warn(msg string) { Logger.Warn().Msg(msg) }

// Error logs msg at error level on the global Logger.
func Error(msg string) { Logger.Error().Msg(msg) }

// Errorf logs msg at error level with err attached on the global
// Logger.
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}

// Fatal logs msg at fatal level on the global Logger, then exits.
func Fatal(msg string) { Logger.Fatal().Msg(msg) }
