package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. It defaults to a plain stdout
// logger so packages can log before Init runs.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level names accepted by Init. Unknown names fall back to info.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levelNames = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init replaces the root logger according to cfg. JSON output writes raw
// zerolog lines; otherwise a human-readable console writer is used.
func Init(cfg Config) {
	lvl, ok := levelNames[cfg.Level]
	if !ok {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithUserID returns a child logger tagged with a user id.
func WithUserID(userID string) zerolog.Logger {
	return Logger.With().Str("user_id", userID).Logger()
}

// WithSessionID returns a child logger tagged with a terminal session id.
func WithSessionID(sessionID string) zerolog.Logger {
	return Logger.With().Str("session_id", sessionID).Logger()
}

// Info logs at info level on the root logger.
func Info(msg string) {
	Logger.Info().Msg(msg)
}

// Warn logs at warn level on the root logger.
func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

// Errorf logs an error with a message on the root logger.
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
