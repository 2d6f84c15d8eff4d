package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options describes logger configuration supplied at creation time.
type Options struct {
	Level         string
	HumanReadable bool
	Writer        io.Writer
}

// Logger wraps zerolog to provide a simplified API for the application.
// Every entry carries a run_id field so log lines from repeated provisioning
// runs on the same host can be told apart.
type Logger struct {
	base  zerolog.Logger
	runID string
}

// New creates a configured Logger instance based on Options.
func New(opts Options) (*Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	var output io.Writer = writer
	if opts.HumanReadable {
		console := zerolog.NewConsoleWriter()
		console.Out = writer
		console.TimeFormat = time.RFC3339
		output = console
	}

	runID := uuid.NewString()
	logger := zerolog.New(output).Level(level).With().Timestamp().Str("run_id", runID).Logger()
	return &Logger{base: logger, runID: runID}, nil
}

// RunID returns the identifier attached to every entry of this logger.
func (l *Logger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// WithFields returns a derived logger that always writes the supplied fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}

	builder := l.base.With()
	for key, value := range fields {
		builder = builder.Interface(key, value)
	}

	derived := Logger{base: builder.Logger(), runID: l.runID}
	return &derived
}

// WithStep returns a derived logger scoped to the given step identifier.
func (l *Logger) WithStep(stepID string) *Logger {
	return l.WithFields(map[string]any{"step": stepID})
}

// Info writes an informational log entry.
func (l *Logger) Info(msg string) {
	if l == nil {
		return
	}
	l.base.Info().Msg(msg)
}

// Debug writes a debug-level log entry if enabled.
func (l *Logger) Debug(msg string) {
	if l == nil {
		return
	}
	l.base.Debug().Msg(msg)
}

// Warn writes a warning level log entry.
func (l *Logger) Warn(msg string) {
	if l == nil {
		return
	}
	l.base.Warn().Msg(msg)
}

// WarnErr writes a warning level log entry including the supplied error.
// Directive failures are non-fatal and surface through this path.
func (l *Logger) WarnErr(err error, msg string) {
	if l == nil {
		return
	}
	event := l.base.Warn()
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)
}

// Error writes an error log entry including the supplied error context.
func (l *Logger) Error(err error, msg string) {
	if l == nil {
		return
	}
	event := l.base.Error()
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)
}
