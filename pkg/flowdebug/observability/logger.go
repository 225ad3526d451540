// Package observability provides structured logging, metrics and tracing
// for flowdebug sessions.
//
// Logging uses log/slog. Metrics and tracing use OpenTelemetry, with no-op
// implementations for when they are disabled. Setup wires an SDK tracer
// provider and a Prometheus-backed meter provider for the server.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Field keys shared by every log line about a session.
const (
	SessionIDKey = "session_id"
	FlowKey      = "flow"
	StepIDKey    = "step_id"
	DurationKey  = "duration_ms"
	StatusKey    = "status"
)

// LoggerConfig selects the handler built by NewLogger.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string
	// Format is json or text. Default: text.
	Format string
	// Output defaults to os.Stderr.
	Output    io.Writer
	AddSource bool
}

// NewLogger builds a slog.Logger from cfg.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SessionLogger returns logger enriched with the session and flow.
func SessionLogger(logger *slog.Logger, sessionID, flowName string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String(SessionIDKey, sessionID),
		slog.String(FlowKey, flowName),
	)
}

// LogSessionStart logs the start of a flow execution.
func LogSessionStart(logger *slog.Logger, sessionID, flowName string) {
	if logger == nil {
		return
	}
	logger.Info("flow execution starting",
		slog.String(SessionIDKey, sessionID),
		slog.String(FlowKey, flowName),
	)
}

// LogSessionEnd logs the terminal status of a flow execution.
func LogSessionEnd(logger *slog.Logger, sessionID, status string, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("flow execution finished",
		slog.String(SessionIDKey, sessionID),
		slog.String(StatusKey, status),
		slog.Float64(DurationKey, durationMs),
		slog.Int("steps_executed", steps),
	)
}

// LogSessionError logs a flow execution that ended in error.
func LogSessionError(logger *slog.Logger, sessionID string, err error, lastStep string) {
	if logger == nil {
		return
	}
	logger.Error("flow execution failed",
		slog.String(SessionIDKey, sessionID),
		slog.String("error", err.Error()),
		slog.String("last_step", lastStep),
	)
}

// LogStepStart logs step execution start.
func LogStepStart(logger *slog.Logger, stepID string) {
	if logger == nil {
		return
	}
	logger.Debug("step starting", slog.String(StepIDKey, stepID))
}

// LogStepComplete logs successful step completion.
func LogStepComplete(logger *slog.Logger, stepID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("step completed",
		slog.String(StepIDKey, stepID),
		slog.Float64(DurationKey, durationMs),
	)
}

// LogStepError logs a failed step.
func LogStepError(logger *slog.Logger, stepID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("step failed",
		slog.String(StepIDKey, stepID),
		slog.String("error", err.Error()),
	)
}

// LogPaused logs that execution is waiting before stepID.
func LogPaused(logger *slog.Logger, stepID string, breakpoint bool) {
	if logger == nil {
		return
	}
	logger.Info("execution paused",
		slog.String(StepIDKey, stepID),
		slog.Bool("breakpoint", breakpoint),
	)
}

// LogCallbackError logs a state callback failure. Callback failures never
// abort execution.
func LogCallbackError(logger *slog.Logger, event string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("state callback failed",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// LogArchiveError logs a failure to archive a session snapshot (non-fatal).
func LogArchiveError(logger *slog.Logger, sessionID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("session archive failed",
		slog.String(SessionIDKey, sessionID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}
