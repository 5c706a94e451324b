package logging

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/pkg/api"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// ShutdownFunc flushes the buffered log entries, call it before the process exits.
type ShutdownFunc func() error

type loggerOptions struct {
	level       zapcore.Level
	development bool
	outputs     []string
}

type Option func(*loggerOptions)

// WithLevel overrides the minimum level, unknown names keep the default.
func WithLevel(level string) Option {
	return func(o *loggerOptions) {
		if l, err := zapcore.ParseLevel(strings.TrimSpace(level)); err == nil {
			o.level = l
		}
	}
}

// WithDevelopment switches to the console encoder.
func WithDevelopment() Option {
	return func(o *loggerOptions) {
		o.development = true
	}
}

func WithOutputs(outputs ...string) Option {
	return func(o *loggerOptions) {
		o.outputs = outputs
	}
}

// NewLogger builds a zap logger exposed through slog. Entries are JSON with
// ISO8601 timestamps and go to stderr since the CLIs print their report on
// stdout. The LOG_LEVEL environment variable sets the level unless an option
// overrides it.
func NewLogger(opts ...Option) (*slog.Logger, ShutdownFunc, error) {
	o := &loggerOptions{level: zapcore.InfoLevel, outputs: []string{"stderr"}}
	if env := os.Getenv(constants.EnvVarLogLevel); env != "" {
		WithLevel(env)(o)
	}
	for _, opt := range opts {
		opt(o)
	}

	zapConfig := zap.NewProductionConfig()
	if o.development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(o.level)
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.OutputPaths = o.outputs
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	zapLog, err := zapConfig.Build()
	if err != nil {
		return nil, nil, err
	}
	core := zapLog.Core()
	handler := zapslog.NewHandler(core, zapslog.WithCaller(true))
	return slog.New(handler), core.Sync, nil
}

// FallbackLogger is used when zap could not be set up.
func FallbackLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// WithRun enhances a logger with the pipeline run id
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(constants.LOG_RUN_ID, runID)
}

func WithStage(logger *slog.Logger, stage api.Stage) *slog.Logger {
	return logger.With(constants.LOG_STAGE, string(stage))
}

// logFromCaller writes a record whose source is the caller of the exported
// LogStage* helper rather than the helper itself.
func logFromCaller(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, args ...any) {
	if !logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	// runtime.Callers, logFromCaller, LogStage*
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = logger.Handler().Handle(ctx, r)
}

func LogStageStarted(ctx context.Context, logger *slog.Logger, stage api.Stage) {
	logFromCaller(ctx, logger, slog.LevelInfo, "Stage started", constants.LOG_STAGE, string(stage))
}

func LogStageCompleted(ctx context.Context, logger *slog.Logger, stage api.Stage, duration time.Duration) {
	logFromCaller(ctx, logger, slog.LevelInfo, "Stage completed", constants.LOG_STAGE, string(stage), "duration", duration.String())
}

// LogStageDegraded is used when a stage absorbed a recoverable error
func LogStageDegraded(ctx context.Context, logger *slog.Logger, stage api.Stage, kind api.ErrorKind, errorMessage string) {
	logFromCaller(ctx, logger, slog.LevelWarn, "Stage degraded", constants.LOG_STAGE, string(stage), constants.LOG_KIND, string(kind), constants.LOG_ERROR, errorMessage)
}

func LogStageFailed(ctx context.Context, logger *slog.Logger, stage api.Stage, kind api.ErrorKind, errorMessage string) {
	logFromCaller(ctx, logger, slog.LevelError, "Stage failed", constants.LOG_STAGE, string(stage), constants.LOG_KIND, string(kind), constants.LOG_ERROR, errorMessage)
}
