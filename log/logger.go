// Package log writes JSON log lines through zap.
//
// Every line carries the emitting component. Loggers derived with
// ForTransfer also carry the transfer and requester IDs, so one grep over
// transfer_id follows a link from dispatch to delivery.
package log

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/ferry/types"
)

// Logger is a component logger. Call fields are flattened into the line.
type Logger struct {
	core      zapcore.Core
	level     zapcore.Level
	component string
	context   []zap.Field
	zap       *zap.Logger
}

// ParseLevel parses debug, info, warn or error. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", s)
	}
}

// NewLogger creates a logger for component writing to stderr.
func NewLogger(component string, level zapcore.Level) *Logger {
	return build(jsonCore(os.Stderr, level), level, component, nil)
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return build(zapcore.NewNopCore(), zapcore.InfoLevel, "", nil)
}

func jsonCore(w io.Writer, level zapcore.Level) zapcore.Core {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zapcore.NewCore(enc, zapcore.AddSync(w), level)
}

func build(core zapcore.Core, level zapcore.Level, component string, context []zap.Field) *Logger {
	fields := context
	if component != "" {
		fields = append([]zap.Field{zap.String("component", component)}, context...)
	}
	return &Logger{
		core:      core,
		level:     level,
		component: component,
		context:   context,
		zap:       zap.New(core).With(fields...),
	}
}

// WithOutput returns a copy of l writing to w.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return build(jsonCore(w, l.level), l.level, l.component, l.context)
}

// Named returns a copy of l for another component.
func (l *Logger) Named(component string) *Logger {
	return build(l.core, l.level, component, l.context)
}

// ForTransfer returns a copy of l tagged with the transfer identity.
func (l *Logger) ForTransfer(req *types.TransferRequest) *Logger {
	if req == nil {
		return l
	}
	context := append(slices.Clip(l.context),
		zap.String("transfer_id", req.ID),
		zap.Int64("requester_id", req.RequesterID),
	)
	return build(l.core, l.level, l.component, context)
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, flatten(fields)...)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, flatten(fields)...)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, flatten(fields)...)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, flatten(fields)...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// reserved keys are owned by the encoder and the logger context.
var reserved = map[string]bool{
	"timestamp": true, "level": true, "message": true, "component": true,
}

// flatten turns call fields into zap fields in key order. Keys that would
// shadow a reserved key are prefixed with "field.".
func flatten(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		name := k
		if reserved[k] {
			name = "field." + k
		}
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(name, err))
			continue
		}
		out = append(out, zap.Any(name, fields[k]))
	}
	return out
}
