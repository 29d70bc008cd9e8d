// Package obslog is the structured logger shared by every engine (client,
// mock server, bridge, script engine). It plays the same role as the
// teacher's hand-rolled *log.Logger wrapper, but is built on zap so it can
// carry the structured key-value fields that script hook contexts
// (ctx.log) and event payloads need.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a leveled, structured logger scoped to one component instance
// (e.g. "modbus-client(tcp://10.0.0.1:502)").
type Logger struct {
	scope string
	z     *zap.SugaredLogger
}

// New returns a Logger writing through a production-style (JSON) zap core at the
// given minimum level. scope identifies the owning component the way the
// teacher's logger prefix did (e.g. "rtu-transport(/dev/ttyUSB0)").
func New(scope string, level zapcore.Level) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		// should not happen with a vetted production config; fall back to a
		// no-op logger rather than panic in a diagnostic tool.
		z = zap.NewNop()
	}

	return &Logger{
		scope: scope,
		z:     z.Sugar().With("component", scope),
	}
}

// Nop returns a Logger that discards everything; used as a safe default
// when a caller does not configure logging.
func Nop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// With returns a child logger carrying additional structured fields, e.g.
// log.With("unit_id", 1, "address", 100).
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{scope: l.scope, z: l.z.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...interface{})   { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})    { l.z.Infow(msg, kv...) }
func (l *Logger) Warning(msg string, kv ...interface{}) { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{})   { l.z.Errorw(msg, kv...) }

// Sync flushes any buffered log entries; call on engine shutdown.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}
