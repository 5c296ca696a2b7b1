package zap

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/regioncache"
)

var _ regioncache.Logger = ZapLogger{}

// ZapLogger adapts a *zap.Logger. Fields are only built for enabled levels.
type ZapLogger struct{ L *zap.Logger }

// New wraps l; a nil l discards everything.
func New(l *zap.Logger) ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return ZapLogger{L: l}
}

func (z ZapLogger) Debug(msg string, f regioncache.Fields) { z.log(zapcore.DebugLevel, msg, f) }
func (z ZapLogger) Info(msg string, f regioncache.Fields)  { z.log(zapcore.InfoLevel, msg, f) }
func (z ZapLogger) Warn(msg string, f regioncache.Fields)  { z.log(zapcore.WarnLevel, msg, f) }
func (z ZapLogger) Error(msg string, f regioncache.Fields) { z.log(zapcore.ErrorLevel, msg, f) }

func (z ZapLogger) log(level zapcore.Level, msg string, f regioncache.Fields) {
	if ce := z.L.Check(level, msg); ce != nil {
		ce.Write(zf(f)...)
	}
}

// zf renders fields in key order so output is stable.
func zf(f regioncache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
