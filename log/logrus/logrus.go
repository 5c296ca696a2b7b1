package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/regioncache"
)

var _ regioncache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l; nil uses logrus.StandardLogger().
func New(l *logrus.Logger) LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return LogrusLogger{E: logrus.NewEntry(l)}
}

func (l LogrusLogger) Debug(msg string, f regioncache.Fields) { l.log(logrus.DebugLevel, msg, f) }
func (l LogrusLogger) Info(msg string, f regioncache.Fields)  { l.log(logrus.InfoLevel, msg, f) }
func (l LogrusLogger) Warn(msg string, f regioncache.Fields)  { l.log(logrus.WarnLevel, msg, f) }
func (l LogrusLogger) Error(msg string, f regioncache.Fields) { l.log(logrus.ErrorLevel, msg, f) }

func (l LogrusLogger) log(level logrus.Level, msg string, f regioncache.Fields) {
	if !l.E.Logger.IsLevelEnabled(level) {
		return
	}
	e := l.E
	if len(f) > 0 {
		e = e.WithFields(logrus.Fields(f))
	}
	e.Log(level, msg)
}
