// Package obslog is the process-wide structured logging sink. Every
// protocol component logs through here rather than reaching for fmt or
// the standard log package, so a run's log lines are consistently
// tagged with the run id of the role that wrote them.
package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry pre-populated with a run id. Components
// derive scoped children from it with With.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger for the given run id, logging text-formatted lines
// to stderr so stdout stays free for the final decision line.
func New(runID string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: base.WithField("run_id", runID)}
}

// With returns a child Logger with additional fields merged in, e.g.
// component-scoped fields like round or own_id.
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
