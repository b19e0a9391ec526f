// Package logger provides the structured, process-wide logger used for
// operational diagnostics. It is kept strictly separate from the
// protocol-mandated stdout report (see internal/report): nothing written
// through this package is part of the wire-compatible output cb-replay
// tooling parses.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a thread-safe wrapper around a logrus.Logger. The acceptor
// and each re-exec'd monitor process build their own instance.
type Logger struct {
	mu  sync.Mutex
	log *logrus.Logger
}

// New builds a Logger writing to out at the given level. An empty level
// string defaults to "info".
func New(out io.Writer, level string) (*Logger, error) {
	if out == nil {
		out = os.Stderr
	}

	lvl, err := logrus.ParseLevel(levelOrDefault(level))
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &Logger{log: l}, nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

// WithFields returns an entry carrying the given fields for every
// subsequent call, the way proxyConnection in lxd-user tags a connection's
// logs with uid/gid/pid. Callers thread a Context through a connection's
// lifetime instead of repeating the fields at every call site.
func (l *Logger) WithFields(fields logrus.Fields) *Context {
	return &Context{parent: l, fields: fields}
}

func (l *Logger) log_(level logrus.Level, msg string, fields logrus.Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.log.WithFields(fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.InfoLevel:
		entry.Info(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.FatalLevel:
		entry.Fatal(msg)
	default:
		entry.Info(msg)
	}
}

func (l *Logger) Debug(msg string, fields logrus.Fields) { l.log_(logrus.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields logrus.Fields)  { l.log_(logrus.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields logrus.Fields)  { l.log_(logrus.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields logrus.Fields) { l.log_(logrus.ErrorLevel, msg, fields) }
func (l *Logger) Fatal(msg string, fields logrus.Fields) { l.log_(logrus.FatalLevel, msg, fields) }

// Context is a Logger bound to a fixed set of fields, e.g. the
// connection ID, peer address and monitor PID for one instance's lifetime.
type Context struct {
	parent *Logger
	fields logrus.Fields
}

// With returns a new Context with extra fields merged in.
func (c *Context) With(fields logrus.Fields) *Context {
	merged := make(logrus.Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Context{parent: c.parent, fields: merged}
}

func (c *Context) Debug(msg string) { c.parent.log_(logrus.DebugLevel, msg, c.fields) }
func (c *Context) Info(msg string)  { c.parent.log_(logrus.InfoLevel, msg, c.fields) }
func (c *Context) Warn(msg string)  { c.parent.log_(logrus.WarnLevel, msg, c.fields) }
func (c *Context) Error(msg string) { c.parent.log_(logrus.ErrorLevel, msg, c.fields) }
