package membership

import (
	"log"
	"os"
)

// Logger is the small leveled-logging interface every component logs
// through. The default implementation wraps the standard library's
// log.Logger, matching the teacher's own log.Printf/log.Fatalf call
// sites; tests pass nopLogger instead.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// StdLogger is a Logger backed by the standard library's log package.
type StdLogger struct {
	*log.Logger
	debug bool
}

// NewStdLogger returns a Logger writing to stderr with a "peerview: "
// prefix, as the teacher's cmd/server/main.go configures for its own
// log output.
func NewStdLogger(debug bool) *StdLogger {
	return &StdLogger{
		Logger: log.New(os.Stderr, "peerview: ", log.LstdFlags),
		debug:  debug,
	}
}

func (l *StdLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		l.Printf("DEBUG "+format, args...)
	}
}

func (l *StdLogger) Infof(format string, args ...interface{}) {
	l.Printf("INFO "+format, args...)
}

func (l *StdLogger) Warnf(format string, args ...interface{}) {
	l.Printf("WARN "+format, args...)
}

func (l *StdLogger) Errorf(format string, args ...interface{}) {
	l.Printf("ERROR "+format, args...)
}

// nopLogger discards everything; used as a safe default when no Logger
// is supplied and in tests that don't care about log output.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
