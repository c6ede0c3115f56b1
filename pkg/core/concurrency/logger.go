package concurrency

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// simpleLogger is a minimal logger interface to avoid import cycles
// This allows concurrency package to log errors without importing core
type simpleLogger interface {
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// defaultSimpleLogger implements simpleLogger using standard log
type defaultSimpleLogger struct {
	errorLogger *log.Logger
	debugLogger *log.Logger
}

func newDefaultSimpleLogger() simpleLogger {
	return &defaultSimpleLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
	}
}

func (l *defaultSimpleLogger) Errorf(format string, args ...interface{}) {
	l.errorLogger.Output(3, fmt.Sprintf(format, args...))
}

func (l *defaultSimpleLogger) Debugf(format string, args ...interface{}) {
	l.debugLogger.Output(3, fmt.Sprintf(format, args...))
}

// loggerBox keeps atomic.Value happy across differing logger types.
type loggerBox struct {
	l simpleLogger
}

var packageLogger atomic.Value // loggerBox

func init() {
	packageLogger.Store(loggerBox{newDefaultSimpleLogger()})
}

// SetLogger swaps the logger used by pools and workers in this package.
func SetLogger(l interface {
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}) {
	if l != nil {
		packageLogger.Store(loggerBox{l})
	}
}

func logger() simpleLogger {
	return packageLogger.Load().(loggerBox).l
}
