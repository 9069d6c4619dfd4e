package logger

import (
	"io"
	"log"
	"os"

	"go.uber.org/atomic"
)

var (
	infoLogger  = log.New(os.Stdout, "INFO:  ", log.Ldate|log.Ltime)
	debugLogger = log.New(os.Stdout, "DEBUG: ", log.Ldate|log.Ltime)
	warnLogger  = log.New(os.Stderr, "WARN:  ", log.Ldate|log.Ltime)
	errorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime)
	fatalLogger = log.New(os.Stderr, "FATAL: ", log.Ldate|log.Ltime)

	debugEnabled = atomic.NewBool(false)
)

// SetDebug enables or disables DEBUG output
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// SetOutput redirects every level to w (tests use this to capture or silence logs)
func SetOutput(w io.Writer) {
	for _, l := range []*log.Logger{infoLogger, debugLogger, warnLogger, errorLogger, fatalLogger} {
		l.SetOutput(w)
	}
}

// Info logs informational messages to stdout
func Info(format string, v ...interface{}) {
	infoLogger.Printf(format, v...)
}

// Debug logs diagnostic messages to stdout when debug output is enabled
func Debug(format string, v ...interface{}) {
	if debugEnabled.Load() {
		debugLogger.Printf(format, v...)
	}
}

// Warn logs warning messages to stderr
func Warn(format string, v ...interface{}) {
	warnLogger.Printf(format, v...)
}

// Error logs error messages to stderr
func Error(format string, v ...interface{}) {
	errorLogger.Printf(format, v...)
}

// Fatal logs fatal error messages to stderr and exits with status 1
func Fatal(format string, v ...interface{}) {
	fatalLogger.Printf(format, v...)
	os.Exit(1)
}

// Logger prefixes every message with a component name, e.g. "[dispatch:bg] ..."
type Logger struct {
	prefix string
}

// Named returns a component logger
func Named(component string) *Logger {
	return &Logger{prefix: "[" + component + "] "}
}

func (l *Logger) Info(format string, v ...interface{})  { Info(l.prefix+format, v...) }
func (l *Logger) Debug(format string, v ...interface{}) { Debug(l.prefix+format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { Warn(l.prefix+format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { Error(l.prefix+format, v...) }
