// Package logging is a process-wide, dependency-free logger wrapping the
// standard library's log.Logger. It additionally supports hooks so other
// in-process consumers (the log history ring) can mirror every line the
// orchestrator emits.
package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
)

var (
	disabled = false
	logger   = log.New(os.Stdout, "", log.LstdFlags)

	hooksMu sync.RWMutex
	hooks   []Hook
)

// Hook receives every log line emitted through this package, after the
// level and message have been formatted. Implementations must not block.
type Hook interface {
	Handle(level, message string)
}

// AddHook registers a hook. Hooks are called synchronously in registration
// order; a slow hook slows down every log call.
func AddHook(h Hook) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, h)
}

func fire(level, message string) {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	for _, h := range hooks {
		h.Handle(level, message)
	}
}

// Disable turns off all logging
func Disable() {
	disabled = true
}

// Enable turns logging back on
func Enable() {
	disabled = false
}

func emit(level string, v ...any) {
	msg := fmt.Sprintln(v...)
	if !disabled {
		logger.Println(msg)
	}
	fire(level, msg)
}

func emitf(level, format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	if !disabled {
		logger.Println(msg)
	}
	fire(level, msg)
}

// Info logs an info message
func Info(v ...any) { emit("INFO", v...) }

// Infof logs a formatted info message
func Infof(format string, v ...any) { emitf("INFO", format, v...) }

// Error logs an error message
func Error(v ...any) { emit("ERROR", v...) }

// Errorf logs a formatted error message
func Errorf(format string, v ...any) { emitf("ERROR", format, v...) }

// Warn logs a warning message
func Warn(v ...any) { emit("WARN", v...) }

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) { emitf("WARN", format, v...) }

// Debug logs a debug message (same as Info when not disabled)
func Debug(v ...any) { emit("DEBUG", v...) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) { emitf("DEBUG", format, v...) }

// Logger is a simple logger that can be embedded in structs
type Logger struct{}

// WithContext creates a new Logger (context is ignored, for API compatibility)
func WithContext(ctx context.Context) Logger {
	return Logger{}
}

// Info logs an info message
func (l Logger) Info(v ...any) { Info(v...) }

// Infof logs a formatted info message
func (l Logger) Infof(format string, v ...any) { Infof(format, v...) }

// Error logs an error message
func (l Logger) Error(v ...any) { Error(v...) }

// Errorf logs a formatted error message
func (l Logger) Errorf(format string, v ...any) { Errorf(format, v...) }

// Warn logs a warning message
func (l Logger) Warn(v ...any) { Warn(v...) }

// Warnf logs a formatted warning message
func (l Logger) Warnf(format string, v ...any) { Warnf(format, v...) }
