// Package logger provides a configurable logger that can write to multiple outputs.
// Init must be called early in the application lifecycle before using other logger functions.
// Functions like AddOutput and SetEnabled will return errors if called before Init.
//
// Lines are written as "[peer] [LEVEL] message". LogBufferWriter parses that
// shape back into LogEntry values for the TUI and the admin API.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel accepts the names produced by Level.String, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger is a configurable logger that can write to multiple outputs
type Logger struct {
	mu       sync.Mutex
	outputs  []io.Writer
	prefix   string
	enabled  bool
	minLevel Level
}

var (
	globalLogger *Logger
	once         sync.Once
	globalBuffer *LogBuffer
	bufferOnce   sync.Once
)

var errNotInitialized = errors.New("logger not initialized: call logger.Init() first")

// GetGlobalLogBuffer returns the global log buffer
func GetGlobalLogBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		globalBuffer = NewLogBuffer(1000) // Keep last 1000 log entries
	})
	return globalBuffer
}

// Init initializes the global logger. prefix tags lines that are not logged
// on behalf of a specific peer.
func Init(prefix string, writeToStdout bool) {
	once.Do(func() {
		outputs := []io.Writer{}
		if writeToStdout {
			outputs = append(outputs, os.Stdout)
		}
		globalLogger = &Logger{
			outputs:  outputs,
			prefix:   prefix,
			enabled:  true,
			minLevel: LevelInfo,
		}
	})
}

// AddOutput adds an additional output writer (e.g., for TUI log buffer).
// Returns an error if called before Init.
func AddOutput(w io.Writer) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.outputs = append(globalLogger.outputs, w)
	return nil
}

// RemoveOutput removes an output writer.
// Returns an error if called before Init.
func RemoveOutput(w io.Writer) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	newOutputs := []io.Writer{}
	for _, output := range globalLogger.outputs {
		if output != w {
			newOutputs = append(newOutputs, output)
		}
	}
	globalLogger.outputs = newOutputs
	return nil
}

// SetEnabled enables or disables logging.
// Returns an error if called before Init.
func SetEnabled(enabled bool) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.enabled = enabled
	return nil
}

// SetLevel drops messages below level.
// Returns an error if called before Init.
func SetLevel(level Level) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.minLevel = level
	return nil
}

// write emits one line. An empty peer falls back to the logger prefix.
func write(level Level, peer string, tagged bool, format string, v ...interface{}) {
	if globalLogger == nil {
		// Fallback to standard log if not initialized
		if tagged {
			format = "[" + level.String() + "] " + format
		}
		if peer != "" {
			format = "[" + peer + "] " + format
		}
		log.Printf(format, v...)
		return
	}

	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	if !globalLogger.enabled || level < globalLogger.minLevel {
		return
	}

	msg := fmt.Sprintf(format, v...)
	// Remove trailing newline if present (we'll add it back)
	msg = strings.TrimSuffix(msg, "\n")

	if tagged {
		msg = "[" + level.String() + "] " + msg
	}
	if peer == "" {
		peer = globalLogger.prefix
	}
	if peer != "" {
		msg = fmt.Sprintf("[%s] %s", peer, msg)
	}

	if len(globalLogger.outputs) > 0 {
		msgWithNewline := []byte(msg + "\n")
		for _, output := range globalLogger.outputs {
			_, _ = output.Write(msgWithNewline)
		}
	}
}

// Printf logs a formatted message
func Printf(format string, v ...interface{}) {
	write(LevelInfo, "", false, format, v...)
}

// Print logs a message
func Print(v ...interface{}) {
	Printf("%s", fmt.Sprint(v...))
}

// Println logs a message with newline
func Println(v ...interface{}) {
	Printf("%s", fmt.Sprintln(v...))
}

// Debugf logs a debug-level formatted message
func Debugf(format string, v ...interface{}) {
	write(LevelDebug, "", true, format, v...)
}

// Infof logs an info-level formatted message
func Infof(format string, v ...interface{}) {
	write(LevelInfo, "", true, format, v...)
}

// Info logs an info-level message
func Info(v ...interface{}) {
	Infof("%s", fmt.Sprint(v...))
}

// Warnf logs a warn-level formatted message
func Warnf(format string, v ...interface{}) {
	write(LevelWarn, "", true, format, v...)
}

// Errorf logs an error-level formatted message
func Errorf(format string, v ...interface{}) {
	write(LevelError, "", true, format, v...)
}

// Error logs an error-level message
func Error(v ...interface{}) {
	Errorf("%s", fmt.Sprint(v...))
}

// ForPeer returns a printf-style function that logs at info level on behalf
// of peer. It is what the engine and transports receive as their Logf.
func ForPeer(peer string) func(format string, v ...interface{}) {
	return ForPeerAt(peer, LevelInfo)
}

// ForPeerAt is ForPeer with an explicit level.
func ForPeerAt(peer string, level Level) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		write(level, peer, true, format, v...)
	}
}

// GetGlobalLogger returns the global logger instance (for testing/debugging)
func GetGlobalLogger() *Logger {
	return globalLogger
}
