package fplog

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelCritical
	LevelError
	LevelFatal
)

var (
	mu           sync.Mutex
	currentLevel = LevelInfo
	logger       = log.New(os.Stderr, "", 0)
)

// SetLevel sets the minimum log level
func SetLevel(level int) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// SetOutput redirects all log output to w
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// ParseLevel maps a level name from the configuration to a level.
func ParseLevel(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "critical":
		return LevelCritical, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// getCallerInfo returns file and line information about the caller
func getCallerInfo() string {
	_, file, line, ok := runtime.Caller(3) // Skip getCallerInfo, output, and the log function
	if !ok {
		return "unknown:0"
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func output(level int, name string, format string, args []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if currentLevel > level {
		return
	}
	caller := getCallerInfo()
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	logger.Printf("%s [%s] %s - %s", timestamp, name, caller, fmt.Sprintf(format, args...))
}

// Debug logs debug messages
func Debug(format string, args ...interface{}) {
	output(LevelDebug, "DEBUG", format, args)
}

// Info logs informational messages
func Info(format string, args ...interface{}) {
	output(LevelInfo, "INFO", format, args)
}

// Warn logs warning messages
func Warn(format string, args ...interface{}) {
	output(LevelWarn, "WARN", format, args)
}

// Critical logs a rejected programmer or configuration input. The caller
// keeps running with its previous state.
func Critical(format string, args ...interface{}) {
	output(LevelCritical, "CRITICAL", format, args)
}

// Error logs error messages
func Error(format string, args ...interface{}) {
	output(LevelError, "ERROR", format, args)
}

// Fatal logs fatal messages and exits
func Fatal(format string, args ...interface{}) {
	output(LevelFatal, "FATAL", format, args)
	os.Exit(1)
}
