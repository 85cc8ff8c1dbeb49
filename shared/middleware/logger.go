package middleware

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	QUIET
)

var (
	loggerMu        sync.RWMutex
	currentLogLevel LogLevel = INFO
	logger                   = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// SetLogLevel sets the current logging level
func SetLogLevel(level LogLevel) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	currentLogLevel = level
	logger = logger.Level(level.zerologLevel())
}

// ParseLogLevel converts a level name into a LogLevel, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "quiet":
		return QUIET
	default:
		return INFO
	}
}

// SetLogLevelFromString sets the log level from a string
func SetLogLevelFromString(level string) {
	SetLogLevel(ParseLogLevel(level))
}

// SetLogOutput redirects log events, e.g. to a zerolog.ConsoleWriter for local runs
func SetLogOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger().Level(currentLogLevel.zerologLevel())
}

func event(level LogLevel) *zerolog.Event {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if level < currentLogLevel {
		return nil
	}
	switch level {
	case DEBUG:
		return logger.Debug()
	case INFO:
		return logger.Info()
	case WARN:
		return logger.Warn()
	default:
		return logger.Error()
	}
}

func logf(level LogLevel, component, message string, args ...interface{}) {
	e := event(level)
	if e == nil {
		return
	}
	e.Str("component", component).Msgf(message, args...)
}

// LogDebug logs a debug message
func LogDebug(component, message string, args ...interface{}) {
	logf(DEBUG, component, message, args...)
}

// LogInfo logs an info message
func LogInfo(component, message string, args ...interface{}) {
	logf(INFO, component, message, args...)
}

// LogWarn logs a warning message
func LogWarn(component, message string, args ...interface{}) {
	logf(WARN, component, message, args...)
}

// LogError logs an error message
func LogError(component, message string, args ...interface{}) {
	logf(ERROR, component, message, args...)
}

// LogSuccess logs a success message (always shown)
func LogSuccess(message string, args ...interface{}) {
	fmt.Printf("[SUCCESS] %s\n", fmt.Sprintf(message, args...))
}

// InitLogger initializes the logger with environment variables
func InitLogger() {
	// LOG_FORMAT=console switches to human readable output
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		SetLogOutput(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		SetLogLevelFromString(logLevel)
	}
}
