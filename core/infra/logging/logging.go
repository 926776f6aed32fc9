package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	envLogFormat = "FLOWLINE_LOG_FORMAT"
	envLogLevel  = "FLOWLINE_LOG_LEVEL"
	rootName     = "flowline"
)

var (
	mu     sync.Mutex
	root   hclog.Logger
	output io.Writer = os.Stderr
)

// SetOutput redirects all loggers to w and re-reads the format and level
// environment on next use.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
	root = nil
}

// Named returns the hclog logger for a component.
func Named(component string) hclog.Logger {
	return base().Named(component)
}

// Debug logs at debug level with key/value fields.
func Debug(component, msg string, kv ...interface{}) {
	Named(component).Debug(msg, kv...)
}

// Info logs a message with key/value fields.
func Info(component, msg string, kv ...interface{}) {
	Named(component).Info(msg, kv...)
}

// Warn logs a warning with key/value fields.
func Warn(component, msg string, kv ...interface{}) {
	Named(component).Warn(msg, kv...)
}

// Error logs an error message with key/value fields.
func Error(component, msg string, kv ...interface{}) {
	Named(component).Error(msg, kv...)
}

func base() hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = hclog.New(&hclog.LoggerOptions{
			Name:       rootName,
			Output:     output,
			Level:      levelFromEnv(),
			JSONFormat: strings.EqualFold(strings.TrimSpace(os.Getenv(envLogFormat)), "json"),
			TimeFormat: time.RFC3339,
		})
	}
	return root
}

func levelFromEnv() hclog.Level {
	lvl := hclog.LevelFromString(strings.TrimSpace(os.Getenv(envLogLevel)))
	if lvl == hclog.NoLevel {
		return hclog.Info
	}
	return lvl
}
