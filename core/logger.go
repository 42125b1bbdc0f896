package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel controls which messages a ProductionLogger emits.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLogLevel maps a configuration string to a LogLevel.
// Unknown values fall back to InfoLevel.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "info", "":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	}
	return "INFO"
}

// ProductionLogger writes structured log lines to a single writer.
// JSON format when running under Kubernetes (log aggregation), key=value text
// for local development. Thread-safe.
type ProductionLogger struct {
	level   LogLevel
	format  string
	service string
	output  io.Writer
	base    map[string]interface{}
	mu      sync.Mutex
}

// NewProductionLogger creates a logger for the given service name.
// Format auto-detects: JSON inside Kubernetes, text otherwise.
func NewProductionLogger(service string, level LogLevel) *ProductionLogger {
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	return &ProductionLogger{
		level:   level,
		format:  format,
		service: service,
		output:  os.Stdout,
	}
}

// WithFields returns a logger that includes fields on every line.
func (l *ProductionLogger) WithFields(fields map[string]interface{}) *ProductionLogger {
	merged := make(map[string]interface{}, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ProductionLogger{
		level:   l.level,
		format:  l.format,
		service: l.service,
		output:  l.output,
		base:    merged,
	}
}

// SetOutput redirects log output. Used by tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, msg, fields)
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(WarnLevel, msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, msg, fields)
}

func (l *ProductionLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(l.base)+len(fields)+4)
	for k, v := range l.base {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["service"] = l.service
	entry["message"] = msg

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.output, "%s [%s] %s (log marshal failed: %v)\n",
				entry["timestamp"], level.String(), msg, err)
			return
		}
		fmt.Fprintln(l.output, string(data))
		return
	}

	// Text format: timestamp [LEVEL] message key=value ...
	var parts []string
	parts = append(parts, fmt.Sprintf("%s [%s] %s", entry["timestamp"], level.String(), msg))

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "timestamp", "level", "message", "service":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, entry[k]))
	}
	fmt.Fprintln(l.output, strings.Join(parts, " "))
}

var _ Logger = (*ProductionLogger)(nil)
