// Package logging provides config-driven categorized file-based logging for shopops.
// Logs are written to <workspace>/.shopops/logs/ with separate files per category.
// Logging is controlled by logging.debug_mode in the agent config - when false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Boot/initialization
	CategoryFeed      Category = "feed"      // Change feed subscriptions and reconnects
	CategoryPrint     Category = "print"     // Print job processing
	CategoryDispatch  Category = "dispatch"  // Outbound message dispatch
	CategoryCommand   Category = "command"   // Control document commands
	CategoryAssistant Category = "assistant" // Conversation orchestration
	CategoryTools     Category = "tools"     // Tool execution
	CategoryStore     Category = "store"     // Document store operations
	CategoryAPI       Category = "api"       // LLM API calls
	CategoryTransport Category = "transport" // Messaging transport lifecycle
	CategoryTactile   Category = "tactile"   // Child process execution
)

// Settings mirrors config.LoggingConfig to avoid circular imports.
type Settings struct {
	DebugMode  bool
	Categories map[string]bool
	Level      string
	JSONFormat bool
}

// StructuredLogEntry represents a JSON log line.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	settings  Settings
	configMu  sync.RWMutex
	logLevel  int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory under the workspace.
// Should be called once at startup.
func Initialize(workspace string, s Settings) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	configMu.Lock()
	settings = s
	logLevel = parseLevel(s.Level)
	logsDir = filepath.Join(workspace, ".shopops", "logs")
	configMu.Unlock()

	if !s.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== shopops logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", s.Level)
	if len(s.Categories) > 0 {
		enabled := 0
		for _, on := range s.Categories {
			if on {
				enabled++
			}
		}
		boot.Info("Enabled categories: %d/%d", enabled, len(s.Categories))
	} else {
		boot.Info("All categories enabled (no category filter)")
	}
	return nil
}

func parseLevel(level string) int {
	switch level {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// categoryEnabled reports whether file logging is on for category. Categories
// missing from the filter are enabled.
func categoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !categoryEnabled(category) {
		return &Logger{category: category}
	}

	configMu.RLock()
	dir := logsDir
	configMu.RUnlock()
	if dir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func jsonFormat() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return settings.JSONFormat
}

func currentLevel() int {
	configMu.RLock()
	defer configMu.RUnlock()
	return logLevel
}

func (l *Logger) write(level int, name, requestID, msg string, fields map[string]interface{}) {
	if l.logger == nil || currentLevel() > level {
		return
	}
	if jsonFormat() {
		entry := StructuredLogEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     name,
			Message:   msg,
			RequestID: requestID,
			Fields:    fields,
		}
		if data, err := json.Marshal(entry); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	if requestID != "" {
		msg = "[req:" + requestID + "] " + msg
	}
	if len(fields) > 0 {
		l.logger.Printf("[%s] %s | fields=%v", levelTag(name), msg, fields)
		return
	}
	l.logger.Printf("[%s] %s", levelTag(name), msg)
}

func levelTag(name string) string {
	switch name {
	case "debug":
		return "DEBUG"
	case "warn":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "debug", "", fmt.Sprintf(format, args...), nil)
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "info", "", fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "warn", "", fmt.Sprintf(format, args...), nil)
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "error", "", fmt.Sprintf(format, args...), nil)
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootError logs error to the boot category
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

// Feed logs to the feed category
func Feed(format string, args ...interface{}) { Get(CategoryFeed).Info(format, args...) }

// FeedDebug logs debug to the feed category
func FeedDebug(format string, args ...interface{}) { Get(CategoryFeed).Debug(format, args...) }

// FeedWarn logs warning to the feed category
func FeedWarn(format string, args ...interface{}) { Get(CategoryFeed).Warn(format, args...) }

// Print logs to the print category
func Print(format string, args ...interface{}) { Get(CategoryPrint).Info(format, args...) }

// PrintDebug logs debug to the print category
func PrintDebug(format string, args ...interface{}) { Get(CategoryPrint).Debug(format, args...) }

// PrintError logs error to the print category
func PrintError(format string, args ...interface{}) { Get(CategoryPrint).Error(format, args...) }

// Dispatch logs to the dispatch category
func Dispatch(format string, args ...interface{}) { Get(CategoryDispatch).Info(format, args...) }

// DispatchWarn logs warning to the dispatch category
func DispatchWarn(format string, args ...interface{}) { Get(CategoryDispatch).Warn(format, args...) }

// DispatchError logs error to the dispatch category
func DispatchError(format string, args ...interface{}) {
	Get(CategoryDispatch).Error(format, args...)
}

// Command logs to the command category
func Command(format string, args ...interface{}) { Get(CategoryCommand).Info(format, args...) }

// CommandError logs error to the command category
func CommandError(format string, args ...interface{}) { Get(CategoryCommand).Error(format, args...) }

// AssistantDebug logs debug to the assistant category
func AssistantDebug(format string, args ...interface{}) {
	Get(CategoryAssistant).Debug(format, args...)
}

// AssistantWarn logs warning to the assistant category
func AssistantWarn(format string, args ...interface{}) {
	Get(CategoryAssistant).Warn(format, args...)
}

// AssistantError logs error to the assistant category
func AssistantError(format string, args ...interface{}) {
	Get(CategoryAssistant).Error(format, args...)
}

// ToolsDebug logs debug to the tools category
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debug(format, args...) }

// ToolsWarn logs warning to the tools category
func ToolsWarn(format string, args ...interface{}) { Get(CategoryTools).Warn(format, args...) }

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// APIError logs error to the api category
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

// Transport logs to the transport category
func Transport(format string, args ...interface{}) { Get(CategoryTransport).Info(format, args...) }

// TransportWarn logs warning to the transport category
func TransportWarn(format string, args ...interface{}) {
	Get(CategoryTransport).Warn(format, args...)
}

// TactileDebug logs debug to the tactile category
func TactileDebug(format string, args ...interface{}) { Get(CategoryTactile).Debug(format, args...) }

// TactileWarn logs warning to the tactile category
func TactileWarn(format string, args ...interface{}) { Get(CategoryTactile).Warn(format, args...) }

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// RequestLogger tags every line with a correlation id: the item id for print
// jobs and messages, the normalized sender for assistant turns.
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
	}
}

// WithField returns a copy of the logger carrying an extra field.
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	fields := make(map[string]interface{}, len(r.fields)+1)
	for k, v := range r.fields {
		fields[k] = v
	}
	fields[key] = value
	return &RequestLogger{logger: r.logger, requestID: r.requestID, fields: fields}
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	r.logger.write(LevelDebug, "debug", r.requestID, fmt.Sprintf(format, args...), r.fields)
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	r.logger.write(LevelInfo, "info", r.requestID, fmt.Sprintf(format, args...), r.fields)
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	r.logger.write(LevelWarn, "warn", r.requestID, fmt.Sprintf(format, args...), r.fields)
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	r.logger.write(LevelError, "error", r.requestID, fmt.Sprintf(format, args...), r.fields)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
