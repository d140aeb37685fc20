// Package logging provides unified structured logging for the presence core.
package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents logging severity.
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

const (
	DefaultMaxLogSize   = 10 * 1024 * 1024 // 10MB
	DefaultMaxRotations = 3
)

var levelNames = map[LogLevel]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var levelFromString = map[string]LogLevel{
	"TRACE": TRACE,
	"DEBUG": DEBUG,
	"INFO":  INFO,
	"WARN":  WARN,
	"ERROR": ERROR,
	"FATAL": FATAL,
}

// Logger is the presence core's structured logger: module-scoped tracing,
// level filtering, JSON file sink plus a human-readable console sink.
type Logger struct {
	level        LogLevel
	traceModules map[string]bool
	file         *os.File
	mu           sync.RWMutex
	processID    int
	logPath      string
	maxSize      int64
	maxRotations int
}

// Entry is a single structured log record.
type Entry struct {
	Timestamp   string                 `json:"timestamp"`
	ProcessID   int                    `json:"process_id"`
	GoroutineID string                 `json:"goroutine_id"`
	Level       string                 `json:"level"`
	Function    string                 `json:"function"`
	File        string                 `json:"file"`
	Line        int                    `json:"line"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger. Safe to call once; subsequent calls
// are no-ops (mirrors the teacher's InitLogger/once.Do pattern).
func Init(logDir string, level LogLevel, traceModules []string) error {
	var err error
	once.Do(func() {
		defaultLogger, err = New(logDir, level, traceModules)
	})
	return err
}

// New builds a standalone logger instance (used by tests that don't want to
// touch the process-global logger).
func New(logDir string, level LogLevel, traceModules []string) (*Logger, error) {
	var file *os.File
	var logPath string

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		logPath = filepath.Join(logDir, "presencecore.log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
	}

	traceMap := make(map[string]bool)
	for _, module := range traceModules {
		traceMap[strings.ToLower(module)] = true
	}

	return &Logger{
		level:        level,
		traceModules: traceMap,
		file:         file,
		processID:    os.Getpid(),
		logPath:      logPath,
		maxSize:      DefaultMaxLogSize,
		maxRotations: DefaultMaxRotations,
	}, nil
}

// Get returns the global logger, lazily falling back to a console-only
// logger if Init was never called (e.g. in unit tests).
func Get() *Logger {
	if defaultLogger == nil {
		logger, _ := New("", INFO, nil)
		return logger
	}
	return defaultLogger
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) SetLevelFromString(levelStr string) error {
	level, ok := levelFromString[strings.ToUpper(levelStr)]
	if !ok {
		return fmt.Errorf("invalid log level: %s", levelStr)
	}
	l.SetLevel(level)
	return nil
}

func (l *Logger) EnableTrace(modules []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range modules {
		l.traceModules[strings.ToLower(m)] = true
	}
}

func (l *Logger) DisableTrace(modules []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range modules {
		delete(l.traceModules, strings.ToLower(m))
	}
}

func (l *Logger) log(level LogLevel, message string, data map[string]interface{}) {
	l.mu.RLock()
	enabled := level >= l.level
	l.mu.RUnlock()
	if !enabled {
		return
	}

	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "unknown"
	}
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = filepath.Base(fn.Name())
	}
	fileName := filepath.Base(file)

	entry := Entry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		ProcessID:   l.processID,
		GoroutineID: goroutineID(),
		Level:       levelNames[level],
		Function:    funcName,
		File:        strings.TrimSuffix(fileName, filepath.Ext(fileName)),
		Line:        line,
		Message:     message,
		Data:        data,
	}
	l.writeEntry(entry, level)
}

// Trace logs a message only when the named module has tracing enabled.
func (l *Logger) Trace(module, message string, data ...map[string]interface{}) {
	l.mu.RLock()
	enabled := l.traceModules[strings.ToLower(module)]
	l.mu.RUnlock()
	if !enabled {
		return
	}
	dataMap := firstOrNil(data)
	if dataMap == nil {
		dataMap = map[string]interface{}{}
	}
	dataMap["trace_module"] = module
	l.log(TRACE, message, dataMap)
}

func (l *Logger) Debug(message string, data ...map[string]interface{}) {
	l.log(DEBUG, message, firstOrNil(data))
}

func (l *Logger) Info(message string, data ...map[string]interface{}) {
	l.log(INFO, message, firstOrNil(data))
}

func (l *Logger) Warn(message string, data ...map[string]interface{}) {
	l.log(WARN, message, firstOrNil(data))
}

func (l *Logger) Error(message string, data ...map[string]interface{}) {
	l.log(ERROR, message, firstOrNil(data))
}

func (l *Logger) Fatal(message string, data ...map[string]interface{}) {
	l.log(FATAL, message, firstOrNil(data))
	os.Exit(1)
}

func firstOrNil(data []map[string]interface{}) map[string]interface{} {
	if len(data) > 0 {
		return data[0]
	}
	return nil
}

func (l *Logger) writeEntry(entry Entry, level LogLevel) {
	console := fmt.Sprintf("%s [%d:%s] [%s] %s.%s:%d %s",
		entry.Timestamp[:19], entry.ProcessID, entry.GoroutineID,
		entry.Level, entry.Function, entry.File, entry.Line, entry.Message)

	if len(entry.Data) > 0 {
		if dataStr, err := json.Marshal(entry.Data); err == nil {
			console += " " + string(dataStr)
		}
	}

	if level >= ERROR {
		fmt.Fprintln(os.Stderr, console)
	} else {
		fmt.Fprintln(os.Stdout, console)
	}

	if l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if jsonData, err := json.Marshal(entry); err == nil {
		l.file.Write(jsonData)
		l.file.Write([]byte("\n"))
		l.checkRotation()
	}
}

// goroutineID parses the numeric id out of a short stack trace. Best-effort;
// used only to correlate concurrent log lines, never as a stable identifier.
func goroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if idx := strings.Index(stack, " "); idx > 0 {
		return stack[:idx]
	}
	return "main"
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) checkRotation() {
	if l.file == nil || l.logPath == "" {
		return
	}
	stat, err := l.file.Stat()
	if err != nil {
		return
	}
	if stat.Size() >= l.maxSize {
		l.rotateLog()
	}
}

func (l *Logger) rotateLog() {
	l.file.Close()

	for i := l.maxRotations; i > 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", l.logPath, i-1)
		newPath := fmt.Sprintf("%s.%d", l.logPath, i)
		if i == l.maxRotations {
			os.Remove(newPath)
		}
		os.Rename(oldPath, newPath)
	}
	os.Rename(l.logPath, l.logPath+".1")

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.file = nil
		return
	}
	l.file = file
	l.Info("log rotation completed", map[string]interface{}{
		"max_size_mb":   l.maxSize / (1024 * 1024),
		"max_rotations": l.maxRotations,
	})
}

// Package-level convenience wrappers over the global logger.

func Trace(module, message string, data ...map[string]interface{}) {
	Get().Trace(module, message, data...)
}
func Debug(message string, data ...map[string]interface{}) { Get().Debug(message, data...) }
func Info(message string, data ...map[string]interface{})  { Get().Info(message, data...) }
func Warn(message string, data ...map[string]interface{})  { Get().Warn(message, data...) }
func Error(message string, data ...map[string]interface{}) { Get().Error(message, data...) }
func Fatal(message string, data ...map[string]interface{}) { Get().Fatal(message, data...) }

func SetLevel(level LogLevel)                  { Get().SetLevel(level) }
func SetLevelFromString(levelStr string) error { return Get().SetLevelFromString(levelStr) }
func EnableTrace(modules []string)             { Get().EnableTrace(modules) }
func DisableTrace(modules []string)            { Get().DisableTrace(modules) }

func IsTraceEnabled(module string) bool {
	l := Get()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.traceModules[strings.ToLower(module)]
}

func IsDebugEnabled() bool {
	l := Get()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level <= DEBUG
}

// ReadLastEntries reads the tail of the current (and, if needed, rotated)
// log files, newest entries last.
func ReadLastEntries(count int) ([]Entry, error) {
	l := Get()
	if l.logPath == "" {
		return nil, fmt.Errorf("log file path not configured")
	}

	var entries []Entry
	if fileEntries, err := readEntriesFromFile(l.logPath, count); err == nil {
		entries = append(entries, fileEntries...)
	}
	read := len(entries)
	for i := 1; i <= l.maxRotations && read < count; i++ {
		rotated := fmt.Sprintf("%s.%d", l.logPath, i)
		if fileEntries, err := readEntriesFromFile(rotated, count-read); err == nil {
			entries = append(fileEntries, entries...)
			read += len(fileEntries)
		}
	}
	if len(entries) > count {
		entries = entries[len(entries)-count:]
	}
	return entries, nil
}

func readEntriesFromFile(path string, maxCount int) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	start := 0
	if len(lines) > maxCount {
		start = len(lines) - maxCount
	}

	var entries []Entry
	for i := start; i < len(lines); i++ {
		var e Entry
		if err := json.Unmarshal([]byte(lines[i]), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}
