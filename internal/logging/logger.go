// Package logging provides config-driven categorized file logging for
// pagespin. Logs are written to .pagespin/logs/ with one file per category
// per day. When debug mode is off in .pagespin/config.yaml, every logger is
// a silent no-op so the TUI never pays for formatting.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category names a log stream.
type Category string

const (
	CategoryBoot     Category = "boot"     // startup, config, shutdown
	CategorySession  Category = "session"  // session registry, dispatch
	CategoryPipeline Category = "pipeline" // scrape/spin/review orchestration
	CategoryBrowser  Category = "browser"  // headless Chrome, extraction
	CategoryAPI      Category = "api"      // Gemini calls
	CategoryStore    Category = "store"    // version store operations
	CategoryReward   Category = "reward"   // reward relay
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// loggingConfig mirrors config.LoggingConfig to avoid a circular import
// with internal/config.
type loggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger writes to one category's file. A Logger with a nil inner logger
// is a no-op.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	configMu sync.RWMutex
	cfg      loggingConfig
	logsDir  string
	logLevel int
)

// Initialize loads the logging section of the workspace config and, when
// debug mode is enabled, prepares the log directory. Safe to call again
// after a config reload.
func Initialize(workspace string) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	if err := loadConfig(workspace); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not load config: %v\n", err)
	}

	configMu.RLock()
	enabled := cfg.Debug
	configMu.RUnlock()
	if !enabled {
		return nil
	}

	dir := filepath.Join(workspace, ".pagespin", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}
	configMu.Lock()
	logsDir = dir
	configMu.Unlock()

	Boot("=== pagespin logging initialized ===")
	Boot("logs directory: %s", dir)
	return nil
}

func loadConfig(workspace string) error {
	configMu.Lock()
	defer configMu.Unlock()

	data, err := os.ReadFile(filepath.Join(workspace, ".pagespin", "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			cfg = loggingConfig{}
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	cfg = cf.Logging

	switch cfg.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// Reload re-reads the logging config. Used by the config watcher.
func Reload(workspace string) error {
	if err := loadConfig(workspace); err != nil {
		return err
	}
	configMu.RLock()
	enabled := cfg.Debug
	dir := logsDir
	configMu.RUnlock()
	if enabled && dir == "" {
		return Initialize(workspace)
	}
	if !enabled {
		// Drop open loggers so future Gets become no-ops.
		CloseAll()
	}
	return nil
}

// IsDebugMode reports whether file logging is active.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return cfg.Debug
}

func isCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if !cfg.Debug {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, ok := cfg.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category. Disabled categories
// get a no-op logger.
func Get(category Category) *Logger {
	if !isCategoryEnabled(category) {
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
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open %s: %v\n", name, err)
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

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] "+format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] "+format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] "+format, args...)
}

// Error logs at error level. Always written when the logger exists.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] "+format, args...)
}

// CloseAll closes open log files. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience functions. No-ops when the category is disabled.

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Session logs to the session category.
func Session(format string, args ...interface{}) { Get(CategorySession).Info(format, args...) }

// SessionDebug logs debug to the session category.
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }

// Pipeline logs to the pipeline category.
func Pipeline(format string, args ...interface{}) { Get(CategoryPipeline).Info(format, args...) }

// PipelineError logs an error to the pipeline category.
func PipelineError(format string, args ...interface{}) { Get(CategoryPipeline).Error(format, args...) }

// Browser logs to the browser category.
func Browser(format string, args ...interface{}) { Get(CategoryBrowser).Info(format, args...) }

// BrowserError logs an error to the browser category.
func BrowserError(format string, args ...interface{}) { Get(CategoryBrowser).Error(format, args...) }

// API logs to the api category.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category.
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// APIError logs an error to the api category.
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreError logs an error to the store category.
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// Reward logs to the reward category.
func Reward(format string, args ...interface{}) { Get(CategoryReward).Info(format, args...) }

// RewardWarn logs a warning to the reward category.
func RewardWarn(format string, args ...interface{}) { Get(CategoryReward).Warn(format, args...) }
