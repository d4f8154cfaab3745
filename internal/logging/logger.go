// Package logging provides categorized logging for cothink.
// Each subsystem logs under its own category; categories map to named
// zap loggers sharing one file sink under the state directory. Debug
// output is gated globally so production runs stay quiet.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup and wiring
	CategorySession     Category = "session"     // Session registry lifecycle
	CategoryStore       Category = "store"       // Pattern store operations
	CategoryRecall      Category = "recall"      // Semantic recall index
	CategoryEmbedding   Category = "embedding"   // Embedding engine
	CategoryPipeline    Category = "pipeline"    // Signal pipeline
	CategoryMethodology Category = "methodology" // Partner-mode state machine
	CategoryAPI         Category = "api"         // Collaborator calls (LLM, classifier)
)

var (
	mu        sync.RWMutex
	base      *zap.SugaredLogger
	loggers   = make(map[Category]*zap.SugaredLogger)
	debugMode bool
)

// Initialize sets up the shared zap core. Logs are written to
// <stateDir>/logs/cothink.log; when stateDir is empty only stderr is used.
// Safe to call more than once; the last call wins.
func Initialize(stateDir string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sinks := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), zapcore.ErrorLevel),
	}

	if stateDir != "" {
		logDir := filepath.Join(stateDir, "logs")
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logDir, "cothink.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sinks = append(sinks, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), level))
	}

	logger := zap.New(zapcore.NewTee(sinks...))
	base = logger.Sugar()
	loggers = make(map[Category]*zap.SugaredLogger)
	debugMode = debug
	return nil
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugMode
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	if base == nil {
		// Not initialized; fall back to a no-op logger so callers never nil-check.
		base = zap.NewNop().Sugar()
	}
	l = base.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes all buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		_ = base.Sync()
	}
}

// Convenience helpers per category, matching call sites like
// logging.Store("saved pattern %s", kind).

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Infof(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debugf(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Infof(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debugf(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Infof(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debugf(format, args...) }

func Recall(format string, args ...interface{})      { Get(CategoryRecall).Infof(format, args...) }
func RecallDebug(format string, args ...interface{}) { Get(CategoryRecall).Debugf(format, args...) }

func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Infof(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debugf(format, args...) }

func Methodology(format string, args ...interface{}) {
	Get(CategoryMethodology).Infof(format, args...)
}
func MethodologyDebug(format string, args ...interface{}) {
	Get(CategoryMethodology).Debugf(format, args...)
}

func API(format string, args ...interface{})      { Get(CategoryAPI).Infof(format, args...) }
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debugf(format, args...) }

// Timer measures operation durations for performance logging.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugf("%s completed in %s", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs at warn level when the operation exceeded the
// threshold, otherwise at debug level.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warnf("%s took %s (threshold %s)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debugf("%s completed in %s", t.op, elapsed)
	}
	return elapsed
}
