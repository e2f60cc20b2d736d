package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"ssddetect/internal/config"
)

// Log files written under the configured log directory.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled printf-style logging to rotated per-level files
// and stderr. Stdout is left to command output.
type Logger struct {
	sugar  *zap.SugaredLogger
	logDir string
	files  map[string]*lumberjack.Logger
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	minLevel := parseLevel(cfg.LogLevel)
	l := &Logger{logDir: cfg.LogDirectory, files: make(map[string]*lumberjack.Logger)}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		CallerKey:      "caller",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.DateTime),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	infoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= minLevel && lvl < zapcore.WarnLevel
	})
	warningLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= minLevel && lvl == zapcore.WarnLevel
	})
	errorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= minLevel && lvl >= zapcore.ErrorLevel
	})
	consoleLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= minLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, l.rotatingWriter(InfoFile), infoLevel),
		zapcore.NewCore(encoder, l.rotatingWriter(WarningFile), warningLevel),
		zapcore.NewCore(encoder, l.rotatingWriter(ErrorFile), errorLevel),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), consoleLevel),
	)

	l.sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return l, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// rotatingWriter opens a size-rotated log file.
func (l *Logger) rotatingWriter(name string) zapcore.WriteSyncer {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	}
	l.files[name] = w
	return zapcore.AddSync(w)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// LogDirectory returns the directory holding the log files, or "" for a nop logger.
func (l *Logger) LogDirectory() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	// Closing first makes the next write reopen the file in append mode.
	if w, ok := l.files[fileName]; ok {
		_ = w.Close()
	}
	filePath := filepath.Join(l.logDir, fileName)
	if err := os.Truncate(filePath, 0); err != nil && !os.IsNotExist(err) {
		l.Error("Error truncating %s: %v", fileName, err)
		return err
	}

	l.Info("Log file %s has been cleared", fileName)
	return nil
}

// Close flushes buffered entries and closes the log files.
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	var err error
	for _, f := range l.files {
		err = multierr.Append(err, f.Close())
	}
	return err
}
