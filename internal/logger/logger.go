package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a set of structured key/value pairs attached to a log entry.
type Fields = logrus.Fields

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	return l
}

// OutputConfig describes where log lines go.
type OutputConfig struct {
	// Output is "stdout", "stderr" or a file path
	Output string

	// MaxSizeMB, MaxBackups and Compress control file rotation
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// SetLevel sets the minimum level: DEBUG, INFO, WARN or ERROR.
// Unknown values are ignored.
func SetLevel(level string) {
	var lvl logrus.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = logrus.DebugLevel
	case "INFO":
		lvl = logrus.InfoLevel
	case "WARN":
		lvl = logrus.WarnLevel
	case "ERROR":
		lvl = logrus.ErrorLevel
	default:
		return
	}
	mu.Lock()
	defer mu.Unlock()
	logger.SetLevel(lvl)
}

// SetFormat selects "text" or "json" output.
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
}

// SetOutput routes log lines according to cfg. A file output is rotated with
// lumberjack. If the log directory cannot be created the logger falls back to
// stdout and the error is returned.
func SetOutput(cfg OutputConfig) error {
	w, err := buildOutput(cfg)

	mu.Lock()
	logger.SetOutput(w)
	mu.Unlock()

	if err != nil {
		Warn("Log output %q unavailable, using stdout: %v", cfg.Output, err)
	}
	return err
}

// SetWriter routes log lines to w. Used by tests.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func buildOutput(cfg OutputConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}

func entry() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns an entry carrying fields, for structured call sites.
func With(fields Fields) *logrus.Entry {
	return entry().WithFields(fields)
}

func Debug(format string, v ...any) {
	entry().Debugf(format, v...)
}

func Info(format string, v ...any) {
	entry().Infof(format, v...)
}

func Warn(format string, v ...any) {
	entry().Warnf(format, v...)
}

func Error(format string, v ...any) {
	entry().Errorf(format, v...)
}
