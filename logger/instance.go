package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// current is swapped on config reload while poll goroutines keep logging.
var current atomic.Pointer[Logger]

func init() {
	l, err := New(DefaultConfig())
	if err != nil {
		log.Printf("console logger unavailable, falling back to log: %v", err)
		return
	}
	current.Store(l)
}

// InitFromConfig builds a logger from the logger section of the
// configuration and makes it the package default. The previous default is
// closed.
func InitFromConfig(level, filePath string, maxSize, maxBackups int, console bool) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	l, err := New(LoggerConfig{
		Level:      logLevel,
		FilePath:   filePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Console:    console,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if old := current.Swap(l); old != nil {
		old.Close()
	}
	return nil
}

// ParseLogLevel accepts debug, info, warn/warning and error in any case.
// An empty string means INFO.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level: %s", level)
}

// logf reports the caller of the package-level helper, two frames up.
func logf(level LogLevel, format string, args ...interface{}) {
	if l := current.Load(); l != nil {
		l.output(3, level, format, args...)
		return
	}
	log.Printf("["+level.String()+"] "+format, args...)
}

func Debug(format string, args ...interface{}) { logf(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { logf(INFO, format, args...) }
func Warn(format string, args ...interface{})  { logf(WARN, format, args...) }
func Error(format string, args ...interface{}) { logf(ERROR, format, args...) }

// Close flushes and closes the default logger's file, if any.
func Close() error {
	if l := current.Load(); l != nil {
		return l.Close()
	}
	return nil
}
