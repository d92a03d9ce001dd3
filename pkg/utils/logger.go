package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig is the resolved logging setup. Output is console, file or both;
// file output rotates through lumberjack.
type LogConfig struct {
	Level      string
	Format     string
	Output     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LogConfigFrom maps the logging section of the application config. A file
// path without an explicit output logs to both stderr and the file.
func LogConfigFrom(c models.LoggingConfig) LogConfig {
	out := strings.ToLower(strings.TrimSpace(c.Output))
	if c.File != "" && (out == "" || out == "console") {
		out = "both"
	}
	return LogConfig{
		Level:      c.Level,
		Format:     c.Format,
		Output:     out,
		File:       c.File,
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Logger is the process logger. Components get their own *logrus.Logger
// from ForComponent; those share output, formatter and level with the root.
type Logger struct {
	*logrus.Logger

	mu         sync.Mutex
	file       *lumberjack.Logger
	base       logrus.Fields
	components map[string]*logrus.Logger
}

func NewLogger(config LogConfig, service, version string) (*Logger, error) {
	out, file, err := openOutput(config)
	if err != nil {
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	l := &Logger{
		file:       file,
		base:       logrus.Fields{"service": service, "version": version, "hostname": host},
		components: make(map[string]*logrus.Logger),
	}
	l.Logger = l.derive(out, newFormatter(config.Format, file == nil), parseLevel(config.Level), l.base)
	return l, nil
}

func DefaultLogger() *Logger {
	l, err := NewLogger(LogConfig{Level: "info", Format: "text", Output: "console"}, "easmscan", "dev")
	if err != nil {
		// console output cannot fail to open
		panic(err)
	}
	return l
}

// ForComponent returns a logger whose entries carry component=name.
// Repeated calls with the same name return the same logger.
func (l *Logger) ForComponent(name string) *logrus.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.components[name]; ok {
		return c
	}
	fields := logrus.Fields{"component": name}
	for k, v := range l.base {
		fields[k] = v
	}
	c := l.derive(l.Out, l.Formatter, l.GetLevel(), fields)
	l.components[name] = c
	return c
}

// UpdateLevel changes the level of the root and every component logger.
// An unknown level is logged and ignored.
func (l *Logger) UpdateLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		l.Warnf("invalid log level %q, keeping %s", level, l.GetLevel())
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lg := range append([]*logrus.Logger{l.Logger}, values(l.components)...) {
		lg.SetLevel(lvl)
		lg.SetReportCaller(lvl >= logrus.DebugLevel)
	}
}

// Rotate starts a new log file. It is a no-op for console-only logging.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Rotate(); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) derive(out io.Writer, f logrus.Formatter, lvl logrus.Level, fields logrus.Fields) *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(out)
	lg.SetFormatter(f)
	lg.SetLevel(lvl)
	lg.SetReportCaller(lvl >= logrus.DebugLevel)
	lg.AddHook(fieldsHook(fields))
	return lg
}

func values(m map[string]*logrus.Logger) []*logrus.Logger {
	out := make([]*logrus.Logger, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func openOutput(c LogConfig) (io.Writer, *lumberjack.Logger, error) {
	output := strings.ToLower(strings.TrimSpace(c.Output))
	if c.File == "" || output == "" || output == "console" {
		return os.Stderr, nil, nil
	}
	if output != "file" && output != "both" {
		return nil, nil, fmt.Errorf("unknown log output %q", c.Output)
	}

	if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    max(1, c.MaxSizeMB),
		MaxBackups: max(0, c.MaxBackups),
		MaxAge:     max(0, c.MaxAgeDays),
		Compress:   c.Compress,
	}
	if output == "both" {
		return io.MultiWriter(os.Stderr, file), file, nil
	}
	return file, file, nil
}

func newFormatter(format string, color bool) logrus.Formatter {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339Nano,
			CallerPrettyfier: shortCaller,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "caller",
			},
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat:  time.RFC3339,
		FullTimestamp:    true,
		DisableColors:    !color,
		CallerPrettyfier: shortCaller,
	}
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func shortCaller(f *runtime.Frame) (string, string) {
	fn := f.Function
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	return fn, fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

// fieldsHook stamps fixed fields on every entry without overriding fields
// the caller set explicitly.
type fieldsHook logrus.Fields

func (h fieldsHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h fieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}
