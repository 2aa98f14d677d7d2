// Package logger provides the application logger built on logrus.
//
// Log methods take a context first so request trace ids travel with every
// entry, followed by a message and alternating key/value pairs:
//
//	log.Info(ctx, "job submitted", "job_id", job.JobID, "type", job.JobType)
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cyberkid042/distributed-job-queue/config"
	"github.com/cyberkid042/distributed-job-queue/ctxutil"
)

// Logger represents a logger instance.
type Logger struct {
	*logrus.Logger
	logFile *os.File
}

var (
	stdLogger *Logger
	once      sync.Once
)

// StdLogger returns the process-wide logger instance.
func StdLogger() *Logger {
	once.Do(func() {
		stdLogger = &Logger{Logger: logrus.New()}
		stdLogger.SetFormatter(&logrus.JSONFormatter{})
	})
	return stdLogger
}

// New configures the process-wide logger and returns a cleanup function.
func New(c *config.Logger) (func(), error) {
	l := StdLogger()
	if err := l.init(c); err != nil {
		return nil, err
	}
	return func() {
		if l.logFile != nil {
			_ = l.logFile.Close()
		}
	}, nil
}

func (l *Logger) init(c *config.Logger) error {
	level := logrus.InfoLevel
	if c != nil && c.Level > 0 {
		level = logrus.Level(c.Level)
	}
	l.SetLevel(level)

	format := ""
	output := ""
	outputFile := ""
	if c != nil {
		format = c.Format
		output = c.Output
		outputFile = c.OutputFile
	}

	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch output {
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if outputFile == "" {
			return fmt.Errorf("logger output is file but output_file is empty")
		}
		if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(outputFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.logFile = f
		l.SetOutput(f)
	default:
		l.SetOutput(os.Stdout)
	}

	return nil
}

// entryFromContext creates a log entry carrying context fields.
func (l *Logger) entryFromContext(ctx context.Context, kvs ...any) *logrus.Entry {
	fields := logrus.Fields{}

	if traceID := ctxutil.GetTraceID(ctx); traceID != "" {
		fields[ctxutil.TraceIDKey] = traceID
	}

	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			key = fmt.Sprint(kvs[i])
		}
		fields[key] = kvs[i+1]
	}
	if len(kvs)%2 != 0 {
		fields["extra"] = kvs[len(kvs)-1]
	}

	return l.WithFields(fields)
}

// Debug logs a debug message with key/value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, kvs ...any) {
	l.entryFromContext(ctx, kvs...).Debug(msg)
}

// Info logs an info message with key/value pairs.
func (l *Logger) Info(ctx context.Context, msg string, kvs ...any) {
	l.entryFromContext(ctx, kvs...).Info(msg)
}

// Warn logs a warning with key/value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, kvs ...any) {
	l.entryFromContext(ctx, kvs...).Warn(msg)
}

// Error logs an error with key/value pairs.
func (l *Logger) Error(ctx context.Context, msg string, kvs ...any) {
	l.entryFromContext(ctx, kvs...).Error(msg)
}

// Fatal logs a fatal message with key/value pairs and exits.
func (l *Logger) Fatal(ctx context.Context, msg string, kvs ...any) {
	l.entryFromContext(ctx, kvs...).Fatal(msg)
}
