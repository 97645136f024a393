// Package obslog wraps logrus the way the teacher's pkg/logger does,
// retargeted at ACE's own event vocabulary (root_uuid, observable, amt,
// request_id) instead of blockchain fields.
package obslog

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps *logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// Config drives level/format/output the same way LoggingConfig does in
// the teacher repo.
type Config struct {
	Level      string `json:"level" env:"ACE_LOG_LEVEL"`
	Format     string `json:"format" env:"ACE_LOG_FORMAT"`
	Output     string `json:"output" env:"ACE_LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"ACE_LOG_FILE_PREFIX"`
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "ace-core"
		}
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			l.Errorf("obslog: create log dir: %v", err)
			break
		}
		path := filepath.Join(logDir, prefix+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.Errorf("obslog: open log file: %v", err)
			break
		}
		l.SetOutput(io.MultiWriter(os.Stdout, f))
	default:
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// NewDefault builds a Logger with sane defaults, for tests and CLI tools.
func NewDefault() *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	return &Logger{Logger: l}
}

// ForRoot returns an entry pre-populated with a root_uuid field, the
// common case for request-processor logging.
func (l *Logger) ForRoot(rootUUID string) *logrus.Entry {
	return l.WithField("root_uuid", rootUUID)
}

// ForRequest returns an entry pre-populated with request/AMT context.
func (l *Logger) ForRequest(requestID, amtName string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"request_id": requestID, "amt": amtName})
}
