package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EnvLogDir overrides the directory log files are written to.
const EnvLogDir = "PHASEGUARD_LOG_DIR"

// Logger writes component-tagged lines to the process log file.
// Every component in one process shares a single file named after the
// process session id, so guard-rail and browser activity interleave in
// the order it happened.
type Logger struct {
	sessionID string
	component string
	// out is set for writer and fallback loggers; nil loggers write to the
	// shared file.
	out *log.Logger
	mu  sync.Mutex
}

// fileSink is the log file every file-backed Logger writes to.
type fileSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *log.Logger
	path   string
}

var (
	sessionID     string
	sessionIDOnce sync.Once

	sink     fileSink
	initOnce sync.Once
	initErr  error
)

func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func resolveLogDir() (string, error) {
	if dir := os.Getenv(EnvLogDir); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".phaseguard", "logs"), nil
}

func initSink() error {
	initOnce.Do(func() {
		dir, err := resolveLogDir()
		if err != nil {
			initErr = err
			return
		}
		initErr = sink.open(dir)
	})
	return initErr
}

func (s *fileSink) open(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-phaseguard.log", getSessionID()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	s.mu.Lock()
	old := s.file
	s.file = file
	s.logger = log.New(file, "", 0)
	s.path = path
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (s *fileSink) printf(format string, v ...interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logger == nil {
		return false
	}
	s.logger.Printf(format, v...)
	return true
}

// NewLogger creates a logger for one component.
// The logger writes to <log dir>/<session-id>-phaseguard.log.
//
// When the log file cannot be opened a stderr logger is returned together
// with the error, so callers always get something usable.
func NewLogger(component string) (*Logger, error) {
	if err := initSink(); err != nil {
		return newFallbackLogger(component, err), err
	}
	return &Logger{
		sessionID: getSessionID(),
		component: component,
	}, nil
}

// NewWriterLogger creates a logger that writes to w instead of the log file.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		sessionID: getSessionID(),
		component: component,
		out:       log.New(w, "", 0),
	}
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("WARNING: file logging unavailable: %v", err)

	return &Logger{
		sessionID: getSessionID(),
		component: component,
		out:       logger,
	}
}

func (l *Logger) write(level, format string, v ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, v...)
	if l.out != nil {
		l.out.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
		return
	}
	sink.printf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) { l.write("DEBUG", format, v...) }

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) { l.write("INFO", format, v...) }

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) { l.write("WARN", format, v...) }

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) { l.write("ERROR", format, v...) }

// Component returns the component name this logger tags lines with.
func (l *Logger) Component() string {
	return l.component
}

// SessionID returns the process session id.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file, or "" when not file-backed.
func (l *Logger) LogPath() string {
	if l.out != nil {
		return ""
	}
	return CurrentLogPath()
}

// GetSessionID returns the process-wide session id.
func GetSessionID() string {
	return getSessionID()
}

// CurrentLogPath returns the file logs are written to, or "".
func CurrentLogPath() string {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink.path
}

// SetDirectory moves the shared log file to dir. Loggers created before
// the call follow the move.
func SetDirectory(dir string) error {
	initSink()
	return sink.open(dir)
}

// Close closes the shared log file. Later writes are dropped.
func Close() error {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.file == nil {
		return nil
	}
	err := sink.file.Close()
	sink.file = nil
	sink.logger = nil
	return err
}
