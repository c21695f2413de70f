package logging

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu         sync.Mutex
	outputFile *os.File
	outputPath string

	logger = newLogger(os.Stdout)
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(consoleFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// consoleFormatter prints info messages exactly as given so progress lines
// ("\r  [3/10] ...") render the same as plain fmt output. Debug and warning
// entries get a prefix and their structured fields.
type consoleFormatter struct{}

func (consoleFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	switch e.Level {
	case logrus.InfoLevel:
		b.WriteString(e.Message)
		return b.Bytes(), nil
	case logrus.DebugLevel, logrus.TraceLevel:
		b.WriteString("[debug] ")
	case logrus.WarnLevel:
		b.WriteString("Warning: ")
	default:
		b.WriteString("Error: ")
	}
	b.WriteString(strings.TrimRight(e.Message, "\n"))
	for _, k := range slices.Sorted(maps.Keys(e.Data)) {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetVerbose enables or disables debug logging for the current process.
func SetVerbose(enabled bool) {
	if enabled {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	logger.SetLevel(logrus.InfoLevel)
}

// Verbose reports whether debug logging is enabled.
func Verbose() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// SetOutputFile configures optional file logging while preserving stdout output.
// Passing an empty path disables file logging.
func SetOutputFile(path string) error {
	path = strings.TrimSpace(path)

	mu.Lock()
	defer mu.Unlock()

	if path == outputPath {
		return nil
	}

	if outputFile != nil {
		err := outputFile.Close()
		outputFile = nil
		outputPath = ""
		logger.SetOutput(os.Stdout)
		if err != nil {
			return err
		}
	}

	logger.SetOutput(os.Stdout)
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	outputFile = f
	outputPath = path
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// SetOutput redirects all log output, typically to a buffer in tests.
// A nil writer restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger.SetOutput(w)
}

// Close flushes and closes the log file if one is configured.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if outputFile == nil {
		return nil
	}
	err := outputFile.Close()
	outputFile = nil
	outputPath = ""
	logger.SetOutput(os.Stdout)
	return err
}

// Infof prints formatted output regardless of verbosity level.
func Infof(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}

// Infoln prints output regardless of verbosity level.
func Infoln(args ...any) {
	logger.Info(fmt.Sprintln(args...))
}

// Warnf reports a failure that was handled and does not stop the run.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Debugf prints formatted output only when verbose mode is enabled.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// WithFields returns an entry that attaches structured fields to debug and
// warning output.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}
