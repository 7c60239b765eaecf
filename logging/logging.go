package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	logger  = newLogger(os.Stderr)
	logFile *os.File
	mu      sync.Mutex
	isSetup bool
)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetupLogger configures the shared logger. An empty logFilePath keeps
// output on stderr; debug lowers the level so DebugLog messages are written.
func SetupLogger(logFilePath string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	if isSetup {
		return nil
	}

	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.Debugf("--- ListingFinder log started at %s ---", time.Now().Format(time.RFC3339))

	isSetup = true
	return nil
}

// CloseLogger closes the log file, if one was opened
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logger.Debugf("--- ListingFinder log closed at %s ---", time.Now().Format(time.RFC3339))
		logger.SetOutput(os.Stderr)
		logFile.Close()
		logFile = nil
	}
	isSetup = false
}

// SetOutput redirects log output. Tests use it to capture or silence logs.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Logger returns the shared logger for callers that need structured fields
func Logger() *logrus.Logger {
	return logger
}

// WithFields starts a structured entry on the shared logger
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// LogInfo logs an information message
func LogInfo(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

// DebugLog logs a message if debug mode is enabled
func DebugLog(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

// LogWarning logs a warning message
func LogWarning(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

// LogImageProcessed logs the outcome of indexing one listing image
func LogImageProcessed(listingID int64, imageURL string, success bool, errMsg string) {
	entry := logger.WithFields(logrus.Fields{
		"listing_id": listingID,
		"image_url":  imageURL,
	})
	if success {
		entry.Debug("indexed")
	} else {
		entry.WithField("error", errMsg).Warn("indexing failed")
	}
}
