package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// LogAttempt logs a single HTTP attempt made for an image
func LogAttempt(l Logger, url string, attempt, statusCode int, durationMs float64) {
	fields := map[string]interface{}{
		"url":         url,
		"attempt":     attempt,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		l.DebugWithFields("image request completed", fields)
	case statusCode == 0:
		l.WarnWithFields("image request failed", fields)
	case statusCode >= 500:
		l.WarnWithFields("image request server error", fields)
	default:
		l.WarnWithFields("image request client error", fields)
	}
}

// LogRecordOutcome logs the terminal state of one record
func LogRecordOutcome(l Logger, row int, accountID, fileName string, attempts int, skipped bool, err error) {
	log := l.WithFields(map[string]interface{}{
		"row":        row,
		"account_id": accountID,
		"file_name":  fileName,
		"attempts":   attempts,
	})

	switch {
	case err != nil:
		log.WithError(err).Error("Record failed")
	case skipped:
		log.Info("Record skipped, file already present")
	default:
		log.Info("Record downloaded")
	}
}

// LogRunSummary logs the end-of-run counters
func LogRunSummary(l Logger, runID string, summary map[string]interface{}) {
	fields := map[string]interface{}{
		"run_id": runID,
		"type":   "summary",
	}
	for k, v := range summary {
		fields[k] = v
	}
	l.InfoWithFields("Run finished", fields)
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	log := l.WithField("component", component)
	if len(config) > 0 {
		log = log.WithFields(config)
	}
	log.Info("Component started")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
