// Package telemetry defines the outcome sink consumed by the dispatch
// loop. Cost-tracking persistence plugs in behind the Sink interface.
package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Sink receives one record per completed provider attempt. Implementations
// must return quickly; the dispatch loop invokes them off the request path
// and ignores failures.
type Sink interface {
	RecordRequest(provider, model string, success bool, responseTime time.Duration, tokensUsed int)
}

// LogSink writes attempt records to the structured log.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink that logs each attempt record.
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// RecordRequest implements Sink.
func (s *LogSink) RecordRequest(provider, model string, success bool, responseTime time.Duration, tokensUsed int) {
	s.logger.WithFields(logrus.Fields{
		"provider":         provider,
		"model":            model,
		"success":          success,
		"response_time_ms": responseTime.Milliseconds(),
		"tokens_used":      tokensUsed,
	}).Info("Request recorded")
}
