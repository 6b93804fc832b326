package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventSeverity ranks a security event for alerting
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

// SecurityEvent is a structured alert emitted by the security core.
type SecurityEvent struct {
	Type      string                 `json:"type"`
	Severity  EventSeverity          `json:"severity"`
	Details   string                 `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"user_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Sink receives audit events and security alerts from every component of the
// core. Writes are fire-and-forget from the caller's perspective, but errors
// are returned untouched; the core performs no retries.
type Sink interface {
	LogAuditEvent(ctx context.Context, action, resourceType, userID string, metadata map[string]interface{}) error
	CaptureSecurityEvent(ctx context.Context, event SecurityEvent) error
}

// ZapSink writes audit events and alerts as structured log records. Repeated
// security events of the same type are throttled; critical events always pass.
type ZapSink struct {
	logger   *zap.Logger
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   rate.Limit
	burst    int
	dropped  int64
}

// NewZapSink creates a sink throttled to alertsPerMinute per event type.
// alertsPerMinute <= 0 disables throttling.
func NewZapSink(logger *zap.Logger, alertsPerMinute int) *ZapSink {
	s := &ZapSink{
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	if alertsPerMinute > 0 {
		s.perMin = rate.Limit(float64(alertsPerMinute) / 60.0)
		s.burst = alertsPerMinute
	}
	return s
}

func (s *ZapSink) LogAuditEvent(ctx context.Context, action, resourceType, userID string, metadata map[string]interface{}) error {
	s.logger.Info("audit event",
		zap.String("action", action),
		zap.String("resource_type", resourceType),
		zap.String("user_id", userID),
		zap.Any("metadata", metadata),
	)
	return nil
}

func (s *ZapSink) CaptureSecurityEvent(ctx context.Context, event SecurityEvent) error {
	if event.Severity != SeverityCritical && !s.allow(event.Type) {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return nil
	}

	fields := []zap.Field{
		zap.String("type", event.Type),
		zap.String("severity", string(event.Severity)),
		zap.String("details", event.Details),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	switch event.Severity {
	case SeverityCritical, SeverityHigh:
		s.logger.Error("security event", fields...)
	case SeverityMedium:
		s.logger.Warn("security event", fields...)
	default:
		s.logger.Info("security event", fields...)
	}
	return nil
}

// Dropped returns how many throttled alerts were discarded.
func (s *ZapSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *ZapSink) allow(eventType string) bool {
	if s.perMin == 0 {
		return true
	}
	s.mu.Lock()
	limiter, ok := s.limiters[eventType]
	if !ok {
		limiter = rate.NewLimiter(s.perMin, s.burst)
		s.limiters[eventType] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}
