package audit

import (
	"context"
	"sync"
)

// AuditEntry is one recorded LogAuditEvent call.
type AuditEntry struct {
	Action       string
	ResourceType string
	UserID       string
	Metadata     map[string]interface{}
}

// MemorySink collects events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	audits []AuditEntry
	events []SecurityEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) LogAuditEvent(ctx context.Context, action, resourceType, userID string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, AuditEntry{
		Action:       action,
		ResourceType: resourceType,
		UserID:       userID,
		Metadata:     metadata,
	})
	return nil
}

func (s *MemorySink) CaptureSecurityEvent(ctx context.Context, event SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// AuditEvents returns a copy of the recorded audit entries.
func (s *MemorySink) AuditEvents() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}

// SecurityEvents returns a copy of the recorded security events.
func (s *MemorySink) SecurityEvents() []SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// SecurityEventsOfType filters recorded events by type.
func (s *MemorySink) SecurityEventsOfType(eventType string) []SecurityEvent {
	var out []SecurityEvent
	for _, ev := range s.SecurityEvents() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
