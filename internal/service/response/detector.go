package response

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coverbridge/platform-security/internal/domain/incident"
)

// Monitoring event types the detector understands
const (
	EventFailedLogin         = "failed_login"
	EventDataExport          = "data_export"
	EventPrivilegeEscalation = "privilege_escalation"
	EventConfigChange        = "config_change"
)

// DetectorConfig is the static threshold table driving event-to-incident
// mapping.
type DetectorConfig struct {
	FailedLoginThreshold int
	FailedLoginWindow    time.Duration
	ExportSizeThreshold  int64
}

// Detector maps external monitoring events onto zero-or-one incident
// creation call. It never mutates incident state itself; it only decides
// whether to ask the service for a new incident and with what category,
// severity and description.
type Detector struct {
	service *Service
	cfg     DetectorConfig

	mu       sync.Mutex
	failures map[string][]time.Time
}

func NewDetector(service *Service, cfg DetectorConfig) *Detector {
	return &Detector{
		service:  service,
		cfg:      cfg,
		failures: make(map[string][]time.Time),
	}
}

// DetectFromEvent inspects one monitoring event. It returns the created
// incident, or nil when the event does not cross any threshold.
func (d *Detector) DetectFromEvent(ctx context.Context, eventType string, eventData map[string]interface{}, userID string) (*incident.SecurityIncident, error) {
	switch eventType {
	case EventFailedLogin:
		return d.onFailedLogin(ctx, userID)
	case EventDataExport:
		return d.onDataExport(ctx, eventData, userID)
	case EventPrivilegeEscalation:
		return d.onPrivilegeEscalation(ctx, eventData, userID)
	case EventConfigChange:
		return d.onConfigChange(ctx, eventData, userID)
	default:
		return nil, nil
	}
}

// onFailedLogin tracks a rolling window of failures per user and raises an
// incident once the threshold is reached. The window resets after raising
// so a burst produces one incident, not one per extra failure.
func (d *Detector) onFailedLogin(ctx context.Context, userID string) (*incident.SecurityIncident, error) {
	if userID == "" {
		return nil, nil
	}

	now := d.service.clock().UTC()
	cutoff := now.Add(-d.cfg.FailedLoginWindow)

	d.mu.Lock()
	recent := d.failures[userID][:0:0]
	for _, t := range d.failures[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)

	if len(recent) < d.cfg.FailedLoginThreshold {
		d.failures[userID] = recent
		d.mu.Unlock()
		return nil, nil
	}
	delete(d.failures, userID)
	d.mu.Unlock()

	return d.service.CreateIncident(ctx, CreateInput{
		Title:    "Repeated authentication failures",
		Category: incident.CategoryUnauthorizedAccess,
		Severity: incident.SeverityMedium,
		Description: fmt.Sprintf("%d failed login attempts for user %s within %s",
			len(recent), userID, d.cfg.FailedLoginWindow),
		DetectedBy:    "auth-monitor",
		AffectedUsers: []string{userID},
	})
}

func (d *Detector) onDataExport(ctx context.Context, eventData map[string]interface{}, userID string) (*incident.SecurityIncident, error) {
	size := asInt64(eventData["size_bytes"])
	if size < d.cfg.ExportSizeThreshold {
		return nil, nil
	}

	var affected []string
	if userID != "" {
		affected = []string{userID}
	}
	return d.service.CreateIncident(ctx, CreateInput{
		Title:    "Unusually large data export",
		Category: incident.CategoryDataBreach,
		Severity: incident.SeverityHigh,
		Description: fmt.Sprintf("Data export of %d bytes exceeds the %d byte threshold",
			size, d.cfg.ExportSizeThreshold),
		DetectedBy:    "export-monitor",
		AffectedUsers: affected,
	})
}

func (d *Detector) onPrivilegeEscalation(ctx context.Context, eventData map[string]interface{}, userID string) (*incident.SecurityIncident, error) {
	detail := "privilege escalation observed"
	if target, ok := eventData["target_role"].(string); ok && target != "" {
		detail = fmt.Sprintf("privilege escalation to role %q observed", target)
	}

	var affected []string
	if userID != "" {
		affected = []string{userID}
	}
	return d.service.CreateIncident(ctx, CreateInput{
		Title:         "Privilege escalation detected",
		Category:      incident.CategoryUnauthorizedAccess,
		Severity:      incident.SeverityHigh,
		Description:   detail,
		DetectedBy:    "privilege-monitor",
		AffectedUsers: affected,
	})
}

func (d *Detector) onConfigChange(ctx context.Context, eventData map[string]interface{}, userID string) (*incident.SecurityIncident, error) {
	critical, _ := eventData["critical"].(bool)
	if !critical {
		return nil, nil
	}

	setting := "unknown setting"
	if key, ok := eventData["setting"].(string); ok && key != "" {
		setting = key
	}

	var affected []string
	if userID != "" {
		affected = []string{userID}
	}
	return d.service.CreateIncident(ctx, CreateInput{
		Title:         "Critical configuration change",
		Category:      incident.CategorySystemCompromise,
		Severity:      incident.SeverityMedium,
		Description:   fmt.Sprintf("Critical configuration change to %s", setting),
		DetectedBy:    "config-monitor",
		AffectedUsers: affected,
	})
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
