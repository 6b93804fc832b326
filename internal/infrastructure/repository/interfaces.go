package repository

import (
	"context"
	"time"

	"github.com/coverbridge/platform-security/internal/domain/incident"
)

// IncidentStore is the storage port for security incidents. Incidents are
// never deleted: closing an incident removes it from the active set only.
// The in-memory adapter is the default; the redis adapter is the pluggable
// production implementation.
type IncidentStore interface {
	// Save inserts or replaces the incident record.
	Save(ctx context.Context, inc *incident.SecurityIncident) error

	// Get returns the incident or a not-found error.
	Get(ctx context.Context, id string) (*incident.SecurityIncident, error)

	// MarkInactive removes the incident from the active set.
	MarkInactive(ctx context.Context, id string) error

	// MarkActive restores the incident to the active set (reopen).
	MarkActive(ctx context.Context, id string) error

	// ListActive returns all incidents currently in the active set.
	ListActive(ctx context.Context) ([]*incident.SecurityIncident, error)

	// ListDetectedSince returns every incident, active or closed, detected
	// at or after the cutoff.
	ListDetectedSince(ctx context.Context, cutoff time.Time) ([]*incident.SecurityIncident, error)
}
