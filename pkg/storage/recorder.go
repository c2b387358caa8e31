package storage

import (
	"time"

	"github.com/cuemby/corral/pkg/types"
)

// Recorder is the write surface workers and administrators use to report
// into the registry and ledger. The scheduler never holds a Recorder.
type Recorder interface {
	// RegisterService creates the record or revives a soft-deleted one.
	// An existing record keeps its disabled flag and creation time.
	RegisterService(svc *types.Service) error

	// Heartbeat refreshes the service's UpdatedAt and bumps its report count.
	Heartbeat(topic, host string, at time.Time) error

	// SetServiceDisabled is the administrative enable/disable toggle.
	SetServiceDisabled(topic, host string, disabled bool) error

	// DeleteService soft-deletes a decommissioned worker's record. A later
	// RegisterService for the same pair revives it.
	DeleteService(topic, host string, at time.Time) error

	// AssignInstance records the host and state a compute worker reports.
	AssignInstance(id, host string, state types.InstanceState, at time.Time) error

	// AssignVolume records the host and status a volume worker reports.
	AssignVolume(id, host string, status types.VolumeStatus, at time.Time) error
}

func registerService(existing, svc *types.Service) *types.Service {
	if existing == nil {
		out := *svc
		out.Deleted = false
		out.DeletedAt = time.Time{}
		return &out
	}
	out := *existing
	out.Binary = svc.Binary
	out.AvailabilityZone = svc.AvailabilityZone
	out.Deleted = false
	out.DeletedAt = time.Time{}
	if existing.Deleted {
		out.CreatedAt = svc.CreatedAt
		out.UpdatedAt = svc.UpdatedAt
		out.ReportCount = 0
	}
	return &out
}
