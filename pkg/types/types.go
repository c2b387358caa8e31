package types

import (
	"time"
)

// Well-known worker topics
const (
	TopicCompute   = "compute"
	TopicVolume    = "volume"
	TopicScheduler = "scheduler"
	TopicConductor = "conductor"
)

// DefaultAvailabilityZone is the zone of a worker that names none
const DefaultAvailabilityZone = "nova"

// Service is the registry record of a single worker process.
// A worker owns its own heartbeat (UpdatedAt); the scheduler only reads it.
type Service struct {
	Host             string
	Binary           string
	Topic            string
	AvailabilityZone string
	Disabled         bool
	ReportCount      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Deleted          bool
	DeletedAt        time.Time
}

// LastHeartbeat returns the time the worker last reported in, falling back
// to the registration time for workers that never reported.
func (s *Service) LastHeartbeat() time.Time {
	if s.UpdatedAt.IsZero() {
		return s.CreatedAt
	}
	return s.UpdatedAt
}

// Key returns the registry key of the service ("topic/host")
func (s *Service) Key() string {
	return ServiceKey(s.Topic, s.Host)
}

// ServiceKey builds the registry key for a topic and host
func ServiceKey(topic, host string) string {
	return topic + "/" + host
}

// ResourceKind names a capacity dimension accounted per host
type ResourceKind string

const (
	ResourceCores     ResourceKind = "cores"
	ResourceGigabytes ResourceKind = "gigabytes"
)

// InstanceState represents the lifecycle state of a compute instance
type InstanceState string

const (
	InstanceStatePending    InstanceState = "pending"
	InstanceStateRunning    InstanceState = "running"
	InstanceStateTerminated InstanceState = "terminated"
)

// Instance is a compute workload tracked in the resource ledger
type Instance struct {
	ID               string
	Host             string // empty until a compute worker accepts it
	VCPUs            int
	AvailabilityZone string // raw requested zone, may be "zone:host"
	State            InstanceState
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Active reports whether the instance still consumes cores on its host
func (i *Instance) Active() bool {
	return i.State != InstanceStateTerminated
}

// VolumeStatus represents the lifecycle state of a volume
type VolumeStatus string

const (
	VolumeStatusCreating  VolumeStatus = "creating"
	VolumeStatusAvailable VolumeStatus = "available"
	VolumeStatusDeleted   VolumeStatus = "deleted"
)

// Volume is a block storage workload tracked in the resource ledger
type Volume struct {
	ID               string
	Host             string
	SizeGB           int
	AvailabilityZone string
	Status           VolumeStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Active reports whether the volume still consumes gigabytes on its host
func (v *Volume) Active() bool {
	return v.Status != VolumeStatusDeleted
}

// ZoneInfo describes an availability zone as seen by the scheduler
type ZoneInfo struct {
	Name      string
	Available bool
	Hosts     []*HostInfo
}

// HostInfo is the liveness view of one service inside a zone
type HostInfo struct {
	Host          string
	Topic         string
	Up            bool
	Disabled      bool
	LastHeartbeat time.Time
}
