package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
)

// Registry is the read-only view of registered workers
type Registry interface {
	ListServices() ([]*types.Service, error)
	ListServicesByTopic(topic string) ([]*types.Service, error)
	GetServiceByHostAndTopic(host, topic string) (*types.Service, error)
}

// Ledger is the read-only view of workloads and their resource usage
type Ledger interface {
	GetInstance(id string) (*types.Instance, error)
	GetVolume(id string) (*types.Volume, error)
	SumActiveResource(host string, kind types.ResourceKind) (int, error)
}

// Liveness decides which registered hosts are up
type Liveness struct {
	registry Registry
	downTime time.Duration
	now      func() time.Time
}

// NewLiveness creates a liveness filter. now defaults to time.Now.
func NewLiveness(registry Registry, downTime time.Duration, now func() time.Time) *Liveness {
	if now == nil {
		now = time.Now
	}
	return &Liveness{
		registry: registry,
		downTime: downTime,
		now:      now,
	}
}

// IsUp reports whether svc is enabled and heartbeated within the down time
func (l *Liveness) IsUp(svc *types.Service, now time.Time) bool {
	if svc.Disabled {
		return false
	}
	return now.Sub(svc.LastHeartbeat()) < l.downTime
}

// ServicesUp returns the live services of topic in registry order
func (l *Liveness) ServicesUp(topic string) ([]*types.Service, error) {
	services, err := l.registry.ListServicesByTopic(topic)
	if err != nil {
		return nil, registryError(err)
	}

	now := l.now()
	up := make([]*types.Service, 0, len(services))
	for _, svc := range services {
		if l.IsUp(svc, now) {
			up = append(up, svc)
		}
	}
	metrics.HostsUp.WithLabelValues(topic).Set(float64(len(up)))
	return up, nil
}

// HostsUp returns the names of the live hosts of topic
func (l *Liveness) HostsUp(topic string) ([]string, error) {
	services, err := l.ServicesUp(topic)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(services))
	for _, svc := range services {
		hosts = append(hosts, svc.Host)
	}
	return hosts, nil
}

// Pinned validates an explicit host pin. A pin ignores the disabled flag and
// capacity but not registration, and not a heartbeat stale by at least twice
// the down time.
func (l *Liveness) Pinned(topic, host string) (string, error) {
	svc, err := l.registry.GetServiceByHostAndTopic(host, topic)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: host %q is not registered for %s", ErrWillNotSchedule, host, topic)
	}
	if err != nil {
		return "", registryError(err)
	}

	if age := l.now().Sub(svc.LastHeartbeat()); age >= 2*l.downTime {
		return "", fmt.Errorf("%w: host %q is down (last heartbeat %s ago)", ErrWillNotSchedule, host, age.Round(time.Second))
	}
	return svc.Host, nil
}

// Zones describes every availability zone that has registered services.
// A zone is available when any of its hosts is up.
func (l *Liveness) Zones() ([]*types.ZoneInfo, error) {
	services, err := l.registry.ListServices()
	if err != nil {
		return nil, registryError(err)
	}

	now := l.now()
	byName := make(map[string]*types.ZoneInfo)
	for _, svc := range services {
		zone, ok := byName[svc.AvailabilityZone]
		if !ok {
			zone = &types.ZoneInfo{Name: svc.AvailabilityZone}
			byName[svc.AvailabilityZone] = zone
		}
		up := l.IsUp(svc, now)
		zone.Available = zone.Available || up
		zone.Hosts = append(zone.Hosts, &types.HostInfo{
			Host:          svc.Host,
			Topic:         svc.Topic,
			Up:            up,
			Disabled:      svc.Disabled,
			LastHeartbeat: svc.LastHeartbeat(),
		})
	}

	zones := make([]*types.ZoneInfo, 0, len(byName))
	for _, zone := range byName {
		zones = append(zones, zone)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Name < zones[j].Name })
	return zones, nil
}
