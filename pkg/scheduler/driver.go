package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/corral/pkg/types"
)

// Driver names accepted by NewDriver
const (
	DriverSimple   = "simple"
	DriverZone     = "zone"
	DriverFallback = "fallback"
)

// Config holds the placement policy settings threaded into a driver
type Config struct {
	Driver                  string        `mapstructure:"scheduler_driver" yaml:"scheduler_driver"`
	MaxCores                int           `mapstructure:"max_cores" yaml:"max_cores"`
	MaxGigabytes            int           `mapstructure:"max_gigabytes" yaml:"max_gigabytes"`
	ServiceDownTime         time.Duration `mapstructure:"service_down_time" yaml:"service_down_time"`
	DefaultAvailabilityZone string        `mapstructure:"default_availability_zone" yaml:"default_availability_zone"`
}

// DefaultConfig returns the stock placement policy
func DefaultConfig() Config {
	return Config{
		Driver:                  DriverSimple,
		MaxCores:                16,
		MaxGigabytes:            10000,
		ServiceDownTime:         60 * time.Second,
		DefaultAvailabilityZone: types.DefaultAvailabilityZone,
	}
}

// Validate checks the policy values
func (c Config) Validate() error {
	if _, ok := drivers[c.Driver]; !ok {
		return fmt.Errorf("unknown scheduler driver %q (want one of %v)", c.Driver, DriverNames())
	}
	if c.MaxCores <= 0 {
		return fmt.Errorf("max_cores must be positive, got %d", c.MaxCores)
	}
	if c.MaxGigabytes <= 0 {
		return fmt.Errorf("max_gigabytes must be positive, got %d", c.MaxGigabytes)
	}
	if c.ServiceDownTime <= 0 {
		return fmt.Errorf("service_down_time must be positive, got %s", c.ServiceDownTime)
	}
	if c.DefaultAvailabilityZone == "" {
		return fmt.Errorf("default_availability_zone must not be empty")
	}
	return nil
}

// Deps are the read-only collaborators a driver queries
type Deps struct {
	Registry Registry
	Ledger   Ledger
	// Now defaults to time.Now
	Now func() time.Time
}

// StrategyFunc places a request for one specific action
type StrategyFunc func(ctx context.Context, req *Request) (string, error)

// Driver is a placement policy. Lookup returns the dedicated strategy for
// an action, if the policy has one; Schedule is the generic rule used for
// every other action.
type Driver interface {
	Name() string
	Lookup(action string) (StrategyFunc, bool)
	Schedule(ctx context.Context, req *Request) (string, error)
}

var drivers = map[string]func(*Base) Driver{
	DriverSimple:   newSimpleDriver,
	DriverZone:     newZoneDriver,
	DriverFallback: newFallbackDriver,
}

// DriverNames lists the selectable drivers
func DriverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDriver builds the driver named by cfg.Driver
func NewDriver(cfg Config, deps Deps) (Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("scheduler driver needs a registry and a ledger")
	}

	base := &Base{
		name:       cfg.Driver,
		cfg:        cfg,
		liveness:   NewLiveness(deps.Registry, cfg.ServiceDownTime, deps.Now),
		ledger:     deps.Ledger,
		strategies: make(map[string]StrategyFunc),
	}
	return drivers[cfg.Driver](base), nil
}

// Base carries what every driver shares: the action registry, the liveness
// filter and the ledger.
type Base struct {
	name       string
	cfg        Config
	liveness   *Liveness
	ledger     Ledger
	strategies map[string]StrategyFunc
}

// Name returns the configured driver name
func (b *Base) Name() string {
	return b.name
}

// Liveness returns the driver's liveness filter
func (b *Base) Liveness() *Liveness {
	return b.liveness
}

// Handle registers a dedicated strategy for action
func (b *Base) Handle(action string, fn StrategyFunc) {
	b.strategies[action] = fn
}

// Lookup returns the dedicated strategy for action
func (b *Base) Lookup(action string) (StrategyFunc, bool) {
	fn, ok := b.strategies[action]
	return fn, ok
}

// Schedule returns the first live host of the topic without a capacity
// check. A pinned request follows the pin rules.
func (b *Base) Schedule(ctx context.Context, req *Request) (string, error) {
	if req.Placement.Kind == HostPinned {
		return b.liveness.Pinned(req.Topic, req.Placement.Host)
	}
	return b.firstUp(req.Topic, "")
}

// firstUp returns the first live host of topic, restricted to zone when set
func (b *Base) firstUp(topic, zone string) (string, error) {
	services, err := b.liveness.ServicesUp(topic)
	if err != nil {
		return "", err
	}
	for _, svc := range services {
		if zone == "" || svc.AvailabilityZone == zone {
			return svc.Host, nil
		}
	}
	if zone != "" {
		return "", fmt.Errorf("%w: no live %s host in zone %q", ErrNoValidHost, topic, zone)
	}
	return "", fmt.Errorf("%w: no live %s hosts", ErrNoValidHost, topic)
}

// leastLoaded picks the live host with the least used of kind, honoring a
// zone constraint. It fails when the request would push even that host past
// limit.
func (b *Base) leastLoaded(topic string, placement Placement, kind types.ResourceKind, requested, limit int) (string, error) {
	services, err := b.liveness.ServicesUp(topic)
	if err != nil {
		return "", err
	}

	best, bestUsed := "", 0
	for _, svc := range services {
		if placement.Kind == ZoneConstrained && svc.AvailabilityZone != placement.Zone {
			continue
		}
		used, err := b.ledger.SumActiveResource(svc.Host, kind)
		if err != nil {
			return "", registryError(err)
		}
		if best == "" || used < bestUsed {
			best, bestUsed = svc.Host, used
		}
	}

	if best == "" {
		if placement.Kind == ZoneConstrained {
			return "", fmt.Errorf("%w: no live %s host in zone %q", ErrNoValidHost, topic, placement.Zone)
		}
		return "", fmt.Errorf("%w: no live %s hosts", ErrNoValidHost, topic)
	}
	if bestUsed+requested > limit {
		return "", fmt.Errorf("%w: all %s hosts have too many %s (least loaded %s uses %d of %d)",
			ErrNoValidHost, topic, kind, best, bestUsed, limit)
	}
	return best, nil
}
