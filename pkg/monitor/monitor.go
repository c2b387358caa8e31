package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/cuemby/corral/pkg/types"
	"github.com/rs/zerolog"
)

// Transition is a change in a service's liveness between two checks
type Transition struct {
	Topic string
	Host  string
	Up    bool
}

// Monitor periodically evaluates liveness for every registered service,
// logs hosts that go down or come back, and keeps the hosts-up gauge
// current. It never writes to the registry.
type Monitor struct {
	liveness *scheduler.Liveness
	interval time.Duration
	events   *events.Broker
	logger   zerolog.Logger

	mu       sync.Mutex
	last     map[string]Transition
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor checking every interval
func NewMonitor(liveness *scheduler.Liveness, interval time.Duration) *Monitor {
	return &Monitor{
		liveness: liveness,
		interval: interval,
		logger:   log.WithComponent("monitor"),
		last:     make(map[string]Transition),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the monitoring loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the monitor. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// SetEvents publishes every liveness transition to broker
func (m *Monitor) SetEvents(broker *events.Broker) {
	m.events = broker
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if _, err := m.Check(); err != nil {
		m.logger.Warn().Err(err).Msg("Liveness check failed")
	}

	for {
		select {
		case <-ticker.C:
			if _, err := m.Check(); err != nil {
				m.logger.Warn().Err(err).Msg("Liveness check failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

// Check runs one liveness pass and returns the services whose state changed
// since the previous pass. Services seen for the first time count as a
// change only when they are down.
func (m *Monitor) Check() ([]Transition, error) {
	zones, err := m.liveness.Zones()
	if err != nil {
		return nil, fmt.Errorf("failed to describe zones: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	seen := make(map[string]bool)
	upByTopic := make(map[string]int)
	var transitions []Transition

	// a topic whose services all left still reports zero
	for _, prev := range m.last {
		upByTopic[prev.Topic] = 0
	}

	for _, zone := range zones {
		for _, host := range zone.Hosts {
			key := types.ServiceKey(host.Topic, host.Host)
			seen[key] = true
			if _, ok := upByTopic[host.Topic]; !ok {
				upByTopic[host.Topic] = 0
			}
			if host.Up {
				upByTopic[host.Topic]++
			}

			current := Transition{Topic: host.Topic, Host: host.Host, Up: host.Up}
			prev, known := m.last[key]
			m.last[key] = current
			if (known && prev.Up == host.Up) || (!known && host.Up) {
				continue
			}

			transitions = append(transitions, current)
			event := m.logger.Info()
			msg, evType := "Service is up", events.EventHostUp
			if !host.Up {
				event = m.logger.Warn()
				msg, evType = "Service is down", events.EventHostDown
			}
			event.
				Str("topic", host.Topic).
				Str("host", host.Host).
				Str("zone", zone.Name).
				Bool("disabled", host.Disabled).
				Dur("since_heartbeat", now.Sub(host.LastHeartbeat)).
				Msg(msg)
			m.events.Publish(&events.Event{
				Type:    evType,
				Message: fmt.Sprintf("%s on %s: %s", host.Topic, host.Host, msg),
				Metadata: map[string]string{
					"topic": host.Topic,
					"host":  host.Host,
					"zone":  zone.Name,
				},
			})
		}
	}

	for key := range m.last {
		if !seen[key] {
			delete(m.last, key)
		}
	}
	for topic, up := range upByTopic {
		metrics.HostsUp.WithLabelValues(topic).Set(float64(up))
	}

	return transitions, nil
}
