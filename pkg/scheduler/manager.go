package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/types"
	"github.com/rs/zerolog"
)

// Manager receives placement requests on the scheduler topic, asks the
// driver for a host and casts the request on to that host's worker.
// It keeps no state between messages.
type Manager struct {
	driver Driver
	bus    rpc.Bus
	events *events.Broker
	logger zerolog.Logger

	mu  sync.Mutex
	sub rpc.Subscription
}

// NewManager creates a scheduler manager over driver and bus
func NewManager(driver Driver, bus rpc.Bus) *Manager {
	return &Manager{
		driver: driver,
		bus:    bus,
		logger: log.WithComponent("scheduler").With().Str("driver", driver.Name()).Logger(),
	}
}

// SetEvents publishes every placement decision to broker
func (m *Manager) SetEvents(broker *events.Broker) {
	m.events = broker
}

// Driver returns the active placement policy
func (m *Manager) Driver() Driver {
	return m.driver
}

// Start subscribes the manager to the scheduler topic
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sub != nil {
		return nil
	}
	sub, err := m.bus.Subscribe(types.TopicScheduler, m.Handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", types.TopicScheduler, err)
	}
	m.sub = sub
	m.logger.Info().Msg("Scheduler started")
	return nil
}

// Stop unsubscribes from the scheduler topic
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sub == nil {
		return nil
	}
	err := m.sub.Unsubscribe()
	m.sub = nil
	m.logger.Info().Msg("Scheduler stopped")
	return err
}

// Handle places one request and forwards it. The reply is always empty;
// a placement failure is returned to the caller and nothing is cast.
func (m *Manager) Handle(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	args := msg.Args.Clone()
	topic := args.String("topic")
	delete(args, "topic")
	if topic == "" {
		topic = TopicFor(msg.Method)
	}
	if topic == "" {
		m.record(msg.Method, ErrInvalidRequest)
		return nil, fmt.Errorf("%w: no topic for action %q", ErrInvalidRequest, msg.Method)
	}

	req := NewRequest(topic, msg.Method, args)
	host, err := m.place(ctx, req)
	m.record(msg.Method, err)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("action", req.Action).
			Str("topic", topic).
			Str("placement", req.Placement.String()).
			Msg("Placement failed")
		m.events.Publish(&events.Event{
			Type:    events.EventPlacementRejected,
			Message: err.Error(),
			Metadata: map[string]string{
				"action":    req.Action,
				"topic":     topic,
				"placement": req.Placement.String(),
				"result":    resultLabel(err),
			},
		})
		return nil, err
	}

	addr := rpc.Address(topic, host)
	if err := m.bus.Cast(ctx, addr, &rpc.Message{Method: msg.Method, Args: args}); err != nil {
		return nil, fmt.Errorf("failed to cast %s to %s: %w", msg.Method, addr, err)
	}

	m.logger.Info().
		Str("action", req.Action).
		Str("topic", topic).
		Str("host", host).
		Str("placement", req.Placement.Kind.String()).
		Msg("Request scheduled")
	m.events.Publish(&events.Event{
		Type:    events.EventPlacementScheduled,
		Message: fmt.Sprintf("%s scheduled on %s", req.Action, addr),
		Metadata: map[string]string{
			"action":    req.Action,
			"topic":     topic,
			"host":      host,
			"placement": req.Placement.String(),
		},
	})
	return nil, nil
}

// place resolves the strategy for the action and runs it
func (m *Manager) place(ctx context.Context, req *Request) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PlacementLatency, m.driver.Name())

	if strategy, ok := m.driver.Lookup(req.Action); ok {
		return strategy(ctx, req)
	}
	return m.driver.Schedule(ctx, req)
}

func (m *Manager) record(action string, err error) {
	metrics.PlacementsTotal.WithLabelValues(m.driver.Name(), action, resultLabel(err)).Inc()
}
