package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// DefaultReportInterval is how often a worker heartbeats
const DefaultReportInterval = 10 * time.Second

// Worker is a compute or volume worker process. It registers itself in the
// service registry, heartbeats on an interval and records the commands it is
// sent in the resource ledger.
type Worker struct {
	cfg      Config
	bus      rpc.Bus
	recorder storage.Recorder
	handlers map[string]rpc.Handler
	logger   zerolog.Logger

	mu      sync.Mutex
	subs    []rpc.Subscription
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Config holds worker configuration
type Config struct {
	Host             string
	Topic            string
	Binary           string
	AvailabilityZone string
	ReportInterval   time.Duration
	// Now defaults to time.Now
	Now func() time.Time
}

// NewWorker creates a worker that reports through recorder and receives
// commands from bus
func NewWorker(cfg Config, bus rpc.Bus, recorder storage.Recorder) (*Worker, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("worker host is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("worker topic is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = "corral-" + cfg.Topic
	}
	if cfg.AvailabilityZone == "" {
		cfg.AvailabilityZone = types.DefaultAvailabilityZone
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	w := &Worker{
		cfg:      cfg,
		bus:      bus,
		recorder: recorder,
		logger:   log.WithHost(cfg.Topic, cfg.Host),
	}
	w.handlers = w.handlersFor(cfg.Topic)
	return w, nil
}

// Host returns the worker's host name
func (w *Worker) Host() string {
	return w.cfg.Host
}

// Start registers the worker, subscribes to its topic and its host address
// and starts heartbeating
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := w.register(); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	for _, topic := range []string{w.cfg.Topic, rpc.Address(w.cfg.Topic, w.cfg.Host)} {
		sub, err := w.bus.Subscribe(topic, w.dispatch)
		if err != nil {
			w.unsubscribe()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.subs = append(w.subs, sub)
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.heartbeatLoop(w.stopCh, w.doneCh)

	w.logger.Info().
		Str("zone", w.cfg.AvailabilityZone).
		Dur("report_interval", w.cfg.ReportInterval).
		Msg("Worker started")
	return nil
}

// Stop stops heartbeating and leaves the bus. The registry record stays;
// it goes stale once the service down time passes.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	<-w.doneCh

	err := w.unsubscribe()
	w.logger.Info().Msg("Worker stopped")
	return err
}

func (w *Worker) unsubscribe() error {
	var result *multierror.Error
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	w.subs = nil
	return result.ErrorOrNil()
}

func (w *Worker) register() error {
	now := w.cfg.Now()
	return w.recorder.RegisterService(&types.Service{
		Host:             w.cfg.Host,
		Topic:            w.cfg.Topic,
		Binary:           w.cfg.Binary,
		AvailabilityZone: w.cfg.AvailabilityZone,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

// heartbeatLoop sends periodic heartbeats until stopCh closes
func (w *Worker) heartbeatLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.ReportState(); err != nil {
				w.logger.Warn().Err(err).Msg("Heartbeat failed")
			}
		case <-stopCh:
			return
		}
	}
}

// ReportState sends one heartbeat. A worker whose record has been deleted
// registers again.
func (w *Worker) ReportState() error {
	err := w.recorder.Heartbeat(w.cfg.Topic, w.cfg.Host, w.cfg.Now())
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.Info().Msg("Service record missing, registering again")
		return w.register()
	}
	return err
}

// dispatch routes a bus message to the handler for its method
func (w *Worker) dispatch(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	h, ok := w.handlers[msg.Method]
	if !ok {
		return nil, fmt.Errorf("%s worker does not handle %q", w.cfg.Topic, msg.Method)
	}

	result, err := h(ctx, msg)
	if err != nil {
		w.logger.Error().Err(err).Str("method", msg.Method).Msg("Command failed")
		return nil, err
	}
	w.logger.Debug().Str("method", msg.Method).Msg("Command handled")
	return result, nil
}
