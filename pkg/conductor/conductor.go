package conductor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
	"github.com/rs/zerolog"
)

// Conductor methods
const (
	MethodServiceRegister    = "service_register"
	MethodServiceHeartbeat   = "service_heartbeat"
	MethodServiceSetDisabled = "service_set_disabled"
	MethodServiceDelete      = "service_delete"
	MethodInstanceAssign     = "instance_assign"
	MethodVolumeAssign       = "volume_assign"
)

func init() {
	rpc.RegisterErrorKind("NotFound", storage.ErrNotFound)
}

// Server applies registry and ledger writes received on the conductor
// topic, so workers in other processes never touch the store directly.
type Server struct {
	recorder storage.Recorder
	bus      rpc.Bus
	handlers map[string]rpc.Handler
	logger   zerolog.Logger

	mu  sync.Mutex
	sub rpc.Subscription
}

// NewServer creates a conductor writing through recorder
func NewServer(recorder storage.Recorder, bus rpc.Bus) *Server {
	s := &Server{
		recorder: recorder,
		bus:      bus,
		logger:   log.WithComponent("conductor"),
	}
	s.handlers = map[string]rpc.Handler{
		MethodServiceRegister:    s.serviceRegister,
		MethodServiceHeartbeat:   s.serviceHeartbeat,
		MethodServiceSetDisabled: s.serviceSetDisabled,
		MethodServiceDelete:      s.serviceDelete,
		MethodInstanceAssign:     s.instanceAssign,
		MethodVolumeAssign:       s.volumeAssign,
	}
	return s
}

// Start subscribes to the conductor topic
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return nil
	}
	sub, err := s.bus.Subscribe(types.TopicConductor, s.Handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", types.TopicConductor, err)
	}
	s.sub = sub
	s.logger.Info().Msg("Conductor started")
	return nil
}

// Stop unsubscribes from the conductor topic
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}

// Handle dispatches one conductor message
func (s *Server) Handle(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	h, ok := s.handlers[msg.Method]
	if !ok {
		return nil, fmt.Errorf("conductor does not handle %q", msg.Method)
	}
	result, err := h(ctx, msg)
	if err != nil {
		s.logger.Debug().Err(err).Str("method", msg.Method).Msg("Write rejected")
	}
	return result, err
}

func (s *Server) serviceRegister(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	at, err := msg.Args.Time("at")
	if err != nil {
		return nil, err
	}
	return nil, s.recorder.RegisterService(&types.Service{
		Host:             msg.Args.String("host"),
		Topic:            msg.Args.String("topic"),
		Binary:           msg.Args.String("binary"),
		AvailabilityZone: msg.Args.String("availability_zone"),
		CreatedAt:        at,
		UpdatedAt:        at,
	})
}

func (s *Server) serviceHeartbeat(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	at, err := msg.Args.Time("at")
	if err != nil {
		return nil, err
	}
	return nil, s.recorder.Heartbeat(msg.Args.String("topic"), msg.Args.String("host"), at)
}

func (s *Server) serviceSetDisabled(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	return nil, s.recorder.SetServiceDisabled(msg.Args.String("topic"), msg.Args.String("host"), msg.Args.Bool("disabled"))
}

func (s *Server) serviceDelete(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	at, err := msg.Args.Time("at")
	if err != nil {
		return nil, err
	}
	return nil, s.recorder.DeleteService(msg.Args.String("topic"), msg.Args.String("host"), at)
}

func (s *Server) instanceAssign(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	at, err := msg.Args.Time("at")
	if err != nil {
		return nil, err
	}
	return nil, s.recorder.AssignInstance(
		msg.Args.String("instance_id"),
		msg.Args.String("host"),
		types.InstanceState(msg.Args.String("state")),
		at,
	)
}

func (s *Server) volumeAssign(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	at, err := msg.Args.Time("at")
	if err != nil {
		return nil, err
	}
	return nil, s.recorder.AssignVolume(
		msg.Args.String("volume_id"),
		msg.Args.String("host"),
		types.VolumeStatus(msg.Args.String("status")),
		at,
	)
}

// Client is a storage.Recorder that writes through the conductor topic
type Client struct {
	bus     rpc.Bus
	timeout time.Duration
}

var _ storage.Recorder = (*Client)(nil)

// NewClient creates a conductor client. A zero timeout means 30 seconds.
func NewClient(bus rpc.Bus, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = rpc.DefaultRequestTimeout
	}
	return &Client{bus: bus, timeout: timeout}
}

func (c *Client) call(method string, args rpc.Args) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.bus.Call(ctx, types.TopicConductor, &rpc.Message{Method: method, Args: args}, nil)
}

// RegisterService creates or revives the worker's service record
func (c *Client) RegisterService(svc *types.Service) error {
	return c.call(MethodServiceRegister, rpc.Args{
		"host":              svc.Host,
		"topic":             svc.Topic,
		"binary":            svc.Binary,
		"availability_zone": svc.AvailabilityZone,
		"at":                svc.CreatedAt,
	})
}

// Heartbeat reports the worker alive at the given time
func (c *Client) Heartbeat(topic, host string, at time.Time) error {
	return c.call(MethodServiceHeartbeat, rpc.Args{"topic": topic, "host": host, "at": at})
}

// SetServiceDisabled toggles the administrative disabled flag
func (c *Client) SetServiceDisabled(topic, host string, disabled bool) error {
	return c.call(MethodServiceSetDisabled, rpc.Args{"topic": topic, "host": host, "disabled": disabled})
}

// DeleteService soft-deletes the service record of a decommissioned worker
func (c *Client) DeleteService(topic, host string, at time.Time) error {
	return c.call(MethodServiceDelete, rpc.Args{"topic": topic, "host": host, "at": at})
}

// AssignInstance records where an instance runs
func (c *Client) AssignInstance(id, host string, state types.InstanceState, at time.Time) error {
	return c.call(MethodInstanceAssign, rpc.Args{"instance_id": id, "host": host, "state": string(state), "at": at})
}

// AssignVolume records where a volume lives
func (c *Client) AssignVolume(id, host string, status types.VolumeStatus, at time.Time) error {
	return c.call(MethodVolumeAssign, rpc.Args{"volume_id": id, "host": host, "status": string(status), "at": at})
}
