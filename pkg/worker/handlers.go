package worker

import (
	"context"
	"fmt"

	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/types"
)

// PingReply is returned by the ping command
type PingReply struct {
	Host  string `cbor:"host"`
	Topic string `cbor:"topic"`
	Zone  string `cbor:"zone"`
}

// handlersFor returns the commands a worker of topic understands. Every
// worker answers ping.
func (w *Worker) handlersFor(topic string) map[string]rpc.Handler {
	handlers := map[string]rpc.Handler{
		"ping": w.ping,
	}
	switch topic {
	case types.TopicCompute:
		handlers["run_instance"] = w.runInstance
		handlers["terminate_instance"] = w.terminateInstance
	case types.TopicVolume:
		handlers["create_volume"] = w.createVolume
		handlers["delete_volume"] = w.deleteVolume
	}
	return handlers
}

func (w *Worker) ping(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	return &PingReply{
		Host:  w.cfg.Host,
		Topic: w.cfg.Topic,
		Zone:  w.cfg.AvailabilityZone,
	}, nil
}

func (w *Worker) runInstance(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	id, err := requireID(msg, "instance_id")
	if err != nil {
		return nil, err
	}
	if err := w.recorder.AssignInstance(id, w.cfg.Host, types.InstanceStateRunning, w.cfg.Now()); err != nil {
		return nil, fmt.Errorf("failed to record instance %s: %w", id, err)
	}
	w.logger.Info().Str("instance_id", id).Msg("Instance running")
	return nil, nil
}

func (w *Worker) terminateInstance(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	id, err := requireID(msg, "instance_id")
	if err != nil {
		return nil, err
	}
	if err := w.recorder.AssignInstance(id, w.cfg.Host, types.InstanceStateTerminated, w.cfg.Now()); err != nil {
		return nil, fmt.Errorf("failed to record instance %s: %w", id, err)
	}
	w.logger.Info().Str("instance_id", id).Msg("Instance terminated")
	return nil, nil
}

func (w *Worker) createVolume(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	id, err := requireID(msg, "volume_id")
	if err != nil {
		return nil, err
	}
	if err := w.recorder.AssignVolume(id, w.cfg.Host, types.VolumeStatusAvailable, w.cfg.Now()); err != nil {
		return nil, fmt.Errorf("failed to record volume %s: %w", id, err)
	}
	w.logger.Info().Str("volume_id", id).Msg("Volume available")
	return nil, nil
}

func (w *Worker) deleteVolume(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	id, err := requireID(msg, "volume_id")
	if err != nil {
		return nil, err
	}
	if err := w.recorder.AssignVolume(id, w.cfg.Host, types.VolumeStatusDeleted, w.cfg.Now()); err != nil {
		return nil, fmt.Errorf("failed to record volume %s: %w", id, err)
	}
	w.logger.Info().Str("volume_id", id).Msg("Volume deleted")
	return nil, nil
}

func requireID(msg *rpc.Message, key string) (string, error) {
	id := msg.Args.String(key)
	if id == "" {
		return "", fmt.Errorf("%s needs %s", msg.Method, key)
	}
	return id, nil
}
