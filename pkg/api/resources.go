package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/cuemby/corral/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ZoneView is the JSON form of an availability zone
type ZoneView struct {
	Name      string     `json:"name"`
	Available bool       `json:"available"`
	Hosts     []HostView `json:"hosts"`
}

// HostView is the JSON form of one service inside a zone
type HostView struct {
	Host          string    `json:"host"`
	Topic         string    `json:"topic"`
	Up            bool      `json:"up"`
	Disabled      bool      `json:"disabled"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ServiceView is the JSON form of a registry record
type ServiceView struct {
	Host             string    `json:"host"`
	Topic            string    `json:"topic"`
	Binary           string    `json:"binary"`
	AvailabilityZone string    `json:"availability_zone"`
	Disabled         bool      `json:"disabled"`
	Up               bool      `json:"up"`
	ReportCount      int       `json:"report_count"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
}

// InstanceView is the JSON form of a ledger instance
type InstanceView struct {
	ID               string    `json:"id"`
	Host             string    `json:"host,omitempty"`
	VCPUs            int       `json:"vcpus"`
	AvailabilityZone string    `json:"availability_zone,omitempty"`
	State            string    `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// VolumeView is the JSON form of a ledger volume
type VolumeView struct {
	ID               string    `json:"id"`
	Host             string    `json:"host,omitempty"`
	SizeGB           int       `json:"size_gb"`
	AvailabilityZone string    `json:"availability_zone,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// CreateInstanceRequest is the body of POST /v1/instances
type CreateInstanceRequest struct {
	VCPUs            int    `json:"vcpus"`
	AvailabilityZone string `json:"availability_zone"`
}

// CreateVolumeRequest is the body of POST /v1/volumes
type CreateVolumeRequest struct {
	SizeGB           int    `json:"size_gb"`
	AvailabilityZone string `json:"availability_zone"`
}

func instanceView(inst *types.Instance) InstanceView {
	return InstanceView{
		ID:               inst.ID,
		Host:             inst.Host,
		VCPUs:            inst.VCPUs,
		AvailabilityZone: inst.AvailabilityZone,
		State:            string(inst.State),
		CreatedAt:        inst.CreatedAt,
		UpdatedAt:        inst.UpdatedAt,
	}
}

func volumeView(vol *types.Volume) VolumeView {
	return VolumeView{
		ID:               vol.ID,
		Host:             vol.Host,
		SizeGB:           vol.SizeGB,
		AvailabilityZone: vol.AvailabilityZone,
		Status:           string(vol.Status),
		CreatedAt:        vol.CreatedAt,
		UpdatedAt:        vol.UpdatedAt,
	}
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.liveness.Zones()
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]ZoneView, 0, len(zones))
	for _, zone := range zones {
		view := ZoneView{Name: zone.Name, Available: zone.Available, Hosts: make([]HostView, 0, len(zone.Hosts))}
		for _, h := range zone.Hosts {
			view.Hosts = append(view.Hosts, HostView{
				Host:          h.Host,
				Topic:         h.Topic,
				Up:            h.Up,
				Disabled:      h.Disabled,
				LastHeartbeat: h.LastHeartbeat,
			})
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	var (
		services []*types.Service
		err      error
	)
	if topic := r.URL.Query().Get("topic"); topic != "" {
		services, err = s.store.ListServicesByTopic(topic)
	} else {
		services, err = s.store.ListServices()
	}
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	out := make([]ServiceView, 0, len(services))
	for _, svc := range services {
		out = append(out, ServiceView{
			Host:             svc.Host,
			Topic:            svc.Topic,
			Binary:           svc.Binary,
			AvailabilityZone: svc.AvailabilityZone,
			Disabled:         svc.Disabled,
			Up:               s.liveness.IsUp(svc, now),
			ReportCount:      svc.ReportCount,
			LastHeartbeat:    svc.LastHeartbeat(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) setServiceDisabled(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic, host := chi.URLParam(r, "topic"), chi.URLParam(r, "host")
		if err := s.store.SetServiceDisabled(topic, host, disabled); err != nil {
			writeError(w, err)
			return
		}
		s.logger.Info().
			Str("topic", topic).
			Str("host", host).
			Bool("disabled", disabled).
			Msg("Service admin state changed")
		w.WriteHeader(http.StatusNoContent)
	}
}

// deleteService decommissions a worker. The record is soft-deleted; a worker
// that is still running registers again on its next report.
func (s *Server) deleteService(w http.ResponseWriter, r *http.Request) {
	topic, host := chi.URLParam(r, "topic"), chi.URLParam(r, "host")
	if err := s.store.DeleteService(topic, host, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info().
		Str("topic", topic).
		Str("host", host).
		Msg("Service decommissioned")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.store.ListInstances()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]InstanceView, 0, len(instances))
	for _, inst := range instances {
		out = append(out, instanceView(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.store.GetInstance(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceView(inst))
}

// createInstance records a pending instance and asks the scheduler to place
// it. The instance turns running once its compute worker picks it up.
func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", scheduler.ErrInvalidRequest, err))
		return
	}
	if req.VCPUs <= 0 {
		writeError(w, fmt.Errorf("%w: vcpus must be positive", scheduler.ErrInvalidRequest))
		return
	}

	inst := &types.Instance{
		ID:               uuid.New().String(),
		VCPUs:            req.VCPUs,
		AvailabilityZone: req.AvailabilityZone,
		State:            types.InstanceStatePending,
		CreatedAt:        time.Now(),
	}
	if err := s.store.CreateInstance(inst); err != nil {
		writeError(w, err)
		return
	}

	if err := s.schedule(r.Context(), "run_instance", rpc.Args{
		"instance_id":       inst.ID,
		"availability_zone": inst.AvailabilityZone,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, instanceView(inst))
}

// terminateInstance routes terminate_instance back to the instance's host
func (s *Server) terminateInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.store.GetInstance(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if inst.Host == "" {
		writeError(w, fmt.Errorf("%w: instance %s is not placed", scheduler.ErrInvalidRequest, inst.ID))
		return
	}

	pin := scheduler.Placement{
		Kind: scheduler.HostPinned,
		Zone: scheduler.ParsePlacement(inst.AvailabilityZone).Zone,
		Host: inst.Host,
	}
	err = s.schedule(r.Context(), "terminate_instance", rpc.Args{
		"instance_id":       inst.ID,
		"availability_zone": pin.String(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listVolumes(w http.ResponseWriter, r *http.Request) {
	volumes, err := s.store.ListVolumes()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]VolumeView, 0, len(volumes))
	for _, vol := range volumes {
		out = append(out, volumeView(vol))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getVolume(w http.ResponseWriter, r *http.Request) {
	vol, err := s.store.GetVolume(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, volumeView(vol))
}

func (s *Server) createVolume(w http.ResponseWriter, r *http.Request) {
	var req CreateVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", scheduler.ErrInvalidRequest, err))
		return
	}
	if req.SizeGB <= 0 {
		writeError(w, fmt.Errorf("%w: size_gb must be positive", scheduler.ErrInvalidRequest))
		return
	}

	vol := &types.Volume{
		ID:               uuid.New().String(),
		SizeGB:           req.SizeGB,
		AvailabilityZone: req.AvailabilityZone,
		Status:           types.VolumeStatusCreating,
		CreatedAt:        time.Now(),
	}
	if err := s.store.CreateVolume(vol); err != nil {
		writeError(w, err)
		return
	}

	if err := s.schedule(r.Context(), "create_volume", rpc.Args{
		"volume_id":         vol.ID,
		"availability_zone": vol.AvailabilityZone,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, volumeView(vol))
}

func (s *Server) deleteVolume(w http.ResponseWriter, r *http.Request) {
	vol, err := s.store.GetVolume(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if vol.Host == "" {
		writeError(w, fmt.Errorf("%w: volume %s is not placed", scheduler.ErrInvalidRequest, vol.ID))
		return
	}

	pin := scheduler.Placement{
		Kind: scheduler.HostPinned,
		Zone: scheduler.ParsePlacement(vol.AvailabilityZone).Zone,
		Host: vol.Host,
	}
	err = s.schedule(r.Context(), "delete_volume", rpc.Args{
		"volume_id":         vol.ID,
		"availability_zone": pin.String(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// schedule sends action to the scheduler topic and waits for the placement
// decision, not for the worker
func (s *Server) schedule(ctx context.Context, action string, args rpc.Args) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.bus.Call(ctx, types.TopicScheduler, &rpc.Message{Method: action, Args: args}, nil)
}
