package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/corral/pkg/api"
)

// DefaultTimeout bounds each request made by the CLI
const DefaultTimeout = 10 * time.Second

// Client wraps the corral HTTP API for CLI usage
type Client struct {
	baseURL string
	http    *http.Client
}

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the API at addr ("host:port" or a URL)
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *Client) do(method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach manager: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Kind: apiErr.Kind, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health returns the liveness response of the manager
func (c *Client) Health() (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Zones lists availability zones with the liveness of their hosts
func (c *Client) Zones() ([]api.ZoneView, error) {
	var zones []api.ZoneView
	if err := c.do(http.MethodGet, "/v1/zones", nil, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// ListServices lists registry records, optionally for one topic
func (c *Client) ListServices(topic string) ([]api.ServiceView, error) {
	path := "/v1/services"
	if topic != "" {
		path += "?topic=" + url.QueryEscape(topic)
	}
	var services []api.ServiceView
	if err := c.do(http.MethodGet, path, nil, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// DisableService stops unconstrained placement on a service
func (c *Client) DisableService(topic, host string) error {
	return c.do(http.MethodPost, servicePath(topic, host, "disable"), nil, nil)
}

// EnableService re-admits a service to unconstrained placement
func (c *Client) EnableService(topic, host string) error {
	return c.do(http.MethodPost, servicePath(topic, host, "enable"), nil, nil)
}

// DeleteService decommissions a service; its record is soft-deleted
func (c *Client) DeleteService(topic, host string) error {
	return c.do(http.MethodDelete, servicePath(topic, host, ""), nil, nil)
}

func servicePath(topic, host, action string) string {
	path := fmt.Sprintf("/v1/services/%s/%s", url.PathEscape(topic), url.PathEscape(host))
	if action != "" {
		path += "/" + action
	}
	return path
}

// CreateInstance requests a new instance. az may be "", "zone" or
// "zone:host".
func (c *Client) CreateInstance(vcpus int, az string) (*api.InstanceView, error) {
	var inst api.InstanceView
	req := api.CreateInstanceRequest{VCPUs: vcpus, AvailabilityZone: az}
	if err := c.do(http.MethodPost, "/v1/instances", req, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances lists every instance in the ledger
func (c *Client) ListInstances() ([]api.InstanceView, error) {
	var instances []api.InstanceView
	if err := c.do(http.MethodGet, "/v1/instances", nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstance gets an instance by ID
func (c *Client) GetInstance(id string) (*api.InstanceView, error) {
	var inst api.InstanceView
	if err := c.do(http.MethodGet, "/v1/instances/"+url.PathEscape(id), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// TerminateInstance asks the instance's host to terminate it
func (c *Client) TerminateInstance(id string) error {
	return c.do(http.MethodDelete, "/v1/instances/"+url.PathEscape(id), nil, nil)
}

// CreateVolume requests a new volume of sizeGB gigabytes
func (c *Client) CreateVolume(sizeGB int, az string) (*api.VolumeView, error) {
	var vol api.VolumeView
	req := api.CreateVolumeRequest{SizeGB: sizeGB, AvailabilityZone: az}
	if err := c.do(http.MethodPost, "/v1/volumes", req, &vol); err != nil {
		return nil, err
	}
	return &vol, nil
}

// ListVolumes lists every volume in the ledger
func (c *Client) ListVolumes() ([]api.VolumeView, error) {
	var volumes []api.VolumeView
	if err := c.do(http.MethodGet, "/v1/volumes", nil, &volumes); err != nil {
		return nil, err
	}
	return volumes, nil
}

// GetVolume gets a volume by ID
func (c *Client) GetVolume(id string) (*api.VolumeView, error) {
	var vol api.VolumeView
	if err := c.do(http.MethodGet, "/v1/volumes/"+url.PathEscape(id), nil, &vol); err != nil {
		return nil, err
	}
	return &vol, nil
}

// DeleteVolume asks the volume's host to delete it
func (c *Client) DeleteVolume(id string) error {
	return c.do(http.MethodDelete, "/v1/volumes/"+url.PathEscape(id), nil, nil)
}
