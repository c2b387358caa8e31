package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/cuemby/corral/pkg/types"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corral.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, scheduler.DriverSimple, cfg.Scheduler.Driver)
	assert.Equal(t, 16, cfg.Scheduler.MaxCores)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.ServiceDownTime)
	assert.Equal(t, []string{types.TopicCompute}, cfg.Worker.Topics)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
node_id: manager-2
log:
  level: debug
  json: true
bus:
  embedded: false
  url: nats://10.0.0.5:4222
scheduler:
  scheduler_driver: zone
  max_cores: 8
  service_down_time: 90s
worker:
  host: host1
  topics: [compute, volume]
  report_interval: 5s
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "manager-2", cfg.NodeID)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.False(t, cfg.Bus.Embedded)
	assert.Equal(t, "nats://10.0.0.5:4222", cfg.Bus.URL)
	assert.Equal(t, scheduler.DriverZone, cfg.Scheduler.Driver)
	assert.Equal(t, 8, cfg.Scheduler.MaxCores)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.ServiceDownTime)
	assert.Equal(t, 10000, cfg.Scheduler.MaxGigabytes, "unset keys keep their defaults")
	assert.Equal(t, []string{types.TopicCompute, types.TopicVolume}, cfg.Worker.Topics)
	assert.Equal(t, 5*time.Second, cfg.Worker.ReportInterval)
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, `
http_addr: 0.0.0.0:9000
scheduler:
  max_cores: 8
  max_gigabytes: 500
`)
	t.Setenv("CORRAL_SCHEDULER_MAX_CORES", "12")
	t.Setenv("CORRAL_SCHEDULER_MAX_GIGABYTES", "700")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-cores", 16, "")
	flags.String("http-addr", "127.0.0.1:8080", "")
	require.NoError(t, flags.Parse([]string{"--max-cores=20"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Scheduler.MaxCores, "a set flag beats env and file")
	assert.Equal(t, 700, cfg.Scheduler.MaxGigabytes, "env beats file")
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTPAddr, "an unset flag does not override the file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Scheduler.Driver = "random" }},
		{"zero cores", func(c *Config) { c.Scheduler.MaxCores = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"zero bus timeout", func(c *Config) { c.Bus.RequestTimeout = 0 }},
		{"zero monitor interval", func(c *Config) { c.MonitorInterval = 0 }},
		{"unknown topic", func(c *Config) { c.Worker.Topics = []string{"network"} }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  scheduler_driver: random\n")
	_, err := Load(path, nil)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "service_down_time: 1m0s")

	var decoded Config
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, Default(), &decoded)
}
