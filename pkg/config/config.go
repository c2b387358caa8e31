package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/cuemby/corral/pkg/types"
	"github.com/cuemby/corral/pkg/worker"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override (CORRAL_HTTP_ADDR,
// CORRAL_SCHEDULER_MAX_CORES, ...)
const EnvPrefix = "CORRAL"

// Config is the process configuration shared by the manager and worker
// commands
type Config struct {
	NodeID          string        `mapstructure:"node_id" yaml:"node_id"`
	DataDir         string        `mapstructure:"data_dir" yaml:"data_dir"`
	RaftAddr        string        `mapstructure:"raft_addr" yaml:"raft_addr"`
	HTTPAddr        string        `mapstructure:"http_addr" yaml:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`

	Log       LogConfig        `mapstructure:"log" yaml:"log"`
	Bus       BusConfig        `mapstructure:"bus" yaml:"bus"`
	Scheduler scheduler.Config `mapstructure:"scheduler" yaml:"scheduler"`
	Worker    WorkerConfig     `mapstructure:"worker" yaml:"worker"`
}

// LogConfig selects the zerolog level and output format
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// BusConfig locates the NATS server. With Embedded set the manager runs
// one in-process on EmbeddedHost:EmbeddedPort and URL is ignored.
type BusConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	Embedded       bool          `mapstructure:"embedded" yaml:"embedded"`
	EmbeddedHost   string        `mapstructure:"embedded_host" yaml:"embedded_host"`
	EmbeddedPort   int           `mapstructure:"embedded_port" yaml:"embedded_port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// WorkerConfig identifies a worker process
type WorkerConfig struct {
	Host             string        `mapstructure:"host" yaml:"host"`
	Topics           []string      `mapstructure:"topics" yaml:"topics"`
	AvailabilityZone string        `mapstructure:"availability_zone" yaml:"availability_zone"`
	ReportInterval   time.Duration `mapstructure:"report_interval" yaml:"report_interval"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	sched := scheduler.DefaultConfig()
	return &Config{
		NodeID:          "manager-1",
		DataDir:         "./corral-data",
		RaftAddr:        "127.0.0.1:7946",
		HTTPAddr:        "127.0.0.1:8080",
		GRPCAddr:        "127.0.0.1:8081",
		MonitorInterval: 10 * time.Second,
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		Bus: BusConfig{
			URL:            "nats://127.0.0.1:4222",
			Embedded:       true,
			EmbeddedHost:   "127.0.0.1",
			EmbeddedPort:   4222,
			RequestTimeout: rpc.DefaultRequestTimeout,
		},
		Scheduler: sched,
		Worker: WorkerConfig{
			Topics:           []string{types.TopicCompute},
			AvailabilityZone: sched.DefaultAvailabilityZone,
			ReportInterval:   worker.DefaultReportInterval,
		},
	}
}

// flagKeys binds command line flags onto configuration keys
var flagKeys = map[string]string{
	"node-id":           "node_id",
	"data-dir":          "data_dir",
	"raft-addr":         "raft_addr",
	"http-addr":         "http_addr",
	"grpc-addr":         "grpc_addr",
	"log-level":         "log.level",
	"log-json":          "log.json",
	"nats-url":          "bus.url",
	"embedded-nats":     "bus.embedded",
	"scheduler-driver":  "scheduler.scheduler_driver",
	"max-cores":         "scheduler.max_cores",
	"max-gigabytes":     "scheduler.max_gigabytes",
	"service-down-time": "scheduler.service_down_time",
	"host":              "worker.host",
	"topics":            "worker.topics",
	"availability-zone": "worker.availability_zone",
	"report-interval":   "worker.report_interval",
}

// Load builds the configuration from, in increasing precedence, defaults,
// the YAML file at path (optional), CORRAL_* environment variables and any
// flags in flags that were set on the command line.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("raft_addr", d.RaftAddr)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("monitor_interval", d.MonitorInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)

	v.SetDefault("bus.url", d.Bus.URL)
	v.SetDefault("bus.embedded", d.Bus.Embedded)
	v.SetDefault("bus.embedded_host", d.Bus.EmbeddedHost)
	v.SetDefault("bus.embedded_port", d.Bus.EmbeddedPort)
	v.SetDefault("bus.request_timeout", d.Bus.RequestTimeout)

	v.SetDefault("scheduler.scheduler_driver", d.Scheduler.Driver)
	v.SetDefault("scheduler.max_cores", d.Scheduler.MaxCores)
	v.SetDefault("scheduler.max_gigabytes", d.Scheduler.MaxGigabytes)
	v.SetDefault("scheduler.service_down_time", d.Scheduler.ServiceDownTime)
	v.SetDefault("scheduler.default_availability_zone", d.Scheduler.DefaultAvailabilityZone)

	v.SetDefault("worker.host", d.Worker.Host)
	v.SetDefault("worker.topics", d.Worker.Topics)
	v.SetDefault("worker.availability_zone", d.Worker.AvailabilityZone)
	v.SetDefault("worker.report_interval", d.Worker.ReportInterval)
}

// Validate checks the settings every command depends on. Worker identity is
// checked by the worker itself.
func (c *Config) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}
	switch log.Level(c.Log.Level) {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Bus.RequestTimeout <= 0 {
		return fmt.Errorf("bus.request_timeout must be positive, got %s", c.Bus.RequestTimeout)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be positive, got %s", c.MonitorInterval)
	}
	if c.Worker.ReportInterval <= 0 {
		return fmt.Errorf("worker.report_interval must be positive, got %s", c.Worker.ReportInterval)
	}
	for _, topic := range c.Worker.Topics {
		if topic != types.TopicCompute && topic != types.TopicVolume {
			return fmt.Errorf("unknown worker topic %q", topic)
		}
	}
	return nil
}

// LogSettings returns the settings for log.Init
func (c *Config) LogSettings() log.Config {
	return log.Config{
		Level:      log.Level(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
