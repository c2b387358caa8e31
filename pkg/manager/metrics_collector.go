package manager

import (
	"time"

	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// MetricsCollector periodically exports registry, ledger and Raft gauges
type MetricsCollector struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager:  mgr,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectServiceMetrics()
	c.collectResourceMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectServiceMetrics() {
	services, err := c.manager.ListServices()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, svc := range services {
		counts[svc.Topic]++
	}
	for topic, count := range counts {
		metrics.ServicesTotal.WithLabelValues(topic).Set(float64(count))
	}
}

func (c *MetricsCollector) collectResourceMetrics() {
	services, err := c.manager.ListServices()
	if err != nil {
		return
	}

	kinds := map[string]types.ResourceKind{
		types.TopicCompute: types.ResourceCores,
		types.TopicVolume:  types.ResourceGigabytes,
	}
	for _, svc := range services {
		kind, ok := kinds[svc.Topic]
		if !ok {
			continue
		}
		used, err := c.manager.SumActiveResource(svc.Host, kind)
		if err != nil {
			continue
		}
		metrics.ResourceUsed.WithLabelValues(svc.Host, string(kind)).Set(float64(used))
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats != nil {
		if appliedIndex, ok := stats["applied_index"].(uint64); ok {
			metrics.RaftAppliedIndex.Set(float64(appliedIndex))
		}
	}
}
