package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/corral/pkg/conductor"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/types"
	"github.com/cuemby/corral/pkg/worker"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker host",
	Long: `Run a worker that registers one service per topic with the manager,
heartbeats through the conductor, and handles the requests the scheduler
casts to it.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().String("host", "", "Host name to register as (default: OS hostname)")
	workerCmd.Flags().StringSlice("topics", []string{types.TopicCompute}, "Topics to serve (compute, volume)")
	workerCmd.Flags().String("availability-zone", "nova", "Availability zone of this host")
	workerCmd.Flags().Duration("report-interval", worker.DefaultReportInterval, "Heartbeat interval")
	workerCmd.Flags().String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("worker")

	host := cfg.Worker.Host
	if host == "" {
		host, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to resolve hostname: %v", err)
		}
	}

	bus, err := rpc.NewNATSBus(&rpc.NATSConfig{
		URL:            cfg.Bus.URL,
		Name:           "corral-worker-" + host,
		RequestTimeout: cfg.Bus.RequestTimeout,
	})
	if err != nil {
		return err
	}
	defer bus.Close()

	recorder := conductor.NewClient(bus, cfg.Bus.RequestTimeout)

	var workers []*worker.Worker
	for _, topic := range cfg.Worker.Topics {
		w, err := worker.NewWorker(worker.Config{
			Host:             host,
			Topic:            topic,
			AvailabilityZone: cfg.Worker.AvailabilityZone,
			ReportInterval:   cfg.Worker.ReportInterval,
		}, bus, recorder)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start %s worker: %v", topic, err)
		}
		workers = append(workers, w)
		fmt.Printf("✓ %s worker registered as %s (zone %s)\n", topic, host, cfg.Worker.AvailabilityZone)
	}

	fmt.Println()
	fmt.Println("Worker is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	for _, w := range workers {
		if err := w.Stop(); err != nil {
			logger.Warn().Err(err).Str("host", w.Host()).Msg("Worker stop failed")
		}
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
