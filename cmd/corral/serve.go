package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/corral/pkg/api"
	"github.com/cuemby/corral/pkg/conductor"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/manager"
	"github.com/cuemby/corral/pkg/monitor"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a manager: registry, scheduler and API",
	Long: `Run a manager node.

The manager bootstraps a single-node Raft cluster holding the service
registry and resource ledger, starts (or connects to) the NATS bus, and
serves the conductor, the scheduler and the HTTP API.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "manager-1", "Unique node ID")
	serveCmd.Flags().String("data-dir", "./corral-data", "Data directory for cluster state")
	serveCmd.Flags().String("raft-addr", "127.0.0.1:7946", "Address for Raft communication")
	serveCmd.Flags().String("http-addr", "127.0.0.1:8080", "Address for the HTTP API")
	serveCmd.Flags().String("grpc-addr", "127.0.0.1:8081", "Address for gRPC health checks")
	serveCmd.Flags().String("nats-url", "nats://127.0.0.1:4222", "NATS server URL when not embedded")
	serveCmd.Flags().Bool("embedded-nats", true, "Run a NATS server in-process")
	serveCmd.Flags().String("scheduler-driver", scheduler.DriverSimple, fmt.Sprintf("Placement driver %v", scheduler.DriverNames()))
	serveCmd.Flags().Int("max-cores", 16, "Cores a compute host may carry")
	serveCmd.Flags().Int("max-gigabytes", 10000, "Gigabytes a volume host may carry")
	serveCmd.Flags().Duration("service-down-time", 60*time.Second, "Heartbeat age after which a host is down")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("serve")

	fmt.Println("Starting Corral manager...")
	fmt.Printf("  Node ID: %s\n", cfg.NodeID)
	fmt.Printf("  Raft Address: %s\n", cfg.RaftAddr)
	fmt.Printf("  HTTP Address: %s\n", cfg.HTTPAddr)
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Printf("  Driver: %s\n", cfg.Scheduler.Driver)
	fmt.Println()

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.RaftAddr,
		DataDir:  cfg.DataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}
	if err := mgr.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}
	if err := mgr.WaitForLeader(10 * time.Second); err != nil {
		return err
	}
	fmt.Println("✓ Registry ready")

	natsURL := cfg.Bus.URL
	var embedded *rpc.EmbeddedServer
	if cfg.Bus.Embedded {
		embedded, err = rpc.StartEmbeddedServer(cfg.Bus.EmbeddedHost, cfg.Bus.EmbeddedPort)
		if err != nil {
			return err
		}
		natsURL = embedded.ClientURL()
		fmt.Printf("✓ Embedded NATS listening on %s\n", natsURL)
	}

	bus, err := rpc.NewNATSBus(&rpc.NATSConfig{
		URL:            natsURL,
		Name:           "corral-manager-" + cfg.NodeID,
		RequestTimeout: cfg.Bus.RequestTimeout,
	})
	if err != nil {
		return err
	}

	cond := conductor.NewServer(mgr, bus)
	if err := cond.Start(); err != nil {
		return err
	}
	fmt.Println("✓ Conductor started")

	broker := events.NewBroker()
	broker.Start()

	driver, err := scheduler.NewDriver(cfg.Scheduler, scheduler.Deps{Registry: mgr, Ledger: mgr})
	if err != nil {
		return err
	}
	sched := scheduler.NewManager(driver, bus)
	sched.SetEvents(broker)
	if err := sched.Start(); err != nil {
		return err
	}
	fmt.Println("✓ Scheduler started")

	liveness := scheduler.NewLiveness(mgr, cfg.Scheduler.ServiceDownTime, nil)
	mon := monitor.NewMonitor(liveness, cfg.MonitorInterval)
	mon.SetEvents(broker)
	mon.Start()
	collector := manager.NewMetricsCollector(mgr)
	collector.Start()

	httpServer := api.NewServer(api.Config{
		Store:          mgr,
		Liveness:       liveness,
		Bus:            bus,
		Raft:           mgr,
		Events:         broker,
		RequestTimeout: cfg.Bus.RequestTimeout,
	})
	grpcServer := api.NewHealthGRPCServer()
	grpcServer.SetServing(true)

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %v", err)
		}
	}()
	go func() {
		if err := grpcServer.Start(cfg.GRPCAddr); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %v", err)
		}
	}()

	fmt.Println()
	fmt.Println("Manager is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// closing the broker first ends open event streams
	broker.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown failed")
	}
	grpcServer.Stop()
	mon.Stop()
	collector.Stop()
	if err := sched.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Scheduler stop failed")
	}
	if err := cond.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Conductor stop failed")
	}
	if err := bus.Close(); err != nil {
		logger.Warn().Err(err).Msg("Bus close failed")
	}
	if embedded != nil {
		embedded.Shutdown()
	}
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
