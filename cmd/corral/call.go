package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/corral/pkg/rpc"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var callCmd = &cobra.Command{
	Use:   "call TOPIC METHOD [KEY=VALUE...]",
	Short: "Send a raw request on the bus",
	Long: `Send a {method, args} request to a bus topic and print the reply.

Examples:
  # Ask any compute worker to identify itself
  corral call compute ping

  # Ask one host directly
  corral call compute.host1 ping

  # Schedule an existing instance through the scheduler
  corral call scheduler run_instance instance_id=3f2a...

  # Fire and forget
  corral call --cast compute.host1 terminate_instance instance_id=3f2a...`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	callCmd.Flags().Bool("cast", false, "Do not wait for a reply")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cast, _ := cmd.Flags().GetBool("cast")

	msgArgs, err := parseArgs(args[2:])
	if err != nil {
		return err
	}

	bus, err := rpc.NewNATSBus(&rpc.NATSConfig{
		URL:            cfg.Bus.URL,
		Name:           "corral-cli",
		RequestTimeout: cfg.Bus.RequestTimeout,
	})
	if err != nil {
		return err
	}
	defer bus.Close()

	msg := &rpc.Message{Method: args[1], Args: msgArgs}
	ctx := context.Background()
	if cast {
		return bus.Cast(ctx, args[0], msg)
	}

	var reply interface{}
	if err := bus.Call(ctx, args[0], msg, &reply); err != nil {
		return err
	}
	if reply == nil {
		fmt.Println("ok")
		return nil
	}
	out, err := yaml.Marshal(reply)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// parseArgs turns KEY=VALUE pairs into message arguments. Integer values
// are sent as integers.
func parseArgs(pairs []string) (rpc.Args, error) {
	out := rpc.Args{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not KEY=VALUE", pair)
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			out[key] = n
			continue
		}
		out[key] = value
	}
	return out, nil
}
