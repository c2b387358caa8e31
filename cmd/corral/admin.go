package main

import (
	"fmt"
	"time"

	"github.com/cuemby/corral/pkg/client"
	"github.com/spf13/cobra"
)

func addManagerFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("manager", "127.0.0.1:8080", "Manager HTTP API address")
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("manager")
	return client.NewClient(addr)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "List availability zones and host liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		zones, err := newClient(cmd).Zones()
		if err != nil {
			return err
		}
		if len(zones) == 0 {
			fmt.Println("No zones")
			return nil
		}
		for _, zone := range zones {
			state := "available"
			if !zone.Available {
				state = "unavailable"
			}
			fmt.Printf("%s (%s)\n", zone.Name, state)
			for _, h := range zone.Hosts {
				admin := ""
				if h.Disabled {
					admin = " disabled"
				}
				fmt.Printf("  %-20s %-10s %-5s%s  heartbeat %s\n", h.Host, h.Topic, upDown(h.Up), admin, ago(h.LastHeartbeat))
			}
		}
		return nil
	},
}

// Service commands
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage registered worker services",
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List services",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		services, err := newClient(cmd).ListServices(topic)
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-10s %-12s %-5s %-8s %s\n", "HOST", "TOPIC", "ZONE", "STATE", "ADMIN", "HEARTBEAT")
		for _, svc := range services {
			admin := "enabled"
			if svc.Disabled {
				admin = "disabled"
			}
			fmt.Printf("%-20s %-10s %-12s %-5s %-8s %s\n", svc.Host, svc.Topic, svc.AvailabilityZone, upDown(svc.Up), admin, ago(svc.LastHeartbeat))
		}
		return nil
	},
}

var serviceDisableCmd = &cobra.Command{
	Use:   "disable TOPIC HOST",
	Short: "Stop placing unconstrained requests on a service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).DisableService(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ %s on %s disabled (pinned requests still reach it)\n", args[0], args[1])
		return nil
	},
}

var serviceEnableCmd = &cobra.Command{
	Use:   "enable TOPIC HOST",
	Short: "Re-admit a service to placement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).EnableService(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ %s on %s enabled\n", args[0], args[1])
		return nil
	},
}

var serviceDeleteCmd = &cobra.Command{
	Use:   "delete TOPIC HOST",
	Short: "Decommission a service",
	Long: `Decommission a service. The record is soft-deleted, so the host no longer
receives requests and pins to it are refused. A worker that is still running
registers again on its next report.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).DeleteService(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ %s on %s decommissioned\n", args[0], args[1])
		return nil
	},
}

func init() {
	addManagerFlag(zonesCmd)
	addManagerFlag(serviceCmd)
	serviceCmd.AddCommand(serviceListCmd)
	serviceCmd.AddCommand(serviceDisableCmd)
	serviceCmd.AddCommand(serviceEnableCmd)
	serviceCmd.AddCommand(serviceDeleteCmd)
	serviceListCmd.Flags().String("topic", "", "Only list services of this topic")
}

// Instance commands
var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage compute instances",
}

var instanceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Request a new instance",
	Long: `Request a new instance. --zone accepts a zone name, or ZONE:HOST to pin
the instance to one host.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		vcpus, _ := cmd.Flags().GetInt("vcpus")
		zone, _ := cmd.Flags().GetString("zone")
		inst, err := newClient(cmd).CreateInstance(vcpus, zone)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Instance %s scheduled\n", inst.ID)
		return nil
	},
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		instances, err := newClient(cmd).ListInstances()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s %-20s %-6s %-12s %s\n", "ID", "HOST", "VCPUS", "STATE", "ZONE")
		for _, inst := range instances {
			fmt.Printf("%-36s %-20s %-6d %-12s %s\n", inst.ID, inst.Host, inst.VCPUs, inst.State, inst.AvailabilityZone)
		}
		return nil
	},
}

var instanceDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Terminate an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).TerminateInstance(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Instance %s terminating\n", args[0])
		return nil
	},
}

func init() {
	addManagerFlag(instanceCmd)
	instanceCmd.AddCommand(instanceCreateCmd)
	instanceCmd.AddCommand(instanceListCmd)
	instanceCmd.AddCommand(instanceDeleteCmd)
	instanceCreateCmd.Flags().Int("vcpus", 1, "Cores to reserve")
	instanceCreateCmd.Flags().String("zone", "", "Availability zone, or ZONE:HOST")
}

// Volume commands
var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Request a new volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("size")
		zone, _ := cmd.Flags().GetString("zone")
		vol, err := newClient(cmd).CreateVolume(size, zone)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Volume %s scheduled\n", vol.ID)
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		volumes, err := newClient(cmd).ListVolumes()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s %-20s %-8s %-12s %s\n", "ID", "HOST", "SIZE", "STATUS", "ZONE")
		for _, vol := range volumes {
			fmt.Printf("%-36s %-20s %-8s %-12s %s\n", vol.ID, vol.Host, fmt.Sprintf("%dG", vol.SizeGB), vol.Status, vol.AvailabilityZone)
		}
		return nil
	},
}

var volumeDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).DeleteVolume(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Volume %s deleting\n", args[0])
		return nil
	},
}

func init() {
	addManagerFlag(volumeCmd)
	volumeCmd.AddCommand(volumeCreateCmd)
	volumeCmd.AddCommand(volumeListCmd)
	volumeCmd.AddCommand(volumeDeleteCmd)
	volumeCreateCmd.Flags().Int("size", 1, "Size in gigabytes")
	volumeCreateCmd.Flags().String("zone", "", "Availability zone, or ZONE:HOST")
}
