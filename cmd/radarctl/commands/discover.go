package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/picoradar/picoradar/internal/config"
	"github.com/picoradar/picoradar/internal/discovery"
)

func discoverCmd() *cobra.Command {
	var (
		udpPort int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find a picoradar server on the LAN",
		Long:  "Broadcasts a UDP discovery request and prints the first server address that answers.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			addr, err := discovery.Discover(ctx, udpPort)
			if err != nil {
				return fmt.Errorf("no server answered within %s: %w", timeout, err)
			}

			fmt.Println(addr)
			return nil
		},
	}

	cmd.Flags().IntVar(&udpPort, "udp-port", config.DefaultDiscoveryPort,
		"discovery UDP port")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second,
		"how long to wait for an answer")

	return cmd
}
