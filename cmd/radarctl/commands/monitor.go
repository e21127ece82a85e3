package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll and print the player roster",
		Long:  "Polls the daemon's player list at a fixed interval until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if err := printRosterOnce(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second,
		"poll interval")

	return cmd
}

func printRosterOnce(ctx context.Context) error {
	players, err := api.Players(ctx)
	if err != nil {
		return err
	}

	out, err := formatPlayers(players, outputFormat)
	if err != nil {
		return err
	}

	fmt.Printf("--- %s ---\n%s\n", time.Now().Format("15:04:05"), out)
	return nil
}
