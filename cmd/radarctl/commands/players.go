package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func playersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "players",
		Short: "List players currently sharing position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			players, err := api.Players(cmd.Context())
			if err != nil {
				return err
			}

			out, err := formatPlayers(players, outputFormat)
			if err != nil {
				return err
			}

			fmt.Println(out)
			return nil
		},
	}
}
