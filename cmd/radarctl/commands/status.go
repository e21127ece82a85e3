package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := api.Status(cmd.Context())
			if err != nil {
				return err
			}

			out, err := formatStatus(st, outputFormat)
			if err != nil {
				return err
			}

			fmt.Println(out)
			return nil
		},
	}
}
