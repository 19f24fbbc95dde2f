package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keepsake/pkg/keepsake"
)

const modulePath = "github.com/mesh-intelligence/keepsake"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the keepsake version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "keepsake v%s\nmodule: %s\n", keepsake.Version, modulePath)
			return nil
		},
	}
}
