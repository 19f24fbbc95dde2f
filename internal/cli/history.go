package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <table> <id>",
		Short: "List a tracked record and its predecessors, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer w.close()

			repo, err := w.repo(args[0])
			if err != nil {
				return err
			}
			chain, err := repo.History(ctx, args[1])
			if err != nil {
				return classify(err)
			}
			if flags.jsonMode {
				return writeJSON(cmd, chain)
			}
			return writeHistory(cmd, chain)
		},
	}
}

func writeHistory(cmd *cobra.Command, chain []*types.Record) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOCK_VERSION\tCURRENT\tCREATED_AT")
	for _, rec := range chain {
		created := ""
		if rec.Schema().HasCreatedAt() {
			created = display(rec.CreatedAt())
		}
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", rec.ID(), rec.LockVersion(), rec.IsCurrent(), created)
	}
	return tw.Flush()
}
