package cli

import (
	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <id>",
		Short: "Show a record by id",
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
			rec, err := repo.Get(ctx, args[1])
			if err != nil {
				return classify(err)
			}
			return writeRecord(cmd, rec)
		},
	}
}
