package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keepsake/internal/archive"
)

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <table>",
		Short: "Write every row of a table as JSONL",
		Long: `Export writes each row of the table, current and superseded, as one JSON
line ordered by id. With --out the file is replaced atomically; otherwise
lines go to stdout.`,
		Args: cobra.ExactArgs(1),
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
			lines, err := archive.Export(ctx, w.store, repo.Type().Schema())
			if err != nil {
				return sysError(err)
			}
			if out == "" {
				if err := archive.WriteLines(cmd.OutOrStdout(), lines); err != nil {
					return sysError(err)
				}
				return nil
			}
			if err := archive.WriteFile(out, lines); err != nil {
				return sysError(err)
			}
			w.log.Info("exported table", "table", args[0], "rows", len(lines), "path", out)
			if flags.jsonMode {
				return writeJSON(cmd, map[string]any{"table": args[0], "rows": len(lines), "path": out})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows of %s to %s\n", len(lines), args[0], out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write to this file instead of stdout")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <table> <file>",
		Short: "Load rows written by export",
		Long: `Import inserts the rows of a JSONL file produced by export, keeping ids
and versioning columns. Rows whose id already exists are skipped, as are
malformed lines. The whole file loads in one transaction.`,
		Args: cobra.ExactArgs(2),
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
			lines, malformed, err := archive.ReadFile(args[1])
			if err != nil {
				return userError(err)
			}
			res, err := archive.Import(ctx, w.store, repo.Type().Schema(), lines)
			if err != nil {
				return classify(err)
			}
			if malformed > 0 {
				w.log.Warn("skipped malformed lines", "path", args[1], "count", malformed)
			}
			if flags.jsonMode {
				return writeJSON(cmd, map[string]any{
					"table":     args[0],
					"inserted":  res.Inserted,
					"existing":  res.Existing,
					"malformed": malformed,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows into %s (%d already present, %d malformed)\n",
				res.Inserted, args[0], res.Existing, malformed)
			return nil
		},
	}
}
