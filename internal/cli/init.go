package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize keepsake storage",
		Long:  "Write a default config.yaml if none exists, then create the configured tables.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer w.close()

	tables := w.cfg.TableNames()
	for _, table := range tables {
		if err := w.tables.CreateTable(ctx, w.repos[table].Type().Schema()); err != nil {
			return sysError(err)
		}
	}
	w.log.Info("initialized storage", "backend", w.cfg.Backend, "tables", len(tables))

	if flags.jsonMode {
		return writeJSON(cmd, map[string]any{
			"backend":  w.cfg.Backend,
			"data_dir": w.dataDir,
			"tables":   tables,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "keepsake initialized: %d tables (%s)\n", len(tables), w.cfg.Backend)
	return nil
}
