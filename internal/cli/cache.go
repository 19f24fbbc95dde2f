package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear aggregation caches",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [table ...]",
		Short: "Empty the aggregation cache of cached tables (all when none named)",
		RunE:  runCacheClear,
	})
	return cmd
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer w.close()

	tables := args
	if len(tables) == 0 {
		for _, name := range w.cfg.TableNames() {
			if w.repos[name].Type().IsCached() {
				tables = append(tables, name)
			}
		}
	}

	cleared := make(map[string]int, len(tables))
	for _, table := range tables {
		repo, err := w.repo(table)
		if err != nil {
			return err
		}
		n, err := repo.CacheLen(ctx)
		if err != nil {
			return sysError(err)
		}
		if err := repo.ClearCache(ctx); err != nil {
			return sysError(err)
		}
		cleared[table] = n
	}

	if flags.jsonMode {
		return writeJSON(cmd, map[string]any{"cleared": cleared})
	}
	for _, table := range tables {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries cleared\n", table, cleared[table])
	}
	return nil
}
