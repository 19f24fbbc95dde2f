package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSaveCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "save <table> [column=value ...]",
		Short: "Create or change a record",
		Long: `Save builds a new record, or loads the record given by --id, applies the
column assignments and saves it through the engine. Aggregated tables may
resolve to an existing row; tracked tables write a new current row when
content changes. An empty value (column=) stores NULL.

Example:
  keepsake save person_names first_name=John last_name=Smith
  keepsake save customer_infos --id 0190... person_name_id=0191...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(cmd, args[0], id, args[1:])
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "load and change the record with this id")
	return cmd
}

// parseAssignments turns column=value arguments into a map. An empty value
// means NULL.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected column=value, got %q", arg)
		}
		if value == "" {
			out[name] = nil
			continue
		}
		out[name] = value
	}
	return out, nil
}

func runSave(cmd *cobra.Command, table, id string, args []string) error {
	values, err := parseAssignments(args)
	if err != nil {
		return userError(err)
	}

	ctx := cmd.Context()
	w, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer w.close()

	repo, err := w.repo(table)
	if err != nil {
		return err
	}
	rec := repo.New()
	if id != "" {
		if rec, err = repo.Get(ctx, id); err != nil {
			return classify(err)
		}
	}
	for name, v := range values {
		if err := rec.Set(name, v); err != nil {
			return classify(err)
		}
	}
	if err := repo.Save(ctx, rec); err != nil {
		return classify(err)
	}

	if flags.jsonMode {
		return writeJSON(cmd, map[string]any{
			"record":                  rec,
			"resolved_by_aggregation": rec.ResolvedByAggregation(),
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id=%s\n", rec.ID())
	if rec.Schema().HasLockVersion() {
		fmt.Fprintf(out, "lock_version=%d\n", rec.LockVersion())
	}
	if rec.Schema().HasIsCurrent() {
		fmt.Fprintf(out, "is_current=%t\n", rec.IsCurrent())
	}
	if repo.Type().IsAggregated() {
		fmt.Fprintf(out, "resolved_by_aggregation=%t\n", rec.ResolvedByAggregation())
	}
	return nil
}
