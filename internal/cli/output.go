package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

func writeJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sysError(fmt.Errorf("marshal JSON: %w", err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// writeRecord prints a record as column=value lines, or as JSON.
func writeRecord(cmd *cobra.Command, rec *types.Record) error {
	if flags.jsonMode {
		return writeJSON(cmd, rec)
	}
	for _, name := range rec.Schema().ColumnNames() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, display(rec.Get(name)))
	}
	return nil
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(types.TimeLayout)
	}
	return fmt.Sprint(v)
}
