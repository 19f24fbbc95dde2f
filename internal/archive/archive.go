package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// Export returns every row of schema's table, ordered by id, encoded one
// record per element.
func Export(ctx context.Context, store types.Store, schema *types.Schema) ([]json.RawMessage, error) {
	rows, err := store.Find(ctx, schema, types.Query{})
	if err != nil {
		return nil, err
	}
	lines := make([]json.RawMessage, 0, len(rows))
	for _, rec := range rows {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s: %w", schema.Table, rec.ID(), err)
		}
		lines = append(lines, data)
	}
	return lines, nil
}

// ImportResult counts what Import did.
type ImportResult struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// Import inserts exported rows verbatim, keeping ids and the is_current,
// lock_version and preceding-key values. Rows whose id is already present
// are left alone. Rows bypass the engine, so the file must come from
// Export of the same table. Everything runs in one transaction.
func Import(ctx context.Context, store types.Store, schema *types.Schema, lines []json.RawMessage) (ImportResult, error) {
	var res ImportResult
	err := store.WithTx(ctx, func(tx types.Store) error {
		for i, line := range lines {
			rec, err := types.DecodeRecord(schema, line)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			if rec.ID() == "" {
				return fmt.Errorf("line %d: %w", i+1, types.ErrInvalidID)
			}
			n, err := tx.Count(ctx, schema, map[string]any{types.ColumnID: rec.ID()})
			if err != nil {
				return err
			}
			if n > 0 {
				res.Existing++
				continue
			}
			if err := tx.Insert(ctx, rec); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			res.Inserted++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}
