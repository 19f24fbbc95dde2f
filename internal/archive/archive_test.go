package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/keepsake/internal/engine"
	"github.com/mesh-intelligence/keepsake/internal/sqlite"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

func customerInfoType(t *testing.T) *types.EntityType {
	t.Helper()
	et := types.NewEntityType(types.MustSchema("customer_infos",
		types.Column{Name: "customer_id", Kind: types.KindText, Required: true},
		types.Column{Name: "person_name_id", Kind: types.KindText},
		types.Column{Name: "previous_id", Kind: types.KindText},
		types.Column{Name: types.ColumnIsCurrent},
		types.Column{Name: types.ColumnLockVersion},
		types.Column{Name: types.ColumnCreatedAt},
		types.Column{Name: types.ColumnUpdatedAt},
	))
	require.NoError(t, et.ActsAsTracked(types.Options{
		types.OptBy:           "customer_id",
		types.OptPrecedingKey: "previous_id",
	}))
	return et
}

func openBackend(t *testing.T, schema *types.Schema) *sqlite.Backend {
	t.Helper()
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })
	require.NoError(t, b.CreateTable(context.Background(), schema))
	return b
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	et := customerInfoType(t)
	src := openBackend(t, et.Schema())
	repo, err := engine.NewRepository(et, src)
	require.NoError(t, err)

	rec := repo.New().MustSet("customer_id", "c1").MustSet("person_name_id", "n1")
	require.NoError(t, repo.Save(ctx, rec))
	first := rec.ID()
	rec.MustSet("person_name_id", "n2")
	require.NoError(t, repo.Save(ctx, rec))

	lines, err := Export(ctx, src, et.Schema())
	require.NoError(t, err)
	require.Len(t, lines, 2)

	path := filepath.Join(t.TempDir(), "customer_infos.jsonl")
	require.NoError(t, WriteFile(path, lines))
	read, skipped, err := ReadFile(path)
	require.NoError(t, err)
	assert.Zero(t, skipped)

	dst := openBackend(t, et.Schema())
	res, err := Import(ctx, dst, et.Schema(), read)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Inserted: 2}, res)

	// History survives: the chain and flags come across verbatim.
	restored, err := engine.NewRepository(et, dst)
	require.NoError(t, err)
	chain, err := restored.History(ctx, rec.ID())
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, first, chain[1].ID())
	assert.False(t, chain[1].IsCurrent())
	assert.True(t, chain[0].IsCurrent())
	assert.Equal(t, int64(1), chain[0].LockVersion())

	// A second import finds every id present.
	res, err = Import(ctx, dst, et.Schema(), read)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Existing: 2}, res)
}

func TestImportRollsBackOnBadLine(t *testing.T) {
	ctx := context.Background()
	et := customerInfoType(t)
	b := openBackend(t, et.Schema())

	good := json.RawMessage(`{"table":"customer_infos","persisted":true,"values":{"id":"a","customer_id":"c1","is_current":true,"lock_version":0}}`)
	wrongTable := json.RawMessage(`{"table":"person_names","persisted":true,"values":{"id":"b"}}`)

	_, err := Import(ctx, b, et.Schema(), []json.RawMessage{good, wrongTable})
	require.ErrorIs(t, err, types.ErrInvalidData)

	n, err := b.Count(ctx, et.Schema(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportRequiresID(t *testing.T) {
	et := customerInfoType(t)
	b := openBackend(t, et.Schema())
	line := json.RawMessage(`{"table":"customer_infos","persisted":true,"values":{"customer_id":"c1"}}`)
	_, err := Import(context.Background(), b, et.Schema(), []json.RawMessage{line})
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

func TestReadLinesSkipsMalformed(t *testing.T) {
	in := strings.NewReader("{\"a\":1}\n\nnot json\n{\"b\":2}\n")
	lines, skipped, err := ReadLines(in)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"b":2}`, string(lines[1]))
}

func TestWriteLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLines(&buf, []json.RawMessage{json.RawMessage(`{"a":1}`), json.RawMessage(`{"b":2}`)}))
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", buf.String())
}
