package stepexec

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckflow/internal/ddl"
	"duckflow/internal/domain"
	"duckflow/internal/testutil"
)

func setupExecutor(t *testing.T, store domain.ObjectStore) (*DuckDBExecutor, string) {
	t.Helper()
	db, err := OpenDuckDB(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	csv := "id,region,amount\n1,EU,10\n2,US,20\n3,EU,\n4,APAC,40\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.csv"), []byte(csv), 0o600))
	regions := "region,manager\nEU,ana\nUS,bo\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "regions.csv"), []byte(regions), 0o600))

	return New(db, store, slog.New(slog.DiscardHandler)), dir
}

func TestDuckDBExecutor_EndToEnd(t *testing.T) {
	ctx := context.Background()
	exec, dir := setupExecutor(t, nil)

	sales, err := exec.Load(ctx, filepath.Join(dir, "sales.csv"), domain.FormatCSV, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sales.Rows)
	assert.Equal(t, []string{"id", "region", "amount"}, sales.Columns)

	filled, err := exec.Transform(ctx, sales, []domain.TransformOperation{
		{Type: "fill_na", Value: float64(0), Columns: []string{"amount"}},
		{Type: "add_column", Name: "amount_x2", Expression: "amount * 2"},
		{Type: "rename_columns", Mapping: map[string]string{"id": "sale_id"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), filled.Rows)
	assert.Equal(t, []string{"sale_id", "region", "amount", "amount_x2"}, filled.Columns)

	eu, err := exec.Filter(ctx, filled, []domain.FilterCondition{{Type: "equals", Column: "region", Value: "EU"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), eu.Rows)

	byRegion, err := exec.Aggregate(ctx, filled, []string{"region"}, map[string]string{"amount": "sum"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), byRegion.Rows)
	assert.Equal(t, []string{"region", "amount"}, byRegion.Columns)

	global, err := exec.Aggregate(ctx, filled, nil, map[string]string{"amount": "max"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), global.Rows)
	assert.Equal(t, []string{"amount_max"}, global.Columns)

	regions, err := exec.Load(ctx, filepath.Join(dir, "regions.csv"), domain.FormatCSV, nil)
	require.NoError(t, err)
	joined, err := exec.Join(ctx, filled, regions, []string{"region"}, []string{"region"}, "inner")
	require.NoError(t, err)
	assert.Equal(t, int64(3), joined.Rows)
	assert.Contains(t, joined.Columns, "manager")

	out := filepath.Join(dir, "nested", "out.csv")
	require.NoError(t, exec.Save(ctx, joined, out, domain.FormatCSV, nil))
	written, err := os.ReadFile(out) //nolint:gosec
	require.NoError(t, err)
	assert.Contains(t, string(written), "manager")

	require.NoError(t, exec.Release(ctx, joined))
	_, err = exec.Filter(ctx, joined, []domain.FilterCondition{{Type: "not_null", Column: "region"}})
	require.Error(t, err)
}

func TestDuckDBExecutor_SaveToS3UsesStore(t *testing.T) {
	ctx := context.Background()
	var local, uri string
	var data []byte
	store := &testutil.MockObjectStore{
		UploadFn: func(_ context.Context, localPath, target string) error {
			b, err := os.ReadFile(localPath) //nolint:gosec
			if err != nil {
				return err
			}
			local, uri, data = localPath, target, b
			return nil
		},
	}
	exec, dir := setupExecutor(t, store)

	sales, err := exec.Load(ctx, filepath.Join(dir, "sales.csv"), domain.FormatCSV, nil)
	require.NoError(t, err)

	require.NoError(t, exec.Save(ctx, sales, "s3://bucket/exports/sales.parquet", domain.FormatParquet, nil))
	assert.Equal(t, "s3://bucket/exports/sales.parquet", uri)
	assert.NotEmpty(t, data)
	_, statErr := os.Stat(local)
	assert.True(t, os.IsNotExist(statErr), "staged file should be removed")
}

func TestDuckDBExecutor_Errors(t *testing.T) {
	ctx := context.Background()
	exec, dir := setupExecutor(t, nil)

	_, err := exec.Load(ctx, filepath.Join(dir, "book.xlsx"), domain.FormatXLSX, nil)
	require.Error(t, err)

	sales, err := exec.Load(ctx, filepath.Join(dir, "sales.csv"), domain.FormatCSV, nil)
	require.NoError(t, err)

	_, err = exec.Transform(ctx, sales, []domain.TransformOperation{{Type: "explode"}})
	require.Error(t, err)

	err = exec.Save(ctx, sales, filepath.Join(dir, "out.xlsx"), domain.FormatXLSX, nil)
	require.Error(t, err)
}

func countTables(t *testing.T, exec *DuckDBExecutor) int {
	t.Helper()
	var n int
	require.NoError(t, exec.db.QueryRowContext(context.Background(), "SELECT count(*) FROM duckdb_tables()").Scan(&n))
	return n
}

func amountOf(t *testing.T, exec *DuckDBExecutor, ds *domain.Dataset, id int) sql.NullInt64 {
	t.Helper()
	var v sql.NullInt64
	q := "SELECT CAST(amount AS BIGINT) FROM " + ddl.QuoteIdentifier(ds.Name) + " WHERE id = ?"
	require.NoError(t, exec.db.QueryRowContext(context.Background(), q, id).Scan(&v))
	return v
}

func TestDuckDBExecutor_TransformFailureDropsIntermediates(t *testing.T) {
	ctx := context.Background()
	exec, dir := setupExecutor(t, nil)

	sales, err := exec.Load(ctx, filepath.Join(dir, "sales.csv"), domain.FormatCSV, nil)
	require.NoError(t, err)
	before := countTables(t, exec)

	_, err = exec.Transform(ctx, sales, []domain.TransformOperation{
		{Type: "reset_index"},
		{Type: "add_column", Name: "bad", Expression: "no_such_column + 1"},
	})
	require.Error(t, err)
	assert.Equal(t, before, countTables(t, exec))

	_, err = exec.Transform(ctx, sales, []domain.TransformOperation{
		{Type: "reset_index"},
		{Type: "drop_columns"},
	})
	require.Error(t, err)
	assert.Equal(t, before, countTables(t, exec))
}

func TestDuckDBExecutor_FillNA(t *testing.T) {
	ctx := context.Background()
	exec, dir := setupExecutor(t, nil)

	sales, err := exec.Load(ctx, filepath.Join(dir, "sales.csv"), domain.FormatCSV, nil)
	require.NoError(t, err)
	require.Len(t, sales.Types, len(sales.Columns))

	tests := []struct {
		name string
		op   domain.TransformOperation
		want int64
	}{
		{"value across mixed column types", domain.TransformOperation{Type: "fill_na", Value: float64(0)}, 0},
		{"forward", domain.TransformOperation{Type: "fill_na", Method: "forward", Columns: []string{"amount"}}, 20},
		{"backward", domain.TransformOperation{Type: "fill_na", Method: "backward", Columns: []string{"amount"}}, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filled, err := exec.Transform(ctx, sales, []domain.TransformOperation{tt.op})
			require.NoError(t, err)
			assert.Equal(t, int64(4), filled.Rows)
			assert.Equal(t, sales.Columns, filled.Columns)

			got := amountOf(t, exec, filled, 3)
			require.True(t, got.Valid)
			assert.Equal(t, tt.want, got.Int64)
			assert.Equal(t, int64(10), amountOf(t, exec, filled, 1).Int64)
		})
	}
}
