package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFunction(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		format  string
		options map[string]any
		want    string
		wantErr string
	}{
		{
			name:   "csv",
			path:   "uploads/sales.csv",
			format: "csv",
			want:   `read_csv_auto('uploads/sales.csv')`,
		},
		{
			name:    "csv_with_options",
			path:    "in.csv",
			format:  "CSV",
			options: map[string]any{"header": true, "delim": ";"},
			want:    `read_csv_auto('in.csv', delim = ';', header = true)`,
		},
		{
			name:   "parquet_s3",
			path:   "s3://bucket/data.parquet",
			format: "parquet",
			want:   `read_parquet('s3://bucket/data.parquet')`,
		},
		{
			name:   "json",
			path:   "events.json",
			format: "json",
			want:   `read_json_auto('events.json')`,
		},
		{
			name:    "xlsx_unsupported",
			path:    "book.xlsx",
			format:  "xlsx",
			wantErr: "unsupported file format",
		},
		{
			name:    "empty_path",
			format:  "csv",
			wantErr: "source path is required",
		},
		{
			name:    "bad_option_key",
			path:    "in.csv",
			format:  "csv",
			options: map[string]any{"x); DROP": 1},
			wantErr: "invalid option",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadFunction(tt.path, tt.format, tt.options)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCopyTo(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		path    string
		format  string
		options map[string]any
		want    string
		wantErr string
	}{
		{
			name:   "csv_default_header",
			table:  "ds_1",
			path:   "outputs/out.csv",
			format: "csv",
			want:   `COPY "ds_1" TO 'outputs/out.csv' (FORMAT csv, HEADER true)`,
		},
		{
			name:    "csv_explicit_header",
			table:   "ds_1",
			path:    "out.csv",
			format:  "csv",
			options: map[string]any{"header": false},
			want:    `COPY "ds_1" TO 'out.csv' (FORMAT csv, header false)`,
		},
		{
			name:   "parquet",
			table:  "ds_1",
			path:   "out.parquet",
			format: "parquet",
			want:   `COPY "ds_1" TO 'out.parquet' (FORMAT parquet)`,
		},
		{
			name:   "json_array",
			table:  "ds_1",
			path:   "out.json",
			format: "json",
			want:   `COPY "ds_1" TO 'out.json' (FORMAT json, ARRAY true)`,
		},
		{
			name:    "bad_table",
			table:   "ds-1",
			path:    "out.csv",
			format:  "csv",
			wantErr: "invalid table name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CopyTo(tt.table, tt.path, tt.format, tt.options)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateTableAs(t *testing.T) {
	got, err := CreateTableAs("ds_a", "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE "ds_a" AS SELECT 1`, got)

	_, err = CreateTableAs("ds_a", "  ")
	require.Error(t, err)
}

func TestDropTable(t *testing.T) {
	got, err := DropTable("ds_a")
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE IF EXISTS "ds_a"`, got)

	_, err = DropTable(`x"; --`)
	require.Error(t, err)
}

func TestCreateS3Secret(t *testing.T) {
	got, err := CreateS3Secret("duckflow_s3", "key", "se'cret", "minio:9000", "us-east-1", "path")
	require.NoError(t, err)
	assert.Contains(t, got, `CREATE OR REPLACE SECRET "duckflow_s3"`)
	assert.Contains(t, got, `SECRET 'se''cret'`)
	assert.Contains(t, got, `URL_STYLE 'path'`)

	_, err = CreateS3Secret("", "k", "s", "e", "r", "path")
	require.Error(t, err)
}
