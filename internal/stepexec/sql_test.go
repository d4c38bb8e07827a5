package stepexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckflow/internal/domain"
)

func boolPtr(b bool) *bool { return &b }

func TestTransformQuery(t *testing.T) {
	cols := []string{"id", "name", "amount"}

	tests := []struct {
		name     string
		op       domain.TransformOperation
		types    []string
		wantSQL  string
		wantCols []string
		wantErr  string
	}{
		{
			name:     "rename",
			op:       domain.TransformOperation{Type: "rename_columns", Mapping: map[string]string{"name": "customer"}},
			wantSQL:  `SELECT "id" AS "id", "name" AS "customer", "amount" AS "amount" FROM "t"`,
			wantCols: []string{"id", "customer", "amount"},
		},
		{
			name:     "add new column",
			op:       domain.TransformOperation{Type: "add_column", Name: "double", Expression: "amount * 2"},
			wantSQL:  `SELECT *, (amount * 2) AS "double" FROM "t"`,
			wantCols: []string{"id", "name", "amount", "double"},
		},
		{
			name:     "add replaces existing column",
			op:       domain.TransformOperation{Type: "add_column", Name: "amount", Expression: "amount + 1"},
			wantSQL:  `SELECT * REPLACE ((amount + 1) AS "amount") FROM "t"`,
			wantCols: cols,
		},
		{
			name:     "drop",
			op:       domain.TransformOperation{Type: "drop_columns", Columns: []string{"name", "missing"}},
			wantSQL:  `SELECT * EXCLUDE ("name") FROM "t"`,
			wantCols: []string{"id", "amount"},
		},
		{
			name:    "drop everything",
			op:      domain.TransformOperation{Type: "drop_columns", Columns: cols},
			wantErr: "every column",
		},
		{
			name:     "convert",
			op:       domain.TransformOperation{Type: "convert_types", Mapping: map[string]string{"amount": "float64"}},
			wantSQL:  `SELECT "id", "name", CAST("amount" AS DOUBLE) AS "amount" FROM "t"`,
			wantCols: cols,
		},
		{
			name:    "convert bad type",
			op:      domain.TransformOperation{Type: "convert_types", Mapping: map[string]string{"amount": "INT; DROP"}},
			wantErr: "invalid characters",
		},
		{
			name:     "fill selected columns",
			op:       domain.TransformOperation{Type: "fill_na", Value: float64(0), Columns: []string{"amount"}},
			wantSQL:  `SELECT "id", "name", COALESCE("amount", 0) AS "amount" FROM "t"`,
			wantCols: cols,
		},
		{
			name:     "fill every column casts to each column type",
			op:       domain.TransformOperation{Type: "fill_na", Value: float64(0)},
			types:    []string{"BIGINT", "VARCHAR", "DOUBLE"},
			wantSQL:  `SELECT COALESCE("id", TRY_CAST(0 AS BIGINT)) AS "id", COALESCE("name", TRY_CAST(0 AS VARCHAR)) AS "name", COALESCE("amount", TRY_CAST(0 AS DOUBLE)) AS "amount" FROM "t"`,
			wantCols: cols,
		},
		{
			name:     "fill forward",
			op:       domain.TransformOperation{Type: "fill_na", Method: "forward", Columns: []string{"amount"}},
			wantSQL:  `SELECT "id", "name", LAST_VALUE("amount" IGNORE NULLS) OVER (ORDER BY rowid ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS "amount" FROM "t" ORDER BY rowid`,
			wantCols: cols,
		},
		{
			name:    "fill without value",
			op:      domain.TransformOperation{Type: "fill_na"},
			wantErr: "requires value or method",
		},
		{
			name:    "fill unknown method",
			op:      domain.TransformOperation{Type: "fill_na", Method: "interpolate"},
			wantErr: "unknown method",
		},
		{
			name:     "sort descending",
			op:       domain.TransformOperation{Type: "sort", Columns: []string{"amount", "id"}, Ascending: boolPtr(false)},
			wantSQL:  `SELECT * FROM "t" ORDER BY "amount" DESC, "id" DESC`,
			wantCols: cols,
		},
		{
			name:     "reset index",
			op:       domain.TransformOperation{Type: "reset_index"},
			wantSQL:  `SELECT * FROM "t"`,
			wantCols: cols,
		},
		{
			name:    "unknown",
			op:      domain.TransformOperation{Type: "pivot"},
			wantErr: "unknown transformation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotCols, err := transformQuery("t", cols, tt.types, tt.op)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, got)
			assert.Equal(t, tt.wantCols, gotCols)
		})
	}
}

func TestFilterPredicate(t *testing.T) {
	tests := []struct {
		name    string
		cond    domain.FilterCondition
		want    string
		wantErr bool
	}{
		{name: "equals string", cond: domain.FilterCondition{Type: "equals", Column: "region", Value: "EU"}, want: `"region" = 'EU'`},
		{name: "greater than", cond: domain.FilterCondition{Type: "greater_than", Column: "amount", Value: float64(100)}, want: `"amount" > 100`},
		{name: "less equal", cond: domain.FilterCondition{Type: "less_equal", Column: "amount", Value: 2.5}, want: `"amount" <= 2.5`},
		{name: "in", cond: domain.FilterCondition{Type: "in", Column: "c", Values: []any{"a", "b"}}, want: `"c" IN ('a', 'b')`},
		{name: "in empty", cond: domain.FilterCondition{Type: "in", Column: "c"}, want: "FALSE"},
		{name: "not in", cond: domain.FilterCondition{Type: "not_in", Column: "c", Values: []any{float64(1)}}, want: `"c" NOT IN (1)`},
		{name: "contains", cond: domain.FilterCondition{Type: "contains", Column: "name", Value: "o'b"}, want: `contains(CAST("name" AS VARCHAR), 'o''b')`},
		{name: "not null", cond: domain.FilterCondition{Type: "not_null", Column: "c"}, want: `"c" IS NOT NULL`},
		{name: "is null", cond: domain.FilterCondition{Type: "is_null", Column: "c"}, want: `"c" IS NULL`},
		{name: "expression", cond: domain.FilterCondition{Type: "expression", Expression: "a > b"}, want: `(a > b)`},
		{name: "missing column", cond: domain.FilterCondition{Type: "equals", Value: 1}, wantErr: true},
		{name: "unknown", cond: domain.FilterCondition{Type: "between", Column: "c"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterPredicate(tt.cond)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateQuery(t *testing.T) {
	cols := []string{"region", "amount", "qty"}

	got, err := aggregateQuery("t", cols, nil, map[string]string{"amount": "sum", "qty": "mean", "missing": "max"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT sum("amount") AS "amount_sum", avg("qty") AS "qty_mean" FROM "t"`, got)

	got, err = aggregateQuery("t", cols, []string{"region"}, map[string]string{"amount": "std"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "region", stddev_samp("amount") AS "amount" FROM "t" GROUP BY "region" ORDER BY "region"`, got)

	_, err = aggregateQuery("t", cols, []string{"nope"}, map[string]string{"amount": "sum"})
	require.Error(t, err)

	_, err = aggregateQuery("t", cols, nil, map[string]string{"amount": "median"})
	require.Error(t, err)

	_, err = aggregateQuery("t", cols, nil, map[string]string{"missing": "sum"})
	require.Error(t, err)
}

func TestJoinQuery(t *testing.T) {
	left := &domain.Dataset{Name: "l1", Columns: []string{"id", "name", "score"}}
	right := &domain.Dataset{Name: "r1", Columns: []string{"id", "score", "city"}}

	got, err := joinQuery(left, right, []string{"id"}, []string{"id"}, "left")
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT COALESCE(l."id", r."id") AS "id", l."name", l."score" AS "score_x", r."score" AS "score_y", r."city" FROM "l1" AS l LEFT JOIN "r1" AS r ON l."id" = r."id"`,
		got)

	_, err = joinQuery(left, right, []string{"id"}, []string{"id"}, "cross")
	require.Error(t, err)

	_, err = joinQuery(left, right, []string{"nope"}, []string{"id"}, "inner")
	require.Error(t, err)
}
