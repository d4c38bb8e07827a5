package stepexec

import (
	"fmt"
	"sort"
	"strings"

	"duckflow/internal/ddl"
	"duckflow/internal/domain"
)

// transformQuery builds a SELECT applying op to table whose columns are cols.
// types, when known, holds the engine type of each column. It returns the
// query and the resulting column list.
func transformQuery(table string, cols, types []string, op domain.TransformOperation) (string, []string, error) {
	from := ddl.QuoteIdentifier(table)

	switch op.Type {
	case "rename_columns":
		if len(op.Mapping) == 0 {
			return "", nil, fmt.Errorf("rename_columns requires mapping")
		}
		proj := make([]string, len(cols))
		out := make([]string, len(cols))
		for i, c := range cols {
			name := c
			if n, ok := op.Mapping[c]; ok && n != "" {
				name = n
			}
			proj[i] = ddl.QuoteIdentifier(c) + " AS " + ddl.QuoteIdentifier(name)
			out[i] = name
		}
		return fmt.Sprintf("SELECT %s FROM %s", strings.Join(proj, ", "), from), out, nil

	case "add_column":
		if op.Name == "" || op.Expression == "" {
			return "", nil, fmt.Errorf("add_column requires name and expression")
		}
		expr := "(" + op.Expression + ") AS " + ddl.QuoteIdentifier(op.Name)
		if indexOf(cols, op.Name) >= 0 {
			return fmt.Sprintf("SELECT * REPLACE (%s) FROM %s", expr, from), cols, nil
		}
		return fmt.Sprintf("SELECT *, %s FROM %s", expr, from), append(append([]string{}, cols...), op.Name), nil

	case "drop_columns":
		if len(op.Columns) == 0 {
			return "", nil, fmt.Errorf("drop_columns requires columns")
		}
		var drop []string
		for _, c := range op.Columns {
			if indexOf(cols, c) >= 0 {
				drop = append(drop, c)
			}
		}
		if len(drop) == 0 {
			return fmt.Sprintf("SELECT * FROM %s", from), cols, nil
		}
		if len(drop) == len(cols) {
			return "", nil, fmt.Errorf("drop_columns would remove every column")
		}
		return fmt.Sprintf("SELECT * EXCLUDE (%s) FROM %s", ddl.QuoteIdentifiers(drop), from), without(cols, drop), nil

	case "convert_types":
		if len(op.Mapping) == 0 {
			return "", nil, fmt.Errorf("convert_types requires mapping")
		}
		proj := make([]string, len(cols))
		for i, c := range cols {
			q := ddl.QuoteIdentifier(c)
			typ, ok := op.Mapping[c]
			if !ok {
				proj[i] = q
				continue
			}
			sqlType, err := ddl.ColumnType(typ)
			if err != nil {
				return "", nil, fmt.Errorf("convert %s: %w", c, err)
			}
			proj[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", q, sqlType, q)
		}
		return fmt.Sprintf("SELECT %s FROM %s", strings.Join(proj, ", "), from), cols, nil

	case "fill_na":
		targets := op.Columns
		if len(targets) == 0 {
			targets = cols
		}
		if op.Value == nil {
			return fillMethodQuery(from, cols, targets, op.Method)
		}
		lit, err := ddl.Literal(op.Value)
		if err != nil {
			return "", nil, fmt.Errorf("fill_na: %w", err)
		}
		proj := make([]string, len(cols))
		for i, c := range cols {
			q := ddl.QuoteIdentifier(c)
			switch {
			case indexOf(targets, c) < 0:
				proj[i] = q
			case i < len(types) && types[i] != "":
				// A value the column type cannot hold leaves its nulls in place.
				proj[i] = fmt.Sprintf("COALESCE(%s, TRY_CAST(%s AS %s)) AS %s", q, lit, types[i], q)
			default:
				proj[i] = fmt.Sprintf("COALESCE(%s, %s) AS %s", q, lit, q)
			}
		}
		return fmt.Sprintf("SELECT %s FROM %s", strings.Join(proj, ", "), from), cols, nil

	case "sort":
		if len(op.Columns) == 0 {
			return "", nil, fmt.Errorf("sort requires columns")
		}
		dir := "ASC"
		if op.Ascending != nil && !*op.Ascending {
			dir = "DESC"
		}
		keys := make([]string, len(op.Columns))
		for i, c := range op.Columns {
			keys[i] = ddl.QuoteIdentifier(c) + " " + dir
		}
		return fmt.Sprintf("SELECT * FROM %s ORDER BY %s", from, strings.Join(keys, ", ")), cols, nil

	case "reset_index":
		return fmt.Sprintf("SELECT * FROM %s", from), cols, nil
	}

	return "", nil, fmt.Errorf("unknown transformation operation: %q", op.Type)
}

var comparisonOps = map[string]string{
	"equals":        "=",
	"not_equals":    "<>",
	"greater_than":  ">",
	"less_than":     "<",
	"greater_equal": ">=",
	"less_equal":    "<=",
}

// filterPredicate renders one condition as a boolean SQL expression.
func filterPredicate(c domain.FilterCondition) (string, error) {
	if c.Type == "expression" {
		if strings.TrimSpace(c.Expression) == "" {
			return "", fmt.Errorf("expression condition requires expression")
		}
		return "(" + c.Expression + ")", nil
	}
	if c.Column == "" {
		return "", fmt.Errorf("%s condition requires column", c.Type)
	}
	col := ddl.QuoteIdentifier(c.Column)

	if op, ok := comparisonOps[c.Type]; ok {
		lit, err := ddl.Literal(c.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", col, op, lit), nil
	}

	switch c.Type {
	case "in", "not_in":
		if len(c.Values) == 0 {
			if c.Type == "in" {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		items := make([]string, len(c.Values))
		for i, v := range c.Values {
			lit, err := ddl.Literal(v)
			if err != nil {
				return "", err
			}
			items[i] = lit
		}
		kw := "IN"
		if c.Type == "not_in" {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, kw, strings.Join(items, ", ")), nil
	case "contains":
		s, ok := c.Value.(string)
		if !ok {
			return "", fmt.Errorf("contains condition requires a string value")
		}
		return fmt.Sprintf("contains(CAST(%s AS VARCHAR), %s)", col, ddl.QuoteLiteral(s)), nil
	case "not_null":
		return col + " IS NOT NULL", nil
	case "is_null":
		return col + " IS NULL", nil
	}
	return "", fmt.Errorf("unknown filter condition: %q", c.Type)
}

// filterQuery ANDs every condition into one WHERE clause.
func filterQuery(table string, conds []domain.FilterCondition) (string, error) {
	preds := make([]string, 0, len(conds))
	for _, c := range conds {
		p, err := filterPredicate(c)
		if err != nil {
			return "", err
		}
		preds = append(preds, p)
	}
	q := "SELECT * FROM " + ddl.QuoteIdentifier(table)
	if len(preds) > 0 {
		q += " WHERE " + strings.Join(preds, " AND ")
	}
	return q, nil
}

var aggFuncs = map[string]string{
	"count": "count",
	"sum":   "sum",
	"mean":  "avg",
	"min":   "min",
	"max":   "max",
	"std":   "stddev_samp",
}

// aggregateQuery groups table by groupBy. Aggregations on columns missing
// from the input are skipped. Without groupBy a single row of
// "<column>_<fn>" values is produced.
func aggregateQuery(table string, cols, groupBy []string, aggs map[string]string) (string, error) {
	for _, g := range groupBy {
		if indexOf(cols, g) < 0 {
			return "", fmt.Errorf("group_by column %q not found", g)
		}
	}

	names := make([]string, 0, len(aggs))
	for c := range aggs {
		names = append(names, c)
	}
	sort.Strings(names)

	var proj []string
	for _, c := range names {
		if indexOf(cols, c) < 0 {
			continue
		}
		fn, ok := aggFuncs[aggs[c]]
		if !ok {
			return "", fmt.Errorf("unknown aggregation %q for column %q", aggs[c], c)
		}
		alias := c
		if len(groupBy) == 0 {
			alias = c + "_" + aggs[c]
		}
		proj = append(proj, fmt.Sprintf("%s(%s) AS %s", fn, ddl.QuoteIdentifier(c), ddl.QuoteIdentifier(alias)))
	}
	if len(proj) == 0 {
		return "", fmt.Errorf("no aggregation applies to the input columns")
	}

	from := ddl.QuoteIdentifier(table)
	if len(groupBy) == 0 {
		return fmt.Sprintf("SELECT %s FROM %s", strings.Join(proj, ", "), from), nil
	}
	keys := ddl.QuoteIdentifiers(groupBy)
	return fmt.Sprintf("SELECT %s, %s FROM %s GROUP BY %s ORDER BY %s",
		keys, strings.Join(proj, ", "), from, keys, keys), nil
}

var joinKeywords = map[string]string{
	"":      "INNER JOIN",
	"inner": "INNER JOIN",
	"left":  "LEFT JOIN",
	"right": "RIGHT JOIN",
	"outer": "FULL OUTER JOIN",
}

// joinQuery joins left and right on pairwise key equality. Keys with the
// same name on both sides are merged into one column; other clashing names
// get _x / _y suffixes.
func joinQuery(left, right *domain.Dataset, leftOn, rightOn []string, joinType string) (string, error) {
	kw, ok := joinKeywords[joinType]
	if !ok {
		return "", fmt.Errorf("unknown join type: %q", joinType)
	}
	if len(leftOn) == 0 || len(leftOn) != len(rightOn) {
		return "", fmt.Errorf("left_on and right_on must be non-empty and of equal length")
	}

	merged := map[string]bool{}
	on := make([]string, len(leftOn))
	for i := range leftOn {
		if indexOf(left.Columns, leftOn[i]) < 0 {
			return "", fmt.Errorf("left key %q not found", leftOn[i])
		}
		if indexOf(right.Columns, rightOn[i]) < 0 {
			return "", fmt.Errorf("right key %q not found", rightOn[i])
		}
		on[i] = fmt.Sprintf("l.%s = r.%s", ddl.QuoteIdentifier(leftOn[i]), ddl.QuoteIdentifier(rightOn[i]))
		if leftOn[i] == rightOn[i] {
			merged[leftOn[i]] = true
		}
	}

	var proj []string
	for _, c := range left.Columns {
		q := ddl.QuoteIdentifier(c)
		switch {
		case merged[c]:
			proj = append(proj, fmt.Sprintf("COALESCE(l.%s, r.%s) AS %s", q, q, q))
		case indexOf(right.Columns, c) >= 0:
			proj = append(proj, fmt.Sprintf("l.%s AS %s", q, ddl.QuoteIdentifier(c+"_x")))
		default:
			proj = append(proj, "l."+q)
		}
	}
	for _, c := range right.Columns {
		if merged[c] {
			continue
		}
		q := ddl.QuoteIdentifier(c)
		if indexOf(left.Columns, c) >= 0 {
			proj = append(proj, fmt.Sprintf("r.%s AS %s", q, ddl.QuoteIdentifier(c+"_y")))
		} else {
			proj = append(proj, "r."+q)
		}
	}

	return fmt.Sprintf("SELECT %s FROM %s AS l %s %s AS r ON %s",
		strings.Join(proj, ", "),
		ddl.QuoteIdentifier(left.Name), kw, ddl.QuoteIdentifier(right.Name),
		strings.Join(on, " AND ")), nil
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func without(list, drop []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if indexOf(drop, v) < 0 {
			out = append(out, v)
		}
	}
	return out
}

// fillMethodQuery propagates the last (forward) or next (backward) non-null
// value of each target column in row order.
func fillMethodQuery(from string, cols, targets []string, method string) (string, []string, error) {
	var fn, frame string
	switch method {
	case "forward", "ffill", "pad":
		fn, frame = "LAST_VALUE", "ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW"
	case "backward", "bfill", "backfill":
		fn, frame = "FIRST_VALUE", "ROWS BETWEEN CURRENT ROW AND UNBOUNDED FOLLOWING"
	case "":
		return "", nil, fmt.Errorf("fill_na requires value or method")
	default:
		return "", nil, fmt.Errorf("fill_na: unknown method %q", method)
	}
	proj := make([]string, len(cols))
	for i, c := range cols {
		q := ddl.QuoteIdentifier(c)
		if indexOf(targets, c) < 0 {
			proj[i] = q
			continue
		}
		proj[i] = fmt.Sprintf("%s(%s IGNORE NULLS) OVER (ORDER BY rowid %s) AS %s", fn, q, frame, q)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(proj, ", "), from), cols, nil
}
