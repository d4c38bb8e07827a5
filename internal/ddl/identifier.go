package ddl

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// identifierRe allows alphanumeric + underscores, starting with a letter or underscore.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// columnTypeRe matches simple DuckDB type names, optionally with precision/scale parameters.
// Accepted forms:
//
//	WORD                         → INTEGER, VARCHAR, BOOLEAN, etc.
//	WORD(digits)                 → VARCHAR(255), DECIMAL(10)
//	WORD(digits, digits)         → DECIMAL(10,2), NUMERIC(18,4)
//	WORD[]                       → INTEGER[], VARCHAR[]
var columnTypeRe = regexp.MustCompile(`(?i)^[A-Z][A-Z0-9_ ]*(?:\(\s*\d+\s*(?:,\s*\d+\s*)?\))?(?:\[\])?$`)

const (
	maxIdentifierLen = 128
	maxColumnTypeLen = 64
)

// typeAliases maps dataframe-style dtype names used in pipeline definitions
// to DuckDB types.
var typeAliases = map[string]string{
	"int":      "BIGINT",
	"int64":    "BIGINT",
	"int32":    "INTEGER",
	"float":    "DOUBLE",
	"float64":  "DOUBLE",
	"float32":  "FLOAT",
	"str":      "VARCHAR",
	"string":   "VARCHAR",
	"object":   "VARCHAR",
	"bool":     "BOOLEAN",
	"datetime": "TIMESTAMP",
	"date":     "DATE",
}

// ValidateIdentifier checks that name is a safe SQL identifier:
//   - Non-empty
//   - At most 128 characters
//   - Matches [a-zA-Z_][a-zA-Z0-9_]*
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("name must be at most %d characters", maxIdentifierLen)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("name must match [a-zA-Z_][a-zA-Z0-9_]*")
	}
	return nil
}

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double-quote characters by doubling them.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdentifiers quotes each name and joins them with ", ".
func QuoteIdentifiers(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// QuoteLiteral wraps a string value in single quotes, escaping any
// embedded single-quote characters by doubling them.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// Literal renders a decoded JSON/YAML scalar or list as a DuckDB literal.
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return QuoteLiteral(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("non-finite number %v", x)
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []any:
		items := make([]string, len(x))
		for i, item := range x {
			lit, err := Literal(item)
			if err != nil {
				return "", err
			}
			items[i] = lit
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	case []string:
		items := make([]string, len(x))
		for i, item := range x {
			items[i] = QuoteLiteral(item)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", v)
	}
}

// ColumnType resolves typeName (a DuckDB type or a dtype alias such as
// "float64") and checks that it is safe to splice into a CAST.
func ColumnType(typeName string) (string, error) {
	if alias, ok := typeAliases[strings.ToLower(typeName)]; ok {
		return alias, nil
	}
	if typeName == "" {
		return "", fmt.Errorf("column type is required")
	}
	if len(typeName) > maxColumnTypeLen {
		return "", fmt.Errorf("column type must be at most %d characters", maxColumnTypeLen)
	}
	if strings.ContainsAny(typeName, ";-'\"\\") {
		return "", fmt.Errorf("column type contains invalid characters")
	}
	if !columnTypeRe.MatchString(typeName) {
		return "", fmt.Errorf("column type %q is not a recognized type pattern", typeName)
	}
	return strings.ToUpper(typeName), nil
}

// optionList renders reader/writer options as "key value" pairs joined by
// sep, sorted by key for stable output.
func optionList(options map[string]any, sep, assign string) (string, error) {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := ValidateIdentifier(k); err != nil {
			return "", fmt.Errorf("invalid option %q: %w", k, err)
		}
		lit, err := Literal(options[k])
		if err != nil {
			return "", fmt.Errorf("option %s: %w", k, err)
		}
		parts = append(parts, k+assign+lit)
	}
	return strings.Join(parts, sep), nil
}
