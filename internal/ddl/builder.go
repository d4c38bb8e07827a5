// Package ddl builds the DuckDB statements used to materialise, read, write
// and drop pipeline datasets.
package ddl

import (
	"fmt"
	"strings"
)

// ReadFunction returns a table function call reading path in the given
// format, e.g. read_csv('in.csv', header = true).
func ReadFunction(path, format string, options map[string]any) (string, error) {
	if path == "" {
		return "", fmt.Errorf("source path is required")
	}

	var readFunc string
	switch strings.ToLower(format) {
	case "csv":
		readFunc = "read_csv_auto"
	case "json":
		readFunc = "read_json_auto"
	case "parquet":
		readFunc = "read_parquet"
	default:
		return "", fmt.Errorf("unsupported file format: %q", format)
	}

	opts, err := optionList(options, ", ", " = ")
	if err != nil {
		return "", err
	}
	if opts != "" {
		return fmt.Sprintf("%s(%s, %s)", readFunc, QuoteLiteral(path), opts), nil
	}
	return fmt.Sprintf("%s(%s)", readFunc, QuoteLiteral(path)), nil
}

// CreateTableAs returns CREATE TABLE "<table>" AS <query>.
func CreateTableAs(table, query string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	return fmt.Sprintf("CREATE TABLE %s AS %s", QuoteIdentifier(table), query), nil
}

// DropTable returns DROP TABLE IF EXISTS "<table>".
func DropTable(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(table)), nil
}

// CopyTo returns a COPY statement writing table to path:
//
//	COPY "t" TO 'out.csv' (FORMAT csv, HEADER true)
func CopyTo(table, path, format string, options map[string]any) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("output path is required")
	}

	var clauses []string
	switch strings.ToLower(format) {
	case "csv":
		clauses = append(clauses, "FORMAT csv")
		if _, ok := options["header"]; !ok {
			clauses = append(clauses, "HEADER true")
		}
	case "json":
		clauses = append(clauses, "FORMAT json", "ARRAY true")
	case "parquet":
		clauses = append(clauses, "FORMAT parquet")
	default:
		return "", fmt.Errorf("unsupported file format: %q", format)
	}

	opts, err := optionList(options, ", ", " ")
	if err != nil {
		return "", err
	}
	if opts != "" {
		clauses = append(clauses, opts)
	}
	return fmt.Sprintf("COPY %s TO %s (%s)", QuoteIdentifier(table), QuoteLiteral(path), strings.Join(clauses, ", ")), nil
}

// DescribeTable returns a query listing the columns of table in order.
func DescribeTable(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("SELECT column_name, column_type FROM (DESCRIBE %s)", QuoteIdentifier(table)), nil
}

// CountRows returns SELECT count(*) FROM "<table>".
func CountRows(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("SELECT count(*) FROM %s", QuoteIdentifier(table)), nil
}

// CreateS3Secret returns a DuckDB statement creating an S3 secret so that
// s3:// paths can be read directly.
func CreateS3Secret(name, keyID, secret, endpoint, region, urlStyle string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	return fmt.Sprintf(`CREATE OR REPLACE SECRET %s (
	TYPE S3,
	KEY_ID %s,
	SECRET %s,
	ENDPOINT %s,
	REGION %s,
	URL_STYLE %s
)`,
		QuoteIdentifier(name),
		QuoteLiteral(keyID),
		QuoteLiteral(secret),
		QuoteLiteral(endpoint),
		QuoteLiteral(region),
		QuoteLiteral(urlStyle),
	), nil
}

// DropSecret returns DROP SECRET IF EXISTS "<name>".
func DropSecret(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name is required")
	}
	return fmt.Sprintf("DROP SECRET IF EXISTS %s", QuoteIdentifier(name)), nil
}
