package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
)

// DefaultOutput is "table" on an interactive terminal and "json" otherwise.
func DefaultOutput(f *os.File) string {
	if f != nil && term.IsTerminal(int(f.Fd())) { //nolint:gosec
		return "table"
	}
	return "json"
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes an aligned table with upper-cased headers. Nothing is
// written when columns is empty.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i := range columns {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	writeRow := func(cells []string) {
		parts := make([]string, len(columns))
		for i := range columns {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(columns)-1 {
				parts[i] = cell
			} else {
				parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
			}
		}
		_, _ = fmt.Fprintln(w, strings.Join(parts, "  "))
	}

	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
}

// PrintDetail writes one "key:  value" line per field, keys sorted and
// colons aligned.
func PrintDetail(w io.Writer, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	maxLen := 0
	for k := range fields {
		keys = append(keys, k)
		if len(k) > maxLen {
			maxLen = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		pad := strings.Repeat(" ", maxLen-len(k))
		_, _ = fmt.Fprintf(w, "%s:%s  %s\n", k, pad, formatValue(fields[k]))
	}
}

// ExtractField renders data[key] for display. Nested maps and slices are
// rendered as JSON; missing and nil values as "".
func ExtractField(data map[string]any, key string) string {
	return formatValue(data[key])
}

// ExtractRows renders the items under data["data"] as table rows. Items
// that are not objects are skipped.
func ExtractRows(data map[string]any, columns []string) [][]string {
	items, ok := data["data"].([]any)
	if !ok {
		return nil
	}
	return RowsFromItems(items, columns)
}

// RowsFromItems renders object items as table rows.
func RowsFromItems(items []any, columns []string) [][]string {
	var rows [][]string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = ExtractField(m, c)
		}
		rows = append(rows, row)
	}
	return rows
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
