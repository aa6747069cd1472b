package msmcp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/mattn/go-runewidth"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// rowsToMaps pairs each row with the column names. Duplicate column names
// collapse; the last one wins. types holds the SQL Server type name per
// column and drives conversion of driver values.
func rowsToMaps(columns []string, rows [][]any, types []string) []map[string]any {
	result := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]any, len(columns))
		for i, col := range columns {
			m[col] = convertValue(row[i], columnType(types, i))
		}
		result = append(result, m)
	}
	return result
}

// marshalRows encodes rows as a JSON array of objects whose keys follow
// columns. Keys a row holds that are not in columns (rows rewritten by an
// after-query hook) follow in sorted order.
func marshalRows(columns []string, rows []map[string]any) ([]byte, error) {
	ordered := make([]*orderedmap.OrderedMap[string, any], 0, len(rows))
	for _, row := range rows {
		om := orderedmap.New[string, any](orderedmap.WithCapacity[string, any](len(row)))
		for _, col := range columns {
			if v, ok := row[col]; ok {
				om.Set(col, v)
			}
		}
		if om.Len() < len(row) {
			extra := make([]string, 0, len(row)-om.Len())
			for k := range row {
				if _, ok := om.Get(k); !ok {
					extra = append(extra, k)
				}
			}
			slices.Sort(extra)
			for _, k := range extra {
				om.Set(k, row[k])
			}
		}
		ordered = append(ordered, om)
	}
	return json.Marshal(ordered)
}

// convertRows converts every value of rows in place.
func convertRows(rows [][]any, types []string) [][]any {
	for _, row := range rows {
		for i := range row {
			row[i] = convertValue(row[i], columnType(types, i))
		}
	}
	return rows
}

func columnType(types []string, i int) string {
	if i < len(types) {
		return types[i]
	}
	return ""
}

// convertValue converts a go-mssqldb value to a JSON-friendly Go type.
func convertValue(v any, dbType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		switch dbType {
		case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
			return string(val)
		case "UNIQUEIDENTIFIER":
			var id mssql.UniqueIdentifier
			if err := id.Scan(val); err == nil {
				return id.String()
			}
		}
		return base64.StdEncoding.EncodeToString(val)
	default:
		return val
	}
}

// describeString renders columns the way the describe_table tool always has:
// a list of mappings in Python literal notation.
func describeString(columns []ColumnDescription) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		dflt := "None"
		if c.DefaultValue != nil {
			dflt = pyQuote(*c.DefaultValue)
		}
		fmt.Fprintf(&sb, "{'name': %s, 'type': %s, 'notnull': %s, 'dflt_value': %s, 'identity': %s, 'pk': %s}",
			pyQuote(c.Name), pyQuote(c.Type), pyQuote(c.NotNull), dflt, pyQuote(c.Identity), pyQuote(c.PrimaryKey))
	}
	sb.WriteByte(']')
	return sb.String()
}

// pyQuote quotes s as a Python string literal: single quotes unless s holds
// a single quote and no double quote.
func pyQuote(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var sb strings.Builder
	sb.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == rune(quote):
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}

// markdownTable renders a pipe table with a leading row index column.
// Numeric columns are right aligned, everything else left aligned. Column
// width is the wider of the widest cell and the header plus two.
func markdownTable(columns []string, rows [][]any) string {
	headers := append([]string{""}, columns...)
	cells := make([][]string, len(rows))
	numeric := make([]bool, len(headers))
	numeric[0] = true
	for c := 1; c < len(headers); c++ {
		numeric[c] = isNumericColumn(rows, c-1)
	}
	for r, row := range rows {
		line := make([]string, len(headers))
		line[0] = strconv.Itoa(r)
		for c := range columns {
			if c < len(row) {
				line[c+1] = displayValue(row[c])
			}
		}
		cells[r] = line
	}

	widths := make([]int, len(headers))
	for c, h := range headers {
		widths[c] = runewidth.StringWidth(h) + 2
		for _, line := range cells {
			if w := runewidth.StringWidth(line[c]); w > widths[c] {
				widths[c] = w
			}
		}
	}

	var sb strings.Builder
	writeLine := func(values []string) {
		sb.WriteByte('|')
		for c, v := range values {
			pad := strings.Repeat(" ", widths[c]-runewidth.StringWidth(v))
			if numeric[c] {
				sb.WriteString(" " + pad + v + " |")
			} else {
				sb.WriteString(" " + v + pad + " |")
			}
		}
	}

	writeLine(headers)
	sb.WriteString("\n|")
	for c := range headers {
		if numeric[c] {
			sb.WriteString(strings.Repeat("-", widths[c]+1) + ":|")
		} else {
			sb.WriteString(":" + strings.Repeat("-", widths[c]+1) + "|")
		}
	}
	for _, line := range cells {
		sb.WriteByte('\n')
		writeLine(line)
	}
	return sb.String()
}

func isNumericColumn(rows [][]any, c int) bool {
	seen := false
	for _, row := range rows {
		if c >= len(row) || row[c] == nil {
			continue
		}
		switch row[c].(type) {
		case int64, int32, int, float64, float32:
			seen = true
		default:
			return false
		}
	}
	return seen
}

func displayValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		if val {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(val, 'g', 6, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', 6, 32)
	case time.Time:
		return val.Format(time.DateTime)
	default:
		return fmt.Sprint(val)
	}
}
