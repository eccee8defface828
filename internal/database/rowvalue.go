package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/veneer/internal/request"
)

// scanCells reads the current row into driver-agnostic values: []byte
// becomes string, JSON-typed columns are parsed into maps and slices, and
// times are formatted as RFC 3339.
func scanCells(rows *sql.Rows, cols []*sql.ColumnType) ([]any, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make([]any, len(cols))
	for i, col := range cols {
		out[i] = normalizeCell(raw[i], col)
	}
	return out, nil
}

func normalizeCell(v any, col *sql.ColumnType) any {
	switch v := v.(type) {
	case []byte:
		return normalizeText(string(v), col)
	case string:
		return normalizeText(v, col)
	case time.Time:
		return v.Format(time.RFC3339)
	case nil, bool, int64, float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// normalizeText parses text from JSON-declared columns so templates can
// iterate arrays and index objects. Parse failures keep the raw text.
func normalizeText(s string, col *sql.ColumnType) any {
	switch strings.ToUpper(col.DatabaseTypeName()) {
	case "JSON", "JSONB":
		if parsed, err := oj.ParseString(s); err == nil {
			return parsed
		}
	}
	return s
}

// scanVariable decodes the first column of the current row into a variable
// value. A statement with no columns yields the empty string.
func scanVariable(rows *sql.Rows) (request.Value, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return request.Value{}, err
	}
	if len(cols) == 0 {
		return request.Single(""), nil
	}
	cells, err := scanCells(rows, cols)
	if err != nil {
		return request.Value{}, err
	}
	return toVariable(cells[0]), nil
}

// toVariable flattens a decoded cell into the single-or-list variable shape:
// strings stay as-is, arrays become lists with non-string elements rendered
// as JSON, everything else becomes its JSON text.
func toVariable(v any) request.Value {
	switch v := v.(type) {
	case string:
		return request.Single(v)
	case []any:
		items := make([]string, len(v))
		for i, elem := range v {
			if s, ok := elem.(string); ok {
				items[i] = s
			} else {
				items[i] = jsonText(elem)
			}
		}
		return request.List(items)
	default:
		return request.Single(jsonText(v))
	}
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
