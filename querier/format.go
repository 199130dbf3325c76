package querier

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Formatter writes query rows in the given column order
type Formatter func(w io.Writer, columns []string, rows []map[string]any) error

var formatters = map[string]Formatter{
	"json":   JsonFormatter,
	"ndjson": NDJsonFormatter,
	"table":  TableFormatter,
	"arrow":  ArrowFormatter,
}

// GetFormatter looks up a formatter by name
func GetFormatter(name string) (Formatter, error) {
	f, ok := formatters[name]
	if !ok {
		names := make([]string, 0, len(formatters))
		for n := range formatters {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown format %q, expected one of %v", name, names)
	}
	return f, nil
}

func JsonFormatter(w io.Writer, _ []string, data []map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"results": ProcessResultsForJSON(data)})
}

func NDJsonFormatter(w io.Writer, _ []string, data []map[string]any) error {
	enc := json.NewEncoder(w)
	for _, row := range ProcessResultsForJSON(data) {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

// TableFormatter renders an ASCII table. With no columns given the keys of
// the first row are used, sorted.
func TableFormatter(w io.Writer, columns []string, data []map[string]any) error {
	if columns == nil && len(data) > 0 {
		for k := range data[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	table.SetAutoFormatHeaders(false)
	for _, row := range data {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = formatValue(row[col])
		}
		table.Append(record)
	}
	table.Render()
	return nil
}

// ArrowFormatter writes the rows as one record in the Arrow IPC stream format
func ArrowFormatter(w io.Writer, columns []string, data []map[string]any) error {
	rec, err := RowsToRecord(data, columns)
	if err != nil {
		return err
	}
	defer rec.Release()
	return WriteRecords(w, rec)
}

// ProcessResultsForJSON prepares results for JSON serialization
func ProcessResultsForJSON(results []map[string]interface{}) []map[string]interface{} {
	processedResults := make([]map[string]interface{}, len(results))

	for i, row := range results {
		processedRow := make(map[string]interface{}, len(row))
		for key, value := range row {
			switch v := value.(type) {
			case time.Time:
				processedRow[key] = v.Format(time.RFC3339Nano)
			case []byte:
				// geometry blobs
				processedRow[key] = fmt.Sprintf("\\x%x", v)
			case *big.Int:
				processedRow[key] = v.String()
			default:
				processedRow[key] = v
			}
		}
		processedResults[i] = processedRow
	}
	return processedResults
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("\\x%x", val)
	}
	return fmt.Sprint(v)
}
