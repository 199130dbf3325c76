package querier

import (
	"fmt"
	"io"
	"math/big"
	"sort"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/gigapi/gigapi-geoanalytics/core"
)

// RowsToRecord converts query rows into an Arrow record. Column types are
// inferred from the first non-null value of each column; columns with only
// nulls become strings. When columns is nil the row keys are used, sorted.
// The caller must Release the record.
func RowsToRecord(rows []map[string]interface{}, columns []string) (arrow.Record, error) {
	if columns == nil {
		columns = sortedKeys(rows)
	}

	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		fields[i] = arrow.Field{Name: col, Type: inferType(col, rows), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()

	for i, field := range fields {
		if err := appendColumn(builder.Field(i), field, rows); err != nil {
			return nil, err
		}
	}
	return builder.NewRecord(), nil
}

func sortedKeys(rows []map[string]interface{}) []string {
	seen := map[string]bool{}
	var keys []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func inferType(col string, rows []map[string]interface{}) arrow.DataType {
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
			continue
		case int, int8, int16, int32, int64, uint8, uint16, uint32, *big.Int:
			return arrow.PrimitiveTypes.Int64
		case float32, float64:
			return arrow.PrimitiveTypes.Float64
		case bool:
			return arrow.FixedWidthTypes.Boolean
		case time.Time:
			return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
		case []byte:
			return arrow.BinaryTypes.Binary
		default:
			return arrow.BinaryTypes.String
		}
	}
	return arrow.BinaryTypes.String
}

func appendColumn(b array.Builder, field arrow.Field, rows []map[string]interface{}) error {
	for _, row := range rows {
		val := row[field.Name]
		if val == nil {
			b.AppendNull()
			continue
		}
		switch builder := b.(type) {
		case *array.Int64Builder:
			n, ok := core.Int64(val)
			if !ok {
				return fmt.Errorf("column %s: cannot convert %T to int64", field.Name, val)
			}
			builder.Append(n)
		case *array.Float64Builder:
			switch v := val.(type) {
			case float64:
				builder.Append(v)
			case float32:
				builder.Append(float64(v))
			default:
				n, ok := core.Int64(val)
				if !ok {
					return fmt.Errorf("column %s: cannot convert %T to float64", field.Name, val)
				}
				builder.Append(float64(n))
			}
		case *array.BooleanBuilder:
			v, ok := val.(bool)
			if !ok {
				return fmt.Errorf("column %s: cannot convert %T to bool", field.Name, val)
			}
			builder.Append(v)
		case *array.TimestampBuilder:
			v, ok := val.(time.Time)
			if !ok {
				return fmt.Errorf("column %s: cannot convert %T to timestamp", field.Name, val)
			}
			builder.Append(arrow.Timestamp(v.UnixMicro()))
		case *array.BinaryBuilder:
			v, ok := val.([]byte)
			if !ok {
				return fmt.Errorf("column %s: cannot convert %T to binary", field.Name, val)
			}
			builder.Append(v)
		case *array.StringBuilder:
			builder.Append(formatValue(val))
		default:
			return fmt.Errorf("column %s: unsupported builder %T", field.Name, b)
		}
	}
	return nil
}

// WriteRecords streams records in the Arrow IPC stream format. All records
// must share the schema of the first.
func WriteRecords(w io.Writer, recs ...arrow.Record) error {
	if len(recs) == 0 {
		return nil
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(recs[0].Schema()))
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			writer.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return writer.Close()
}
