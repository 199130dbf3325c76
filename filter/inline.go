package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gigapi/gigapi-geoanalytics/core"
)

// scanPlaceholders calls fn with the byte offset of every positional
// placeholder outside quoted strings and quoted identifiers.
func scanPlaceholders(sql string, fn func(offset int)) {
	var quote byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case quote != 0:
			if ch == quote {
				// a doubled quote is an escaped quote
				if i+1 < len(sql) && sql[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '?':
			fn(i)
		}
	}
}

// CountPlaceholders counts positional placeholders in sql
func CountPlaceholders(sql string) int {
	n := 0
	scanPlaceholders(sql, func(int) { n++ })
	return n
}

// Inline substitutes params into the placeholders of sql, for statements
// such as COPY that cannot take bound parameters. Strings are single-quote
// escaped, nil becomes NULL and booleans TRUE/FALSE; numbers use their
// textual form.
func Inline(sql string, params []any) (string, error) {
	var offsets []int
	scanPlaceholders(sql, func(off int) { offsets = append(offsets, off) })
	if len(offsets) != len(params) {
		return "", fmt.Errorf("placeholder count %d does not match %d parameters", len(offsets), len(params))
	}

	var sb strings.Builder
	last := 0
	for i, off := range offsets {
		lit, err := inlineValue(params[i])
		if err != nil {
			return "", fmt.Errorf("parameter %d: %w", i, err)
		}
		sb.WriteString(sql[last:off])
		sb.WriteString(lit)
		last = off + 1
	}
	sb.WriteString(sql[last:])
	return sb.String(), nil
}

func inlineValue(v any) (string, error) {
	switch p := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return core.QuoteLiteral(p), nil
	case bool:
		if p {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(p), nil
	case int32:
		return strconv.FormatInt(int64(p), 10), nil
	case int64:
		return strconv.FormatInt(p, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(p), 10), nil
	case uint64:
		return strconv.FormatUint(p, 10), nil
	case float32:
		return formatFloat(float64(p))
	case float64:
		return formatFloat(p)
	case time.Time:
		return core.QuoteLiteral(p.Format(time.RFC3339Nano)), nil
	}
	return "", fmt.Errorf("cannot inline value of type %T", v)
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("cannot inline %v", f)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
