package geoparquet

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/parquet-go/parquet-go"
	"github.com/spf13/afero"
)

// DefaultSortedThreshold is the neighbour distance, in coordinate units,
// under which a file is reported as sorted
const DefaultSortedThreshold = 1.0

// RowGroupStats is the bbox coverage of one row group, from column statistics
type RowGroupStats struct {
	Rows   int64
	Extent core.BBox
	// HasStats is false when the file carries no bbox statistics for the group
	HasStats bool
}

func (s RowGroupStats) Width() float64  { return s.Extent.XMax - s.Extent.XMin }
func (s RowGroupStats) Height() float64 { return s.Extent.YMax - s.Extent.YMin }

// Verification reports how a written file is laid out
type Verification struct {
	HasBBox       bool
	RowCount      int64
	RowGroupCount int
	RowGroups     []RowGroupStats
	// AvgNeighborDistance is the mean distance between the bbox minimum corners
	// of consecutive rows over the sample; NaN when not computed
	AvgNeighborDistance float64
	IsSorted            bool
}

// VerifyOptions control the sorting heuristic
type VerifyOptions struct {
	SampleSize      int
	SortedThreshold float64
}

// Verify inspects a parquet file. Structure and statistics are read directly
// from the file; the sorting heuristic runs through exec.
func Verify(ctx context.Context, exec core.Executor, fs afero.Fs, path string, opts VerifyOptions) (*Verification, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = 1000
	}
	if opts.SortedThreshold <= 0 {
		opts.SortedThreshold = DefaultSortedThreshold
	}

	v, err := readMetadata(fs, path)
	if err != nil {
		return nil, err
	}
	v.AvgNeighborDistance = math.NaN()

	// too few rows for the heuristic to mean anything
	if !v.HasBBox || v.RowCount <= 100 {
		return v, nil
	}

	sql := fmt.Sprintf(`SELECT AVG(sqrt(pow(next_xmin - xmin, 2) + pow(next_ymin - ymin, 2))) AS dist FROM (
SELECT bbox.xmin AS xmin, bbox.ymin AS ymin,
LEAD(bbox.xmin) OVER () AS next_xmin, LEAD(bbox.ymin) OVER () AS next_ymin
FROM (SELECT bbox FROM read_parquet(%s) LIMIT %d)
) WHERE next_xmin IS NOT NULL AND next_ymin IS NOT NULL`, core.QuoteLiteral(path), opts.SampleSize)

	rows, err := exec.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		if d, ok := core.Float64(rows[0]["dist"]); ok {
			v.AvgNeighborDistance = d
			v.IsSorted = d < opts.SortedThreshold
		}
	}
	return v, nil
}

func readMetadata(fs afero.Fs, path string) (*Verification, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet %s: %w", path, err)
	}

	v := &Verification{RowCount: pf.NumRows()}
	for _, field := range pf.Schema().Fields() {
		if field.Name() == BBoxColumn && !field.Leaf() {
			v.HasBBox = true
		}
	}

	meta := pf.Metadata()
	v.RowGroupCount = len(meta.RowGroups)
	for _, rg := range meta.RowGroups {
		stats := RowGroupStats{Rows: rg.NumRows}
		found := 0
		for _, cc := range rg.Columns {
			path := cc.MetaData.PathInSchema
			if len(path) != 2 || path[0] != BBoxColumn {
				continue
			}
			st := cc.MetaData.Statistics
			switch path[1] {
			case "xmin":
				stats.Extent.XMin, found = decodeStat(st.MinValue, st.Min, found)
			case "ymin":
				stats.Extent.YMin, found = decodeStat(st.MinValue, st.Min, found)
			case "xmax":
				stats.Extent.XMax, found = decodeStat(st.MaxValue, st.Max, found)
			case "ymax":
				stats.Extent.YMax, found = decodeStat(st.MaxValue, st.Max, found)
			}
		}
		stats.HasStats = found == 4
		v.RowGroups = append(v.RowGroups, stats)
	}
	return v, nil
}

// decodeStat reads a plain-encoded DOUBLE statistic, preferring the current
// field over the deprecated one, and counts successful reads.
func decodeStat(value, legacy []byte, found int) (float64, int) {
	b := value
	if len(b) != 8 {
		b = legacy
	}
	if len(b) != 8 {
		return 0, found
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), found + 1
}

// PrunableGroups counts row groups whose bbox statistics exclude query
func (v *Verification) PrunableGroups(query core.BBox) int {
	n := 0
	for _, rg := range v.RowGroups {
		if !rg.HasStats {
			continue
		}
		if rg.Extent.XMin > query.XMax || rg.Extent.XMax < query.XMin ||
			rg.Extent.YMin > query.YMax || rg.Extent.YMax < query.YMin {
			n++
		}
	}
	return n
}

func (v *Verification) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "rows=%d row_groups=%d bbox=%t sorted=%t", v.RowCount, v.RowGroupCount, v.HasBBox, v.IsSorted)
	if !math.IsNaN(v.AvgNeighborDistance) {
		fmt.Fprintf(&sb, " avg_neighbor_distance=%g", v.AvgNeighborDistance)
	}
	return sb.String()
}
