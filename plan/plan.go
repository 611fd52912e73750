// Package plan computes byte-range partitions of a remote file.
package plan

import "github.com/pithecene-io/ferry/types"

// Plan partitions [0, totalSize) into partCount contiguous ranges.
//
// An unknown (negative) or zero size yields the single whole-file range
// {0, 0, open}. Otherwise boundaries use floor division and the last range is
// left open so the fetch runs to EOF, which tolerates off-by-one size
// reporting from the source. partCount is clamped to [1, totalSize] so that
// no range is empty.
func Plan(totalSize int64, partCount int) types.RangePlan {
	if totalSize <= 0 {
		return WholeFile(totalSize)
	}
	n := int64(partCount)
	if n < 1 {
		n = 1
	}
	if n > totalSize {
		n = totalSize
	}

	partSize := totalSize / n
	ranges := make([]types.Range, 0, n)
	for i := int64(0); i < n; i++ {
		r := types.Range{Index: int(i), Start: i * partSize, End: (i+1)*partSize - 1}
		if i == n-1 {
			r.End = types.OpenEnd
		}
		ranges = append(ranges, r)
	}
	return types.RangePlan{TotalSize: totalSize, Ranges: ranges}
}

// WholeFile returns the single open-ended plan used when the source size is
// unknown or ranged reads are unavailable. A known size is kept for progress.
func WholeFile(totalSize int64) types.RangePlan {
	if totalSize <= 0 {
		totalSize = types.UnknownSize
	}
	return types.RangePlan{
		TotalSize: totalSize,
		Ranges:    []types.Range{{Index: 0, Start: 0, End: types.OpenEnd}},
	}
}
