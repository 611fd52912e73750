//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// UnknownSize marks a total size the source did not report.
const UnknownSize int64 = -1

// OpenEnd marks a range that extends to EOF.
const OpenEnd int64 = -1

// Range is a contiguous byte interval of the source. End is inclusive,
// or OpenEnd when the range runs to EOF.
type Range struct {
	Index int
	Start int64
	End   int64
}

// IsOpen reports whether the range runs to EOF.
func (r Range) IsOpen() bool {
	return r.End == OpenEnd
}

// Len returns the exact length of a bounded range, or UnknownSize for an open one.
func (r Range) Len() int64 {
	if r.IsOpen() {
		return UnknownSize
	}
	return r.End - r.Start + 1
}

// IsWholeFile reports whether the range is the unbounded whole-file fallback.
func (r Range) IsWholeFile() bool {
	return r.Start == 0 && r.IsOpen()
}

// Header renders the HTTP Range header value.
func (r Range) Header() string {
	if r.IsOpen() {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// String renders the range for logs, e.g. "750000-end".
func (r Range) String() string {
	if r.IsOpen() {
		return fmt.Sprintf("%d-end", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// RangePlan is the ordered partition of a source into ranges.
type RangePlan struct {
	// TotalSize is the reported source size, or UnknownSize.
	TotalSize int64
	// Ranges are sorted by Index ascending, contiguous and non-overlapping.
	Ranges []Range
}

// Known reports whether the plan was computed from a known, non-zero size.
func (p RangePlan) Known() bool {
	return p.TotalSize > 0
}

// PartFile is one fetched range on disk.
type PartFile struct {
	Index         int
	Path          string
	BytesReceived int64
}

// Artifact is the merged file at a given pipeline stage.
type Artifact struct {
	Path      string
	SizeBytes int64
}

// DeliveryKind discriminates DeliveryUnit variants.
type DeliveryKind string

const (
	// DeliveryWholeFile is a single playable file.
	DeliveryWholeFile DeliveryKind = "whole_file"
	// DeliveryChunkSet is an ordered set of byte chunks.
	DeliveryChunkSet DeliveryKind = "chunk_set"
)

// Chunk is one piece of a split artifact. Index starts at 1.
type Chunk struct {
	Index      int
	Path       string
	SizeBytes  int64
	TotalCount int
}

// DeliveryUnit is the terminal output of the pipeline.
type DeliveryUnit struct {
	Kind DeliveryKind
	// File is set for DeliveryWholeFile.
	File Artifact
	// Chunks is set for DeliveryChunkSet, ordered by Index.
	Chunks []Chunk
	// Reencoded is true when the whole file came from the size-reducing re-encode.
	Reencoded bool
}

// WholeFile builds a single-file delivery unit.
func WholeFile(a Artifact) DeliveryUnit {
	return DeliveryUnit{Kind: DeliveryWholeFile, File: a}
}

// ChunkSet builds a chunked delivery unit.
func ChunkSet(chunks []Chunk) DeliveryUnit {
	return DeliveryUnit{Kind: DeliveryChunkSet, Chunks: chunks}
}

// Paths returns every file path the unit references, in delivery order.
func (u DeliveryUnit) Paths() []string {
	if u.Kind == DeliveryChunkSet {
		paths := make([]string, 0, len(u.Chunks))
		for _, c := range u.Chunks {
			paths = append(paths, c.Path)
		}
		return paths
	}
	if u.File.Path == "" {
		return nil
	}
	return []string{u.File.Path}
}

// TotalBytes returns the summed size of the unit.
func (u DeliveryUnit) TotalBytes() int64 {
	if u.Kind == DeliveryChunkSet {
		var n int64
		for _, c := range u.Chunks {
			n += c.SizeBytes
		}
		return n
	}
	return u.File.SizeBytes
}
