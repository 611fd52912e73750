// Package assemble merges fetched parts into a single artifact.
package assemble

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/types"
)

// Assemble concatenates parts in index order into dst.
//
// The parts must match the plan one-to-one: indexes 0..N-1 with no gaps or
// duplicates, every file present and non-empty, and every bounded part
// exactly as long as its planned range. Any violation fails with
// types.ErrAssemblyIncomplete and dst is left untouched. The merged bytes are
// written to a temporary sibling and renamed into place.
func Assemble(plan types.RangePlan, parts []types.PartFile, dst string) (types.Artifact, error) {
	ordered, err := Verify(plan, parts)
	if err != nil {
		return types.Artifact{}, err
	}

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return types.Artifact{}, incomplete("create output", err)
	}

	var total int64
	for _, p := range ordered {
		n, err := appendFile(out, p.Path)
		total += n
		if err != nil {
			iox.DiscardClose(out)
			_ = os.Remove(tmp)
			return types.Artifact{}, incomplete(fmt.Sprintf("append part %d", p.Index), err)
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return types.Artifact{}, incomplete("close output", err)
	}
	if err := iox.Replace(tmp, dst); err != nil {
		return types.Artifact{}, incomplete("rename output", err)
	}
	return types.Artifact{Path: dst, SizeBytes: total}, nil
}

// Verify checks parts against the plan and returns them sorted by index.
func Verify(plan types.RangePlan, parts []types.PartFile) ([]types.PartFile, error) {
	if len(plan.Ranges) == 0 {
		return nil, incomplete("plan has no ranges", nil)
	}

	ordered := make([]types.PartFile, len(parts))
	copy(ordered, parts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for i, p := range ordered {
		if p.Index != i {
			if i > 0 && p.Index == ordered[i-1].Index {
				return nil, incomplete(fmt.Sprintf("duplicate part %d", p.Index), nil)
			}
			return nil, incomplete(fmt.Sprintf("missing part %d", i), nil)
		}
	}
	if len(ordered) != len(plan.Ranges) {
		return nil, incomplete(fmt.Sprintf("have %d parts, planned %d", len(ordered), len(plan.Ranges)), nil)
	}

	for i, p := range ordered {
		size, err := iox.FileSize(p.Path)
		if err != nil {
			return nil, incomplete(fmt.Sprintf("part %d", p.Index), err)
		}
		if size == 0 {
			return nil, incomplete(fmt.Sprintf("part %d is empty", p.Index), nil)
		}
		if want := plan.Ranges[i].Len(); want > 0 && size != want {
			return nil, incomplete(fmt.Sprintf("part %d has %d bytes, planned %d", p.Index, size, want), nil)
		}
	}
	return ordered, nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer iox.DiscardClose(in)
	return io.Copy(w, in)
}

func incomplete(detail string, err error) error {
	if err == nil {
		err = errors.New(detail)
		detail = ""
	}
	return types.NewTransferError(types.ErrAssemblyIncomplete, types.StateAssembling, detail, err)
}
