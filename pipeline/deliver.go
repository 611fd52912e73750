package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/pithecene-io/ferry/bytefmt"
	"github.com/pithecene-io/ferry/types"
)

// Item is one file to upload.
type Item struct {
	Path      string
	Name      string
	Caption   string
	SizeBytes int64
	// Index and Total are 1-based chunk positions; both are 1 for a whole file.
	Index int
	Total int
	// Playable is set for a whole file, which should be sent as a streamable video.
	Playable bool
}

// Items expands a delivery unit into upload items in delivery order.
// Chunks are named <name>.001, <name>.002 and so on.
func Items(name string, unit types.DeliveryUnit) []Item {
	if unit.Kind != types.DeliveryChunkSet {
		if unit.File.Path == "" {
			return nil
		}
		caption := fmt.Sprintf("%s (%s)", filepath.Base(unit.File.Path), bytefmt.Format(unit.File.SizeBytes))
		if unit.Reencoded {
			caption += ", re-encoded to fit"
		}
		return []Item{{
			Path:      unit.File.Path,
			Name:      filepath.Base(unit.File.Path),
			Caption:   caption,
			SizeBytes: unit.File.SizeBytes,
			Index:     1,
			Total:     1,
			Playable:  true,
		}}
	}

	items := make([]Item, 0, len(unit.Chunks))
	for _, c := range unit.Chunks {
		chunkName := fmt.Sprintf("%s.%03d", name, c.Index)
		items = append(items, Item{
			Path:      c.Path,
			Name:      chunkName,
			Caption:   fmt.Sprintf("Part %d/%d: %s (%s)", c.Index, c.TotalCount, chunkName, bytefmt.Format(c.SizeBytes)),
			SizeBytes: c.SizeBytes,
			Index:     c.Index,
			Total:     c.TotalCount,
		})
	}
	return items
}
