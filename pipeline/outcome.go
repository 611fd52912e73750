package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/pithecene-io/ferry/bytefmt"
	"github.com/pithecene-io/ferry/fetch"
	"github.com/pithecene-io/ferry/types"
)

// defaultArtifactName is used when the source URL has no usable file name.
const defaultArtifactName = "video.mp4"

// stageKinds classifies unwrapped errors by the state they surfaced in.
var stageKinds = map[types.TransferState]error{
	types.StatePlanning:    types.ErrPlanning,
	types.StateFetching:    types.ErrFetchFailed,
	types.StateAssembling:  types.ErrAssemblyIncomplete,
	types.StateNormalizing: types.ErrNormalizationFailed,
	types.StatePackaging:   types.ErrPackagingFailed,
	types.StateDelivering:  types.ErrDeliveryFailed,
}

func stageKind(stage types.TransferState) error {
	if kind, ok := stageKinds[stage]; ok {
		return kind
	}
	return types.ErrPlanning
}

// failureMessage renders the single user-facing failure text.
func failureMessage(stage types.TransferState, err error) string {
	switch {
	case errors.Is(err, errInternal):
		return fmt.Sprintf("internal error while %s", stage)
	case errors.Is(err, types.ErrFetchFailed):
		return "download failed (" + fetch.Describe(err) + ")"
	case errors.Is(err, types.ErrAssemblyIncomplete):
		return "download was incomplete"
	case errors.Is(err, types.ErrNormalizationFailed):
		return "could not prepare the video for streaming"
	case errors.Is(err, types.ErrPackagingFailed):
		return "could not package the file for upload"
	case errors.Is(err, types.ErrDeliveryFailed):
		return "upload failed"
	case stage == types.StatePlanning:
		return "could not start the transfer"
	default:
		return fmt.Sprintf("internal error while %s", stage)
	}
}

func successMessage(unit types.DeliveryUnit) string {
	size := bytefmt.Format(unit.TotalBytes())
	if unit.Kind == types.DeliveryChunkSet {
		return fmt.Sprintf("sent %s in %d parts", size, len(unit.Chunks))
	}
	if unit.Reencoded {
		return fmt.Sprintf("sent %s (re-encoded to fit)", size)
	}
	return "sent " + size
}

// artifactName derives the local file name from the source URL path.
func artifactName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultArtifactName
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || strings.HasPrefix(name, ".") {
		return defaultArtifactName
	}
	if !strings.Contains(name, ".") {
		name += ".mp4"
	}
	return name
}
