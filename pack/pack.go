// Package pack fits an artifact under the upload size ceiling.
//
// An artifact at or under the ceiling is delivered whole. A larger one is
// optionally re-encoded to a smaller rendition; when that is disabled, fails,
// or still does not fit, the original artifact is split into ceiling-sized
// byte chunks whose concatenation reproduces it exactly.
package pack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/media"
	"github.com/pithecene-io/ferry/types"
)

// DefaultCeiling is the default upload ceiling, 48 MiB.
const DefaultCeiling int64 = 48 << 20

// Defaults for the size-reducing re-encode.
const (
	DefaultCRF          = 28
	DefaultPreset       = "veryfast"
	DefaultMaxHeight    = 720
	DefaultAudioBitrate = "96k"
)

// Config configures the packager.
type Config struct {
	// Ceiling is the largest deliverable file in bytes.
	Ceiling int64
	// Reencode enables the size-reducing re-encode before splitting.
	Reencode bool
	// CRF, Preset, MaxHeight and AudioBitrate tune the re-encode.
	CRF          int
	Preset       string
	MaxHeight    int
	AudioBitrate string
}

func (c Config) withDefaults() Config {
	if c.Ceiling <= 0 {
		c.Ceiling = DefaultCeiling
	}
	if c.CRF <= 0 {
		c.CRF = DefaultCRF
	}
	if c.Preset == "" {
		c.Preset = DefaultPreset
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = DefaultMaxHeight
	}
	if c.AudioBitrate == "" {
		c.AudioBitrate = DefaultAudioBitrate
	}
	return c
}

// Packager produces delivery units.
type Packager struct {
	cfg    Config
	tools  *media.Toolchain
	logger *log.Logger
}

// New creates a packager. tools may be nil when re-encoding is disabled.
func New(cfg Config, tools *media.Toolchain, logger *log.Logger) *Packager {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Packager{cfg: cfg.withDefaults(), tools: tools, logger: logger}
}

// Ceiling returns the effective size ceiling.
func (p *Packager) Ceiling() int64 {
	return p.cfg.Ceiling
}

// Package returns the delivery unit for art. Only split I/O failures are
// errors (types.ErrPackagingFailed); a failed re-encode is logged and the
// packager falls back to splitting.
func (p *Packager) Package(ctx context.Context, art types.Artifact) (types.DeliveryUnit, error) {
	if art.SizeBytes <= p.cfg.Ceiling {
		return types.WholeFile(art), nil
	}

	if p.cfg.Reencode && p.tools != nil {
		small, err := p.reencode(ctx, art)
		switch {
		case err != nil:
			p.logger.Warn("re-encode failed, splitting instead", map[string]any{"error": err.Error()})
		case small.SizeBytes <= p.cfg.Ceiling:
			p.logger.Info("re-encode fits the ceiling", map[string]any{
				"original_size":  art.SizeBytes,
				"reencoded_size": small.SizeBytes,
			})
			unit := types.WholeFile(small)
			unit.Reencoded = true
			return unit, nil
		default:
			p.logger.Info("re-encode still over the ceiling, splitting", map[string]any{
				"reencoded_size": small.SizeBytes,
				"ceiling":        p.cfg.Ceiling,
			})
			_ = os.Remove(small.Path)
		}
	}

	if err := ctx.Err(); err != nil {
		return types.DeliveryUnit{}, types.NewTransferError(types.ErrPackagingFailed, types.StatePackaging, "canceled", err)
	}
	chunks, err := Split(art, p.cfg.Ceiling)
	if err != nil {
		return types.DeliveryUnit{}, err
	}
	return types.ChunkSet(chunks), nil
}

func (p *Packager) reencode(ctx context.Context, art types.Artifact) (types.Artifact, error) {
	out := strings.TrimSuffix(art.Path, ".mp4") + ".small.mp4"
	if err := p.tools.FFmpeg(ctx, p.ReencodeArgs(art.Path, out)...); err != nil {
		_ = os.Remove(out)
		return types.Artifact{}, err
	}
	size, err := iox.FileSize(out)
	if err != nil || size == 0 {
		_ = os.Remove(out)
		return types.Artifact{}, errors.Join(errors.New("re-encode produced no output"), err)
	}
	return types.Artifact{Path: out, SizeBytes: size}, nil
}

// ReencodeArgs builds the size-reducing ffmpeg invocation. Video taller than
// MaxHeight is scaled down keeping the aspect ratio.
func (p *Packager) ReencodeArgs(in, out string) []string {
	return []string{
		"-y",
		"-i", in,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-vf", fmt.Sprintf(`scale=-2:min(%d\,ih)`, p.cfg.MaxHeight),
		"-c:v", "libx264",
		"-preset", p.cfg.Preset,
		"-crf", strconv.Itoa(p.cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", p.cfg.AudioBitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
		out,
	}
}

// ChunkPath names chunk index (1-based) of the artifact at path.
func ChunkPath(path string, index int) string {
	return fmt.Sprintf("%s.%03d", path, index)
}

// Split cuts art into ceiling-byte chunks numbered from 1. Every chunk but
// the last is exactly ceiling bytes. On failure no chunk files remain.
func Split(art types.Artifact, ceiling int64) ([]types.Chunk, error) {
	if ceiling <= 0 {
		return nil, splitFailed("invalid ceiling", fmt.Errorf("ceiling must be > 0, got %d", ceiling))
	}
	in, err := os.Open(art.Path)
	if err != nil {
		return nil, splitFailed("open artifact", err)
	}
	defer iox.DiscardClose(in)

	size := art.SizeBytes
	if info, err := in.Stat(); err == nil {
		size = info.Size()
	}
	if size <= 0 {
		return nil, splitFailed("empty artifact", errors.New("nothing to split"))
	}

	count := int((size + ceiling - 1) / ceiling)
	chunks := make([]types.Chunk, 0, count)
	cleanup := func() {
		for _, c := range chunks {
			_ = os.Remove(c.Path)
		}
	}

	for i := 1; i <= count; i++ {
		path := ChunkPath(art.Path, i)
		n, err := writeChunk(in, path, ceiling)
		if err != nil {
			_ = os.Remove(path)
			cleanup()
			return nil, splitFailed(fmt.Sprintf("write chunk %d", i), err)
		}
		chunks = append(chunks, types.Chunk{Index: i, Path: path, SizeBytes: n, TotalCount: count})
	}
	return chunks, nil
}

func writeChunk(src io.Reader, path string, limit int64) (int64, error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.CopyN(out, src, limit)
	if errors.Is(copyErr, io.EOF) && n > 0 {
		copyErr = nil
	}
	return n, errors.Join(copyErr, out.Close())
}

func splitFailed(detail string, err error) error {
	return types.NewTransferError(types.ErrPackagingFailed, types.StatePackaging, detail, err)
}
