// Package normalize makes an assembled artifact playable while it streams.
//
// A source whose primary video codec is already compatible is remuxed with
// stream copy. Anything else is transcoded. Either way the output has its
// index at the front (+faststart) and opens on a keyframe.
package normalize

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/media"
	"github.com/pithecene-io/ferry/types"
)

// Defaults for Config.
const (
	DefaultCompatibleCodec = "h264"
	DefaultVideoCodec      = "libx264"
	DefaultAudioCodec      = "aac"
	DefaultAudioBitrate    = "128k"
	DefaultPreset          = "veryfast"
	DefaultCRF             = 23
)

// Config configures the normalizer.
type Config struct {
	// Enabled turns normalization on. When false Normalize returns the input.
	Enabled bool
	// CompatibleCodec is the reported codec name that only needs a remux.
	CompatibleCodec string
	// VideoCodec and AudioCodec are the ffmpeg encoders used to transcode.
	VideoCodec string
	AudioCodec string
	// AudioBitrate is the transcode audio bitrate, e.g. "128k".
	AudioBitrate string
	// Preset is the x264 speed preset.
	Preset string
	// CRF is the x264 constant rate factor.
	CRF int
}

func (c Config) withDefaults() Config {
	if c.CompatibleCodec == "" {
		c.CompatibleCodec = DefaultCompatibleCodec
	}
	if c.VideoCodec == "" {
		c.VideoCodec = DefaultVideoCodec
	}
	if c.AudioCodec == "" {
		c.AudioCodec = DefaultAudioCodec
	}
	if c.AudioBitrate == "" {
		c.AudioBitrate = DefaultAudioBitrate
	}
	if c.Preset == "" {
		c.Preset = DefaultPreset
	}
	if c.CRF <= 0 {
		c.CRF = DefaultCRF
	}
	return c
}

// Mode is the branch the normalizer took.
type Mode string

const (
	ModeSkipped   Mode = "skipped"
	ModeRemux     Mode = "remux"
	ModeTranscode Mode = "transcode"
)

// Result is the normalized artifact and how it was produced.
type Result struct {
	Artifact types.Artifact
	Mode     Mode
	// Codec is the source video codec (empty when skipped or absent).
	Codec string
	// Duration is the source container duration. Zero when unknown.
	Duration time.Duration
}

// Normalizer inspects and rewrites artifacts with ffmpeg.
type Normalizer struct {
	cfg    Config
	tools  *media.Toolchain
	logger *log.Logger
}

// New creates a normalizer.
func New(cfg Config, tools *media.Toolchain, logger *log.Logger) *Normalizer {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Normalizer{cfg: cfg.withDefaults(), tools: tools, logger: logger}
}

// Normalize rewrites art in place and returns the new artifact. The rewrite
// goes to a sibling path that is renamed over art only on success, so a
// failure leaves art unchanged. Failures are types.ErrNormalizationFailed.
func (n *Normalizer) Normalize(ctx context.Context, art types.Artifact) (Result, error) {
	if !n.cfg.Enabled {
		return Result{Artifact: art, Mode: ModeSkipped}, nil
	}

	codec, err := n.tools.VideoCodec(ctx, art.Path)
	if err != nil {
		return Result{}, failed("inspect codec", err)
	}
	if codec == "" {
		n.logger.Warn("no video stream, skipping normalization", map[string]any{"path": art.Path})
		return Result{Artifact: art, Mode: ModeSkipped}, nil
	}

	tmp := art.Path + ".norm.mp4"
	mode := ModeTranscode
	args := n.TranscodeArgs(art.Path, tmp)
	if codec == n.cfg.CompatibleCodec {
		mode = ModeRemux
		args = RemuxArgs(art.Path, tmp)
	}

	// Duration is informational; a failed lookup never blocks the rewrite.
	dur, err := n.tools.Duration(ctx, art.Path)
	if err != nil {
		n.logger.Debug("source duration unavailable", map[string]any{"error": err.Error()})
	}
	n.logger.Info("normalizing", map[string]any{
		"codec":        codec,
		"mode":         string(mode),
		"size":         art.SizeBytes,
		"duration_sec": dur.Seconds(),
	})

	if err := n.tools.FFmpeg(ctx, args...); err != nil {
		_ = os.Remove(tmp)
		return Result{}, failed(string(mode), err)
	}
	size, err := iox.FileSize(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return Result{}, failed(string(mode)+" output", err)
	}
	if size == 0 {
		_ = os.Remove(tmp)
		return Result{}, failed(string(mode)+" output", fmt.Errorf("%s produced an empty file", mode))
	}
	if err := iox.Replace(tmp, art.Path); err != nil {
		return Result{}, failed("replace artifact", err)
	}

	return Result{
		Artifact: types.Artifact{Path: art.Path, SizeBytes: size},
		Mode:     mode,
		Codec:    codec,
		Duration: dur,
	}, nil
}

// RemuxArgs copies the primary video and any audio into an MP4 with the index
// at the front. Stream copy drops the non-key frames before the first
// keyframe, so the output opens on one.
func RemuxArgs(in, out string) []string {
	return []string{
		"-y",
		"-fflags", "+genpts",
		"-i", in,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c", "copy",
		"-movflags", "+faststart",
		"-avoid_negative_ts", "make_zero",
		"-f", "mp4",
		out,
	}
}

// TranscodeArgs re-encodes to the configured codecs with a keyframe forced on
// the first frame.
func (n *Normalizer) TranscodeArgs(in, out string) []string {
	return []string{
		"-y",
		"-i", in,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", n.cfg.VideoCodec,
		"-preset", n.cfg.Preset,
		"-crf", strconv.Itoa(n.cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-force_key_frames", `expr:eq(n\,0)`,
		"-c:a", n.cfg.AudioCodec,
		"-b:a", n.cfg.AudioBitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
		out,
	}
}

func failed(detail string, err error) error {
	return types.NewTransferError(types.ErrNormalizationFailed, types.StateNormalizing, detail, err)
}
