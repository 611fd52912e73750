// Package media wraps the ffmpeg and ffprobe executables.
//
// Every invocation goes through a Runner so the normalizer and packager can be
// tested against a recorded fake toolchain.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Default executable names, resolved through PATH.
const (
	FFmpegCommand  = "ffmpeg"
	FFprobeCommand = "ffprobe"
)

const stderrTailBytes = 2048

// Runner executes one tool invocation and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args []string) ([]byte, error)
}

// ExecRunner runs tools as child processes.
type ExecRunner struct{}

// Run executes name with args. A non-zero exit returns a *ToolError carrying
// the tail of stderr.
func (ExecRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		toolErr := &ToolError{Tool: name, Stderr: tail(stderr.Bytes(), stderrTailBytes), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), toolErr
	}
	return stdout.Bytes(), nil
}

// ToolError describes a failed tool invocation.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Tool)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying process error.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// Toolchain locates ffmpeg and ffprobe and runs them.
type Toolchain struct {
	FFmpegPath  string
	FFprobePath string
	Runner      Runner
}

// NewToolchain creates a toolchain using the given executable paths. Empty
// paths fall back to the PATH defaults.
func NewToolchain(ffmpegPath, ffprobePath string) *Toolchain {
	if ffmpegPath == "" {
		ffmpegPath = FFmpegCommand
	}
	if ffprobePath == "" {
		ffprobePath = FFprobeCommand
	}
	return &Toolchain{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Runner: ExecRunner{}}
}

// Check verifies both executables can be found.
func (t *Toolchain) Check() error {
	var errs []error
	for _, name := range []string{t.FFmpegPath, t.FFprobePath} {
		if _, err := exec.LookPath(name); err != nil {
			errs = append(errs, fmt.Errorf("%s not found: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// FFmpeg runs ffmpeg with args. -hide_banner and -loglevel error are prepended
// so a failure's stderr holds only the error.
func (t *Toolchain) FFmpeg(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	_, err := t.Runner.Run(ctx, t.FFmpegPath, full)
	return err
}

// VideoCodec returns the codec name of the first video stream, e.g. "h264".
// A file without a video stream returns an empty name and no error.
func (t *Toolchain) VideoCodec(ctx context.Context, path string) (string, error) {
	out, err := t.Runner.Run(ctx, t.FFprobePath, []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		"-of", "csv=p=0",
		path,
	})
	if err != nil {
		return "", err
	}
	return strings.ToLower(firstLine(string(out))), nil
}

// Duration returns the container duration. Zero when ffprobe reports none.
func (t *Toolchain) Duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := t.Runner.Run(ctx, t.FFprobePath, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	})
	if err != nil {
		return 0, err
	}
	s := firstLine(string(out))
	if s == "" || s == "N/A" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.TrimSuffix(s, ","))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
