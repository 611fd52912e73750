// Package mediatest provides a recording fake of the ffmpeg toolchain.
package mediatest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pithecene-io/ferry/media"
)

// Runner answers ffprobe from canned values and makes ffmpeg write its output
// file (the last argument) without decoding anything.
type Runner struct {
	// Codec is returned for video codec queries.
	Codec string
	// DurationSecs is returned for duration queries.
	DurationSecs string
	// OutputSize returns the number of bytes ffmpeg writes for an invocation.
	// Nil writes 1024 bytes.
	OutputSize func(args []string) int64
	// FFmpegErr, when set, fails every ffmpeg invocation.
	FFmpegErr error
	// ProbeErr, when set, fails every ffprobe invocation.
	ProbeErr error

	mu    sync.Mutex
	calls [][]string
}

// Toolchain returns a media.Toolchain backed by r.
func (r *Runner) Toolchain() *media.Toolchain {
	return &media.Toolchain{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe", Runner: r}
}

// Run implements media.Runner.
func (r *Runner) Run(_ context.Context, name string, args []string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if name == "ffprobe" {
		if r.ProbeErr != nil {
			return nil, r.ProbeErr
		}
		if strings.Contains(strings.Join(args, " "), "format=duration") {
			return []byte(r.DurationSecs + "\n"), nil
		}
		return []byte(r.Codec + "\n"), nil
	}

	if r.FFmpegErr != nil {
		return nil, r.FFmpegErr
	}
	size := int64(1024)
	if r.OutputSize != nil {
		size = r.OutputSize(args)
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, make([]byte, size), 0o644); err != nil {
		return nil, fmt.Errorf("fake ffmpeg: %w", err)
	}
	return nil, nil
}

// Calls returns every recorded invocation as name followed by args.
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// FFmpegCalls returns only the ffmpeg invocations, joined with spaces.
func (r *Runner) FFmpegCalls() []string {
	var out []string
	for _, c := range r.Calls() {
		if c[0] == "ffmpeg" {
			out = append(out, strings.Join(c, " "))
		}
	}
	return out
}
