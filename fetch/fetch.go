// Package fetch retrieves byte ranges of a remote file over HTTP.
//
// The Fetcher is safe for concurrent use: the pipeline fetches parts in
// parallel through one shared instance. Each FetchPart call owns exactly
// one destination file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/types"
)

// DefaultTimeout bounds one part, including the body transfer.
const DefaultTimeout = 30 * time.Minute

// DefaultConnectTimeout bounds dialing, TLS and waiting for response headers.
const DefaultConnectTimeout = 30 * time.Second

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "ferry/" + types.Version

// Config configures a Fetcher.
type Config struct {
	// Timeout bounds a single part request, body included (default 30m).
	Timeout time.Duration
	// ConnectTimeout bounds connection setup and response headers (default 30s).
	ConnectTimeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// Proxy picks the outbound proxy per request (default: environment).
	Proxy func(*http.Request) (*url.URL, error)
	// Client overrides the HTTP client. Timeouts above still apply per request.
	Client *http.Client
}

// Fetcher performs size probes and ranged part downloads.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// New creates a Fetcher, filling defaults for zero config values.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Proxy == nil {
		cfg.Proxy = http.ProxyFromEnvironment
	}
	client := cfg.Client
	if client == nil {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 cfg.Proxy,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				ResponseHeaderTimeout: cfg.ConnectTimeout,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return &Fetcher{client: client, timeout: cfg.Timeout, userAgent: cfg.UserAgent}
}

// Close releases idle connections.
func (f *Fetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// ProbeResult is what the source revealed about itself.
type ProbeResult struct {
	// Size is the total size in bytes, or types.UnknownSize.
	Size int64
	// AcceptRanges reports whether the source serves byte ranges.
	AcceptRanges bool
}

// Probe asks the source for its total size. It tries HEAD first and falls
// back to a one-byte range GET when HEAD is refused or carries no length.
//
// An ambiguous answer is not fatal: Probe then returns a result with
// types.UnknownSize and an error classified as types.ErrPlanning so the
// caller can log it and degrade to a whole-file fetch.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (ProbeResult, error) {
	unknown := ProbeResult{Size: types.UnknownSize}

	headSize, headRanges, headErr := f.probeHead(ctx, rawURL)
	if headErr == nil && headSize > 0 && headRanges == rangesAdvertised {
		return ProbeResult{Size: headSize, AcceptRanges: true}, nil
	}
	if headErr == nil && headSize > 0 && headRanges == rangesRefused {
		return ProbeResult{Size: headSize}, nil
	}

	// HEAD was refused, had no length, or did not say whether ranges work.
	res, getErr := f.probeRange(ctx, rawURL)
	if getErr == nil {
		if res.Size <= 0 && headSize > 0 {
			res.Size = headSize
		}
		if res.Size > 0 {
			return res, nil
		}
	}
	if headErr == nil && headSize > 0 {
		return ProbeResult{Size: headSize}, nil
	}

	if ctx.Err() != nil {
		return unknown, ctx.Err()
	}
	cause := errors.Join(headErr, getErr)
	if cause == nil {
		cause = errors.New("source reported no size")
	}
	return unknown, types.NewTransferError(types.ErrPlanning, types.StatePlanning, "size probe", cause)
}

type rangeSupport int

const (
	rangesUnstated rangeSupport = iota
	rangesAdvertised
	rangesRefused
)

func (f *Fetcher) probeHead(ctx context.Context, rawURL string) (int64, rangeSupport, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return types.UnknownSize, rangesUnstated, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return types.UnknownSize, rangesUnstated, fmt.Errorf("head: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return types.UnknownSize, rangesUnstated, fmt.Errorf("head: %w", &StatusError{Code: resp.StatusCode})
	}

	support := rangesUnstated
	switch ar := strings.ToLower(resp.Header.Get("Accept-Ranges")); {
	case strings.Contains(ar, "bytes"):
		support = rangesAdvertised
	case ar == "none":
		support = rangesRefused
	}
	return contentLength(resp.Header), support, nil
}

func (f *Fetcher) probeRange(ctx context.Context, rawURL string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return ProbeResult{Size: types.UnknownSize}, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := f.client.Do(req)
	if err != nil {
		return ProbeResult{Size: types.UnknownSize}, fmt.Errorf("range probe: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return ProbeResult{Size: types.UnknownSize}, fmt.Errorf("range probe: %w", err)
		}
		return ProbeResult{Size: total, AcceptRanges: true}, nil
	case http.StatusOK:
		// Range ignored; the body is the whole file, left unread.
		return ProbeResult{Size: contentLength(resp.Header)}, nil
	default:
		return ProbeResult{Size: types.UnknownSize}, fmt.Errorf("range probe: %w", &StatusError{Code: resp.StatusCode})
	}
}

// FetchPart downloads one range into dst. Bounded ranges send an exact Range
// header; the whole-file range sends none. onBytes, when non-nil, is called
// with each chunk size as it is written.
//
// Any failure is a types.ErrFetchFailed TransferError: transport errors,
// non-2xx statuses, a server that ignores a range request, a mismatched
// Content-Range, and a response with zero bytes.
func (f *Fetcher) FetchPart(ctx context.Context, rawURL string, r types.Range, dst string, onBytes func(int64)) (types.PartFile, error) {
	part := types.PartFile{Index: r.Index, Path: dst}
	detail := fmt.Sprintf("part %d (%s)", r.Index, r)
	fail := func(err error) (types.PartFile, error) {
		_ = os.Remove(dst)
		return part, types.NewTransferError(types.ErrFetchFailed, types.StateFetching, detail, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return fail(err)
	}
	if !r.IsWholeFile() {
		req.Header.Set("Range", r.Header())
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer iox.DiscardClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		start, end, _, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return fail(err)
		}
		if start != r.Start || (!r.IsOpen() && end != r.End) {
			return fail(fmt.Errorf("server returned range %d-%d, requested %s", start, end, r))
		}
	case resp.StatusCode == http.StatusOK && r.IsWholeFile():
	case resp.StatusCode == http.StatusOK:
		return fail(errors.New("server ignored the range request"))
	default:
		return fail(&StatusError{Code: resp.StatusCode})
	}

	out, err := os.Create(dst)
	if err != nil {
		return fail(fmt.Errorf("create part file: %w", err))
	}

	var body io.Reader = resp.Body
	if n := r.Len(); n > 0 {
		body = io.LimitReader(resp.Body, n)
	}
	w := &countingWriter{w: out, onBytes: onBytes}
	n, copyErr := io.Copy(w, body)
	closeErr := out.Close()
	part.BytesReceived = n

	if copyErr != nil {
		return fail(fmt.Errorf("read body after %d bytes: %w", n, copyErr))
	}
	if closeErr != nil {
		return fail(fmt.Errorf("close part file: %w", closeErr))
	}
	if n == 0 {
		return fail(errors.New("received zero bytes"))
	}
	return part, nil
}

func (f *Fetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	return req, nil
}

// ParseContentRange parses "bytes start-end/total". total is
// types.UnknownSize when the server sends "*".
func ParseContentRange(v string) (start, end, total int64, err error) {
	unit, rest, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || unit != "bytes" {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	span, totalStr, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	if start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range start %q", startStr)
	}
	if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range end %q", endStr)
	}
	if end < start {
		return 0, 0, 0, fmt.Errorf("inverted Content-Range %q", v)
	}
	total = types.UnknownSize
	if totalStr = strings.TrimSpace(totalStr); totalStr != "*" {
		if total, err = strconv.ParseInt(totalStr, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("malformed Content-Range total %q", totalStr)
		}
	}
	return start, end, total, nil
}

func contentLength(h http.Header) int64 {
	if cl := h.Get("Content-Length"); cl != "" {
		if v, err := strconv.ParseInt(cl, 10, 64); err == nil && v > 0 {
			return v
		}
	}
	return types.UnknownSize
}

// Describe renders a short user-facing reason for a fetch error.
func Describe(err error) string {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("HTTP %d", statusErr.Code)
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timed out"
	case errors.As(err, &netErr):
		return "network error"
	default:
		return "download error"
	}
}

type countingWriter struct {
	w       io.Writer
	onBytes func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 && c.onBytes != nil {
		c.onBytes(int64(n))
	}
	return n, err
}
