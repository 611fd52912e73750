package lode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Storage failure kinds. Use errors.Is(err, ErrXxx) on errors returned by
// this package.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrAccessDenied     = errors.New("access denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrNetwork          = errors.New("network error")
	// ErrUnclassified is the kind for anything the patterns do not recognize.
	ErrUnclassified = errors.New("storage error")
)

// kindLabels name each kind for logs.
var kindLabels = map[error]string{
	ErrPermissionDenied: "permission_denied",
	ErrAccessDenied:     "access_denied",
	ErrNotFound:         "not_found",
	ErrDiskFull:         "disk_full",
	ErrTimeout:          "timeout",
	ErrThrottled:        "throttled",
	ErrAuth:             "auth",
	ErrNetwork:          "network",
	ErrUnclassified:     "unclassified",
}

// messagePatterns classify untyped errors by lowercase substring, first
// match wins. S3 and filesystem wordings overlap, so order matters:
// AccessDenied must be seen before the generic "denied" forms.
var messagePatterns = []struct {
	kind  error
	words []string
}{
	{ErrAccessDenied, []string{"accessdenied", "access denied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid",
		"signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "connection reset", "no route to host",
		"network unreachable", "dns", "dial tcp", "broken pipe"}},
}

// StorageError is a classified archive failure. The cause stays in the chain.
type StorageError struct {
	Kind error
	// Op is the operation that failed: init, open, put, journal or read.
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Wrap classifies err and wraps it with the operation and path.
// Returns nil if err is nil.
func Wrap(err error, op, path string) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: classifyError(err), Op: op, Path: path, Err: err}
}

// Kind returns a short label for err's storage kind, or "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var se *StorageError
	if errors.As(err, &se) {
		return kindLabels[se.Kind]
	}
	return kindLabels[classifyError(err)]
}

// Retryable reports whether err is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrThrottled) || errors.Is(err, ErrNetwork)
}

// classifyError maps err to a kind sentinel. Typed errors are checked first,
// then message patterns.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var timeoutErr interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &timeoutErr) && timeoutErr.Timeout():
		return ErrTimeout
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return ErrNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		for _, w := range p.words {
			if strings.Contains(msg, w) {
				return p.kind
			}
		}
	}
	return ErrUnclassified
}
