package media

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedURL indicates a backend does not recognize the URL.
	// It is a fast-fail signal, not a hard failure.
	ErrUnsupportedURL = errors.New("url not supported by backend")
	// ErrNoBackendMatched indicates every backend reported the URL as
	// unsupported.
	ErrNoBackendMatched = errors.New("no backend recognized the url")
)

// DownloadError wraps a hard backend failure with the backend's name.
type DownloadError struct {
	Backend string
	Err     error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// AggregateError carries the ordered non-unsupported failures collected while
// exhausting the backend list.
type AggregateError struct {
	Failures []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, err := range e.Failures {
		msgs = append(msgs, err.Error())
	}
	return "media download failed: " + strings.Join(msgs, "; ")
}

func (e *AggregateError) Unwrap() []error {
	return e.Failures
}

// SizeReason classifies why size enforcement rejected a file.
type SizeReason string

const (
	SizeStillTooLarge SizeReason = "still_too_large"
	SizeUnresizable   SizeReason = "unresizable"
)

// SizeError reports a file that could not be brought under the ceiling.
// ResizedBytes is zero when no resize was attempted.
type SizeError struct {
	Reason        SizeReason
	Name          string
	OriginalBytes int64
	ResizedBytes  int64
}

func (e *SizeError) Error() string {
	if e.Reason == SizeStillTooLarge {
		return fmt.Sprintf("%s still too large after resize: %d -> %d bytes", e.Name, e.OriginalBytes, e.ResizedBytes)
	}
	return fmt.Sprintf("%s cannot be resized (%d bytes)", e.Name, e.OriginalBytes)
}
