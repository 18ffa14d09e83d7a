package media

import "context"

// Backend fetches media and metadata for a class of URLs by driving an
// external tool. Implementations hold all output in memory and reap any
// spawned process on every exit path, including timeouts.
//
// Download returns ErrUnsupportedURL when the backend does not recognize the
// URL; any other error counts as a hard failure for fallback purposes.
type Backend interface {
	Name() string
	Download(ctx context.Context, url string) (*Media, error)
	// Available probes whether the backing tool is installed.
	Available(ctx context.Context) bool
}
