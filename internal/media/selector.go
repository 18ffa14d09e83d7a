package media

import (
	"context"
	"errors"
	"log/slog"

	"github.com/grabbybot/grabby/internal/metrics"
)

// Selector tries backends strictly in priority order and returns the first
// success. Backends are never tried concurrently for the same request.
type Selector struct {
	logger   *slog.Logger
	backends []Backend
}

func NewSelector(log *slog.Logger, backends ...Backend) *Selector {
	if log == nil {
		log = slog.Default()
	}
	return &Selector{
		logger:   log.With(slog.String("service", "selector")),
		backends: backends,
	}
}

// Backends returns the configured backends in priority order.
func (s *Selector) Backends() []Backend {
	return s.backends
}

// Resolve walks the priority order. Unsupported responses are skipped without
// counting as failures; other errors are collected. When every backend is
// exhausted it returns an AggregateError, or ErrNoBackendMatched if no
// backend recognized the URL at all.
func (s *Selector) Resolve(ctx context.Context, url string) (*Media, error) {
	var failures []error
	for _, backend := range s.backends {
		m, err := backend.Download(ctx, url)
		if err == nil {
			s.logger.Info("download succeeded",
				slog.String("backend", backend.Name()),
				slog.String("url", url))
			metrics.ResolvesTotal.WithLabelValues(backend.Name(), "success").Inc()
			return m, nil
		}
		if errors.Is(err, ErrUnsupportedURL) {
			s.logger.Debug("backend does not support url",
				slog.String("backend", backend.Name()),
				slog.String("url", url))
			metrics.ResolvesTotal.WithLabelValues(backend.Name(), "unsupported").Inc()
			continue
		}
		s.logger.Warn("backend failed",
			slog.String("backend", backend.Name()),
			slog.String("url", url),
			slog.Any("error", err))
		metrics.ResolvesTotal.WithLabelValues(backend.Name(), "failure").Inc()
		failures = append(failures, &DownloadError{Backend: backend.Name(), Err: err})
	}

	if len(failures) == 0 {
		return nil, ErrNoBackendMatched
	}
	return nil, &AggregateError{Failures: failures}
}
