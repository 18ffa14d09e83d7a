package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/grabbybot/grabby/internal/channel/adapters/discord"
	"github.com/grabbybot/grabby/internal/config"
	"github.com/grabbybot/grabby/internal/delivery"
	"github.com/grabbybot/grabby/internal/dispatch"
	"github.com/grabbybot/grabby/internal/logger"
	"github.com/grabbybot/grabby/internal/media"
	"github.com/grabbybot/grabby/internal/metrics"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideSelector,
			provideResizer,
			provideStore,
			provideAdapter,
			provideDispatcher,
			provideAuthorizer,
		),
		fx.Invoke(
			startMetricsServer,
			startDiscord,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideSelector(log *slog.Logger, cfg config.Config) (*media.Selector, error) {
	backends := make([]media.Backend, 0, len(cfg.Media.BackendOrder))
	for _, name := range cfg.Media.BackendOrder {
		switch name {
		case "gallery-dl":
			backends = append(backends, media.NewGalleryDL(log, cfg.Media.MetadataTimeout(), cfg.Media.DownloadTimeout()))
		case "yt-dlp":
			backends = append(backends, media.NewYtDLP(log, cfg.Media.MetadataTimeout(), cfg.Media.DownloadTimeout()))
		default:
			return nil, fmt.Errorf("unknown backend %q", name)
		}
	}
	return media.NewSelector(log, backends...), nil
}

func provideResizer(log *slog.Logger, cfg config.Config) *media.Resizer {
	return media.NewResizer(log, cfg.Media.ResizeTimeout())
}

func provideStore(log *slog.Logger, cfg config.Config) *delivery.Store {
	return delivery.NewStore(log, cfg.Delivery.MaxRecords, cfg.Delivery.TTL())
}

func provideAdapter(log *slog.Logger, cfg config.Config) (*discord.Adapter, error) {
	return discord.NewAdapter(log, cfg.Discord.Token)
}

func provideDispatcher(log *slog.Logger, cfg config.Config, selector *media.Selector, resizer *media.Resizer, adapter *discord.Adapter, store *delivery.Store) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, selector, resizer, adapter, store, cfg, cfg.Media.AttachmentCeilingBytes)
}

func provideAuthorizer(log *slog.Logger, store *delivery.Store, adapter *discord.Adapter) *delivery.Authorizer {
	return delivery.NewAuthorizer(log, store, adapter, adapter)
}

func startMetricsServer(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) {
	if cfg.Metrics.Addr == "" {
		return
	}
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler()}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server failed", slog.Any("error", err))
				}
			}()
			log.Info("metrics listening", slog.String("addr", cfg.Metrics.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func startDiscord(lc fx.Lifecycle, log *slog.Logger, adapter *discord.Adapter, dispatcher *dispatch.Dispatcher, authorizer *delivery.Authorizer, selector *media.Selector) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			probeTools(ctx, log, selector)
			adapter.Bind(dispatcher, authorizer)
			return adapter.Open(ctx)
		},
		OnStop: func(ctx context.Context) error {
			err := adapter.Close()
			drainDispatches(ctx, log, dispatcher)
			return err
		},
	})
}

// probeTools logs which external tools are reachable. Missing tools degrade
// the pipeline at runtime rather than blocking startup.
func probeTools(ctx context.Context, log *slog.Logger, selector *media.Selector) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, backend := range selector.Backends() {
		if !backend.Available(probeCtx) {
			log.Warn("backend tool not available", slog.String("backend", backend.Name()))
		}
	}
	if !media.FFmpegAvailable(probeCtx, log) {
		log.Warn("ffmpeg not available, oversized media cannot be shrunk")
	}
}

func drainDispatches(ctx context.Context, log *slog.Logger, dispatcher *dispatch.Dispatcher) {
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("shutdown before in-flight embeds finished")
	}
}
