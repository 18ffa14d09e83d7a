// Package dispatch orchestrates the embed pipeline: resolve a URL through
// the backend selector, enforce the upload ceiling, deliver the attachment
// and track the delivery record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/grabbybot/grabby/internal/config"
	"github.com/grabbybot/grabby/internal/delivery"
	"github.com/grabbybot/grabby/internal/media"
	"github.com/grabbybot/grabby/internal/metrics"
)

// Trigger names the entry point that produced a request.
type Trigger string

const (
	TriggerCommand Trigger = "command"
	TriggerAuto    Trigger = "auto"
)

// Request is one embed request, created per triggering event and discarded
// when dispatch completes.
type Request struct {
	URL       string
	UserID    string
	GuildID   string
	ChannelID string
	Caption   string
	Spoiler   bool
	Trigger   Trigger
	// OriginMessageID is the message that carried the URL; empty for slash
	// commands. Used to discard results when the origin is deleted mid-flight.
	OriginMessageID string
	// InteractionToken routes error reports back to an ephemeral interaction
	// response when set.
	InteractionToken string
}

// Gateway is the outbound platform boundary.
type Gateway interface {
	// UploadAttachment posts files with the given content and returns the
	// created message ID. Spoiler marking follows platform convention.
	UploadAttachment(ctx context.Context, channelID string, files []media.File, content string, spoiler bool) (string, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// ReportError surfaces a user-visible error for the request.
	ReportError(ctx context.Context, req Request, text string) error
}

// Resolver resolves a URL to downloaded media.
type Resolver interface {
	Resolve(ctx context.Context, url string) (*media.Media, error)
}

// Enforcer applies the upload size ceiling to a file.
type Enforcer interface {
	EnforceLimit(ctx context.Context, f media.File, ceiling int64) (media.File, error)
}

// ServerLookup resolves per-guild embed policy.
type ServerLookup interface {
	Server(guildID string) (config.ServerConfig, bool)
}

type Dispatcher struct {
	logger   *slog.Logger
	resolver Resolver
	enforcer Enforcer
	gateway  Gateway
	store    *delivery.Store
	servers  ServerLookup
	ceiling  int64

	mu       sync.Mutex
	inflight map[string]int
	dead     map[string]struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(log *slog.Logger, resolver Resolver, enforcer Enforcer, gateway Gateway, store *delivery.Store, servers ServerLookup, ceiling int64) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		logger:   log.With(slog.String("service", "dispatch")),
		resolver: resolver,
		enforcer: enforcer,
		gateway:  gateway,
		store:    store,
		servers:  servers,
		ceiling:  ceiling,
		inflight: make(map[string]int),
		dead:     make(map[string]struct{}),
	}
}

// HandleCommand runs the pipeline for an explicit command invocation. It
// always dispatches, regardless of channel configuration.
func (d *Dispatcher) HandleCommand(ctx context.Context, req Request) error {
	req.Trigger = TriggerCommand
	return d.Dispatch(ctx, req)
}

// HandleMessage is the passive trigger: it fires only for configured
// auto-embed channels and dispatches every valid URL in the body
// independently. Partial success across URLs is expected.
func (d *Dispatcher) HandleMessage(ctx context.Context, guildID, channelID, userID, messageID, body string) {
	srv, ok := d.servers.Server(guildID)
	if !ok || !srv.Enabled() || !srv.AutoEmbed(channelID) {
		return
	}

	for _, rawURL := range ExtractURLs(body) {
		if srv.DomainDisabled(rawURL) {
			d.logger.Info("skipping disabled domain",
				slog.String("url", rawURL),
				slog.String("guild_id", guildID))
			continue
		}

		req := Request{
			URL:             rawURL,
			UserID:          userID,
			GuildID:         guildID,
			ChannelID:       channelID,
			Trigger:         TriggerAuto,
			OriginMessageID: messageID,
		}
		d.beginOrigin(messageID)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.finishOrigin(messageID)
			if err := d.Dispatch(ctx, req); err != nil {
				d.logger.Warn("auto-embed dispatch failed",
					slog.String("url", req.URL),
					slog.Any("error", err))
			}
		}()
	}
}

// NoteOriginDeleted marks an origin message as deleted so in-flight
// dispatches for it finish without uploading.
func (d *Dispatcher) NoteOriginDeleted(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[messageID] > 0 {
		d.dead[messageID] = struct{}{}
	}
}

// Wait blocks until all auto-embed dispatches have finished. Used at
// shutdown to drain in-flight work.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch runs the pipeline for one request. Every failure path ends in a
// user-visible report; the returned error is for the caller's log only.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	if !ValidURL(req.URL) {
		metrics.DispatchesTotal.WithLabelValues(string(req.Trigger), "invalid_url").Inc()
		d.report(ctx, req, "That doesn't look like a valid URL.")
		return fmt.Errorf("invalid url %q", req.URL)
	}

	m, err := d.resolver.Resolve(ctx, req.URL)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues(string(req.Trigger), "resolve_failed").Inc()
		d.report(ctx, req, resolveFailureText(err))
		return err
	}

	files, skipped, sizeErr := d.enforceAll(ctx, m.Files)
	if len(files) == 0 {
		metrics.DispatchesTotal.WithLabelValues(string(req.Trigger), "size_rejected").Inc()
		d.report(ctx, req, sizeFailureText(sizeErr, d.ceiling))
		if sizeErr != nil {
			return sizeErr
		}
		return errors.New("no deliverable files")
	}

	// The origin may have been deleted while we were downloading; discard
	// rather than post an embed nobody can retract.
	if req.OriginMessageID != "" && d.originGone(req.OriginMessageID) {
		metrics.DispatchesTotal.WithLabelValues(string(req.Trigger), "discarded").Inc()
		d.logger.Info("origin message deleted, discarding result",
			slog.String("url", req.URL),
			slog.String("origin", req.OriginMessageID))
		return nil
	}

	content := buildContent(req, m, skipped)
	messageID, err := d.gateway.UploadAttachment(ctx, req.ChannelID, files, content, req.Spoiler)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues(string(req.Trigger), "upload_failed").Inc()
		d.report(ctx, req, "Failed to upload the media, sorry.")
		return fmt.Errorf("upload attachment: %w", err)
	}

	d.store.Put(delivery.Record{
		MessageID: messageID,
		UserID:    req.UserID,
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		SourceURL: req.URL,
	})
	metrics.DispatchesTotal.WithLabelValues(string(req.Trigger), "success").Inc()
	d.logger.Info("embed delivered",
		slog.String("url", req.URL),
		slog.String("message_id", messageID),
		slog.Int("files", len(files)))
	return nil
}

// enforceAll applies the ceiling to each file. Files that cannot be made
// compliant are skipped; the first SizeError is kept for reporting when
// nothing survives.
func (d *Dispatcher) enforceAll(ctx context.Context, files []media.File) ([]media.File, []string, *media.SizeError) {
	var kept []media.File
	var skipped []string
	var firstSizeErr *media.SizeError

	for _, f := range files {
		if f.Size() == 0 {
			d.logger.Warn("skipping empty file", slog.String("name", f.Name))
			continue
		}
		enforced, err := d.enforcer.EnforceLimit(ctx, f, d.ceiling)
		if err != nil {
			var se *media.SizeError
			if errors.As(err, &se) && firstSizeErr == nil {
				firstSizeErr = se
			}
			d.logger.Warn("file not deliverable",
				slog.String("name", f.Name),
				slog.Any("error", err))
			skipped = append(skipped, fmt.Sprintf("%s (%.1fMB)", f.Name, float64(f.Size())/1_000_000))
			continue
		}
		kept = append(kept, enforced)
	}
	return kept, skipped, firstSizeErr
}

func (d *Dispatcher) beginOrigin(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[messageID]++
}

func (d *Dispatcher) finishOrigin(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[messageID]--
	if d.inflight[messageID] <= 0 {
		delete(d.inflight, messageID)
		delete(d.dead, messageID)
	}
}

func (d *Dispatcher) originGone(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, gone := d.dead[messageID]
	return gone
}

func (d *Dispatcher) report(ctx context.Context, req Request, text string) {
	if err := d.gateway.ReportError(ctx, req, text); err != nil {
		d.logger.Warn("error report failed",
			slog.String("url", req.URL),
			slog.Any("error", err))
	}
}

// resolveFailureText maps pipeline errors to the message shown to the user.
// Backend internals stay in the logs.
func resolveFailureText(err error) string {
	if errors.Is(err, media.ErrNoBackendMatched) {
		return "Couldn't fetch this URL: no downloader recognizes it."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The download timed out, please try again."
	}
	return "Couldn't fetch media from this URL."
}

func sizeFailureText(se *media.SizeError, ceiling int64) string {
	if se == nil {
		return "The media had no usable files."
	}
	limitMB := float64(ceiling) / 1_000_000
	if se.Reason == media.SizeStillTooLarge {
		return fmt.Sprintf("File is too large even after shrinking: %.1fMB -> %.1fMB (limit %.0fMB).",
			float64(se.OriginalBytes)/1_000_000,
			float64(se.ResizedBytes)/1_000_000,
			limitMB)
	}
	return fmt.Sprintf("File is too large (%.1fMB, limit %.0fMB) and this type can't be shrunk.",
		float64(se.OriginalBytes)/1_000_000,
		limitMB)
}
