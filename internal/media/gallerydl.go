package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

const galleryDLName = "gallery-dl"

// GalleryDL wraps the gallery-dl extractor. It dumps metadata and direct
// media URLs as JSON, then fetches each URL over HTTP into memory.
type GalleryDL struct {
	logger          *slog.Logger
	client          *http.Client
	metadataTimeout time.Duration
	downloadTimeout time.Duration
}

func NewGalleryDL(log *slog.Logger, metadataTimeout, downloadTimeout time.Duration) *GalleryDL {
	if log == nil {
		log = slog.Default()
	}
	return &GalleryDL{
		logger:          log.With(slog.String("backend", galleryDLName)),
		client:          &http.Client{Timeout: downloadTimeout},
		metadataTimeout: metadataTimeout,
		downloadTimeout: downloadTimeout,
	}
}

func (g *GalleryDL) Name() string {
	return galleryDLName
}

func (g *GalleryDL) Available(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "gallery-dl", "--version").Output()
	if err != nil {
		g.logger.Warn("gallery-dl not available", slog.Any("error", err))
		return false
	}
	g.logger.Info("gallery-dl available", slog.String("version", strings.TrimSpace(string(out))))
	return true
}

func (g *GalleryDL) Download(ctx context.Context, rawURL string) (*Media, error) {
	meta, mediaURLs, err := g.dump(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("fetching media files",
		slog.String("id", meta.ID),
		slog.Int("count", len(mediaURLs)))

	files := make([]File, 0, len(mediaURLs))
	for i, mediaURL := range mediaURLs {
		file, err := g.fetch(ctx, mediaURL, i, meta)
		if err != nil {
			g.logger.Warn("media fetch failed",
				slog.String("url", mediaURL),
				slog.Any("error", err))
			continue
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, errors.New("failed to download any media files")
	}

	return &Media{SourceURL: rawURL, Files: files, Meta: meta}, nil
}

// dump runs gallery-dl --dump-json and parses the result.
func (g *GalleryDL) dump(ctx context.Context, rawURL string) (Metadata, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.metadataTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "gallery-dl", "--dump-json", rawURL)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, nil, fmt.Errorf("gallery-dl timed out: %w", ctx.Err())
		}
		msg := firstLine(stderr.String())
		if galleryDLUnsupported(msg) {
			return Metadata{}, nil, ErrUnsupportedURL
		}
		return Metadata{}, nil, fmt.Errorf("gallery-dl: %s: %w", msg, err)
	}

	return parseGalleryDump(stdout.Bytes())
}

// parseGalleryDump decodes the gallery-dl JSON dump: an array of
// [code, url, metadata] triples, one per media file.
func parseGalleryDump(raw []byte) (Metadata, []string, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Metadata{}, nil, fmt.Errorf("parse gallery-dl output: %w", err)
	}
	if len(entries) == 0 {
		return Metadata{}, nil, errors.New("no media found for this url")
	}

	var meta *Metadata
	var urls []string
	for _, entry := range entries {
		var triple []json.RawMessage
		if err := json.Unmarshal(entry, &triple); err != nil || len(triple) != 3 {
			continue
		}

		var mediaURL string
		if err := json.Unmarshal(triple[1], &mediaURL); err != nil || mediaURL == "" {
			continue
		}
		urls = append(urls, mediaURL)

		if meta != nil {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(triple[2], &fields); err != nil {
			continue
		}
		m := galleryMetadata(fields)
		meta = &m
	}

	if meta == nil {
		return Metadata{}, nil, errors.New("no media metadata found")
	}
	if len(urls) == 0 {
		return Metadata{}, nil, errors.New("no media urls found")
	}
	return *meta, urls, nil
}

func galleryMetadata(fields map[string]any) Metadata {
	return Metadata{
		ID:     fieldString(fields, "tweet_id", "id", "filename", "unknown"),
		Title:  fieldString(fields, "title", "content", "filename", UnknownMedia),
		Author: galleryAuthor(fields),
		Likes:  fieldInt64(fields, "ups", "score", "favorite_count"),
		Ext:    fieldString(fields, "extension", "jpg"),
	}
}

// galleryAuthor handles both the nested author object (twitter-style) and
// flat author/uploader strings.
func galleryAuthor(fields map[string]any) string {
	if author, ok := fields["author"].(map[string]any); ok {
		if nick, ok := author["nick"].(string); ok && nick != "" {
			return nick
		}
		if name, ok := author["name"].(string); ok {
			return name
		}
		return ""
	}
	if author, ok := fields["author"].(string); ok {
		return author
	}
	if uploader, ok := fields["uploader"].(string); ok {
		return uploader
	}
	return ""
}

// fetch downloads one media URL into memory.
func (g *GalleryDL) fetch(ctx context.Context, mediaURL string, index int, meta Metadata) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, g.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return File{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return File{}, fmt.Errorf("fetch media: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return File{}, fmt.Errorf("read media body: %w", err)
	}

	name := fmt.Sprintf("%s.%s", meta.ID, meta.Ext)
	if index > 0 {
		name = fmt.Sprintf("%s_%d.%s", meta.ID, index+1, meta.Ext)
	}
	return File{Name: name, Data: data}, nil
}

func galleryDLUnsupported(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "unsupported url") ||
		strings.Contains(lower, "no suitable extractor")
}

// fieldString returns the first present string value among keys; the last
// argument is the fallback.
func fieldString(fields map[string]any, keysAndFallback ...string) string {
	keys := keysAndFallback[:len(keysAndFallback)-1]
	fallback := keysAndFallback[len(keysAndFallback)-1]
	for _, key := range keys {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

// fieldInt64 returns the first present numeric value among keys, or nil.
func fieldInt64(fields map[string]any, keys ...string) *int64 {
	for _, key := range keys {
		if v, ok := fields[key].(float64); ok {
			n := int64(v)
			return &n
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
