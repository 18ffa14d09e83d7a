package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const ytDLPName = "yt-dlp"

// Prefer H.264 so the result plays inline on every Discord client, falling
// back to whatever format is available.
const ytDLPFormat = "bestvideo[vcodec=h264]+bestaudio/best[vcodec=h264]/" +
	"bestvideo[vcodec=avc1]+bestaudio/best[vcodec=avc1]/best"

// YtDLP wraps the yt-dlp extractor. Metadata is dumped as JSON first, then
// the media bytes are streamed to stdout.
type YtDLP struct {
	logger          *slog.Logger
	metadataTimeout time.Duration
	downloadTimeout time.Duration
}

func NewYtDLP(log *slog.Logger, metadataTimeout, downloadTimeout time.Duration) *YtDLP {
	if log == nil {
		log = slog.Default()
	}
	return &YtDLP{
		logger:          log.With(slog.String("backend", ytDLPName)),
		metadataTimeout: metadataTimeout,
		downloadTimeout: downloadTimeout,
	}
}

func (y *YtDLP) Name() string {
	return ytDLPName
}

func (y *YtDLP) Available(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "yt-dlp", "--version").Output()
	if err != nil {
		y.logger.Warn("yt-dlp not available", slog.Any("error", err))
		return false
	}
	y.logger.Info("yt-dlp available", slog.String("version", strings.TrimSpace(string(out))))
	return true
}

func (y *YtDLP) Download(ctx context.Context, rawURL string) (*Media, error) {
	meta, err := y.dumpMetadata(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	data, err := y.downloadToMemory(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	// HLS extractors can emit raw MPEG-TS; remux so the attachment plays
	// inline.
	if looksLikeMPEGTS(data) {
		y.logger.Debug("remuxing ts payload", slog.String("id", meta.ID))
		remuxed, err := RemuxTSToMP4(ctx, data)
		if err != nil {
			y.logger.Warn("remux failed, keeping ts payload", slog.Any("error", err))
		} else {
			data = remuxed
			meta.Ext = "mp4"
		}
	}

	file := File{
		Name: fmt.Sprintf("%s.%s", meta.ID, meta.Ext),
		Data: data,
	}
	return &Media{SourceURL: rawURL, Files: []File{file}, Meta: meta}, nil
}

func (y *YtDLP) dumpMetadata(ctx context.Context, rawURL string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, y.metadataTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--dump-json",
		"--no-download",
		"--no-warnings",
		rawURL)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, fmt.Errorf("yt-dlp metadata timed out: %w", ctx.Err())
		}
		msg := firstLine(stderr.String())
		if ytDLPUnsupported(msg) {
			return Metadata{}, ErrUnsupportedURL
		}
		return Metadata{}, fmt.Errorf("yt-dlp metadata: %s: %w", msg, err)
	}

	return parseYtDLPMetadata(stdout.Bytes())
}

func parseYtDLPMetadata(raw []byte) (Metadata, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Metadata{}, fmt.Errorf("parse yt-dlp output: %w", err)
	}

	meta := Metadata{
		ID:        fieldString(fields, "id", "video"),
		Title:     fieldString(fields, "title", UnknownTitle),
		Author:    fieldString(fields, "uploader", ""),
		Likes:     fieldInt64(fields, "like_count"),
		Thumbnail: fieldString(fields, "thumbnail", ""),
		Ext:       fieldString(fields, "ext", "mp4"),
	}
	if d, ok := fields["duration"].(float64); ok {
		meta.DurationSeconds = int64(d)
	}
	return meta, nil
}

func (y *YtDLP) downloadToMemory(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, y.downloadTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--output", "-",
		"--format", ytDLPFormat,
		"--merge-output-format", "mp4",
		"--no-warnings",
		rawURL)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("yt-dlp download timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("yt-dlp download: %s: %w", firstLine(stderr.String()), err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("yt-dlp produced no output")
	}
	return stdout.Bytes(), nil
}

func ytDLPUnsupported(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "unsupported url") ||
		strings.Contains(lower, "is not a valid url") ||
		strings.Contains(lower, "no video formats found")
}

// looksLikeMPEGTS sniffs for 188-byte MPEG-TS packets by their sync byte.
func looksLikeMPEGTS(data []byte) bool {
	const packetSize = 188
	if len(data) < 2*packetSize {
		return false
	}
	return data[0] == 0x47 && data[packetSize] == 0x47
}
