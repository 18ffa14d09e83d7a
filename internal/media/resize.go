package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/grabbybot/grabby/internal/metrics"
)

// Clamp to 720p while keeping aspect ratio; never upscale.
const scaleClamp = `scale=iw*min(1\,min(1280/iw\,720/ih)):ih*min(1\,min(1280/iw\,720/ih))`

var videoExts = map[string]bool{"mp4": true, "webm": true, "mov": true, "mkv": true}
var imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true}

// Resizer shrinks oversized payloads with ffmpeg, entirely through
// stdin/stdout pipes.
type Resizer struct {
	logger  *slog.Logger
	timeout time.Duration
	run     func(ctx context.Context, data []byte, args []string) ([]byte, error)
}

func NewResizer(log *slog.Logger, timeout time.Duration) *Resizer {
	if log == nil {
		log = slog.Default()
	}
	return &Resizer{
		logger:  log.With(slog.String("service", "resizer")),
		timeout: timeout,
		run:     runFFmpegPipe,
	}
}

// EnforceLimit returns f unchanged when its size is within ceiling
// (inclusive). Oversized files get exactly one resize attempt; if the result
// is still over the ceiling, or the file type is not resizable, a SizeError
// is returned.
func (r *Resizer) EnforceLimit(ctx context.Context, f File, ceiling int64) (File, error) {
	if f.Size() <= ceiling {
		return f, nil
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
	var args []string
	switch {
	case videoExts[ext]:
		args = videoShrinkArgs()
	case imageExts[ext]:
		args = imageShrinkArgs(ext)
	default:
		metrics.ResizesTotal.WithLabelValues("unresizable").Inc()
		return File{}, &SizeError{
			Reason:        SizeUnresizable,
			Name:          f.Name,
			OriginalBytes: f.Size(),
		}
	}

	r.logger.Info("resizing oversized file",
		slog.String("name", f.Name),
		slog.Int64("bytes", f.Size()),
		slog.Int64("ceiling", ceiling))

	out, err := r.runFFmpeg(ctx, f.Data, args)
	if err != nil {
		metrics.ResizesTotal.WithLabelValues("error").Inc()
		return File{}, fmt.Errorf("resize %s: %w", f.Name, err)
	}
	if int64(len(out)) > ceiling {
		metrics.ResizesTotal.WithLabelValues("still_too_large").Inc()
		return File{}, &SizeError{
			Reason:        SizeStillTooLarge,
			Name:          f.Name,
			OriginalBytes: f.Size(),
			ResizedBytes:  int64(len(out)),
		}
	}

	name := f.Name
	if videoExts[ext] && ext != "mp4" {
		// Video shrink always re-encodes to mp4.
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".mp4"
	}
	metrics.ResizesTotal.WithLabelValues("success").Inc()
	r.logger.Info("resized file",
		slog.String("name", name),
		slog.Int64("from", f.Size()),
		slog.Int("to", len(out)))
	return File{Name: name, Data: out}, nil
}

func videoShrinkArgs() []string {
	return []string{
		"-vf", scaleClamp,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "28",
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov",
		"pipe:1",
	}
}

func imageShrinkArgs(ext string) []string {
	switch ext {
	case "png":
		return []string{"-vf", scaleClamp, "-f", "image2pipe", "-vcodec", "png", "pipe:1"}
	case "webp":
		return []string{"-vf", scaleClamp, "-f", "webp", "-quality", "85", "pipe:1"}
	default:
		return []string{"-vf", scaleClamp, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "4", "pipe:1"}
	}
}

// runFFmpeg pipes data through ffmpeg with the given output args. The
// context deadline kills and reaps the process.
func (r *Resizer) runFFmpeg(ctx context.Context, data []byte, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.run(ctx, data, args)
}

func runFFmpegPipe(ctx context.Context, data []byte, args []string) ([]byte, error) {
	full := append([]string{"-loglevel", "error", "-i", "pipe:0"}, args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", full...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg: %s: %w", firstLine(stderr.String()), err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}

// FFmpegAvailable probes whether ffmpeg is installed.
func FFmpegAvailable(ctx context.Context, log *slog.Logger) bool {
	out, err := exec.CommandContext(ctx, "ffmpeg", "-version").Output()
	if err != nil {
		log.Warn("ffmpeg not available, resize and remux disabled", slog.Any("error", err))
		return false
	}
	log.Info("ffmpeg available", slog.String("version", firstLine(string(out))))
	return true
}
