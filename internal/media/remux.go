package media

import "context"

// RemuxTSToMP4 remuxes an MPEG-TS payload to fragmented MP4 without
// re-encoding. Used for HLS downloads whose raw output Discord cannot play
// inline.
func RemuxTSToMP4(ctx context.Context, data []byte) ([]byte, error) {
	return runFFmpegPipe(ctx, data, []string{
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov",
		"pipe:1",
	})
}
