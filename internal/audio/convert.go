package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrConvert means the external codec could not normalize the upload.
var ErrConvert = errors.New("audio conversion failed")

// Converter normalizes an arbitrary recorded container into the canonical
// mono 16 kHz PCM WAV format.
type Converter interface {
	Normalize(ctx context.Context, src, dst string) error
}

// FFmpeg shells out to ffmpeg for normalization. Browser recordings
// arrive as webm/ogg/mp4 depending on the client; ffmpeg handles all of
// them without the service knowing which.
type FFmpeg struct {
	// Path to the ffmpeg binary; "ffmpeg" resolves via PATH.
	Path string
}

func (f FFmpeg) Normalize(ctx context.Context, src, dst string) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, "-y", "-i", src,
		"-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrConvert, err, lastLine(stderr.String()))
	}
	return nil
}

// lastLine keeps error logs readable; ffmpeg prints its banner and full
// stream analysis before the actual failure reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
