// Package voice adds speech to the chat loop: recordings are converted
// to MP3 with ffmpeg, transcribed by a Whisper-compatible service, and
// answered through the same loop as text chat. Replies can be spoken
// back with a text-to-speech service.
package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// Transcoder converts an uploaded recording to MP3.
type Transcoder interface {
	ToMP3(ctx context.Context, audio io.Reader) ([]byte, error)
}

// FFmpeg converts audio by running the ffmpeg binary. Input and output
// live in temporary files under Dir that are removed afterwards.
type FFmpeg struct {
	Path string // binary, default "ffmpeg"
	Dir  string // scratch directory, default os.TempDir()
}

// ToMP3 runs `ffmpeg -i <in> -acodec libmp3lame -y <out>.mp3`.
func (f *FFmpeg) ToMP3(ctx context.Context, audio io.Reader) ([]byte, error) {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	dir := f.Dir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}

	in, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	inPath := in.Name()
	outPath := inPath + ".mp3"
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if _, err := io.Copy(in, audio); err != nil {
		in.Close()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, "-i", inPath, "-acodec", "libmp3lame", "-y", outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return nil, fmt.Errorf("ffmpeg %s: %w: %s", filepath.Base(inPath), err, msg)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read converted audio: %w", err)
	}
	return data, nil
}
