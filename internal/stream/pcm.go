package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// PCMStreamer runs ffmpeg decoding any input into raw s16le 48 kHz stereo
// on stdout.
type PCMStreamer struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
}

// StartPCMStream decodes input (file path or URL) from seek onward with the
// given volume (0.0-1.0) applied.
func StartPCMStream(ctx context.Context, input string, seek time.Duration, volume float64) (*PCMStreamer, error) {
	ctx2, cancel := context.WithCancel(ctx)

	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(input, "http") {
		args = append(args,
			"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	if seek > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", seek.Seconds()))
	}
	args = append(args, "-i", input, "-vn", "-ac", "2", "-ar", "48000")
	if volume >= 0 && volume != 1.0 {
		args = append(args, "-af", fmt.Sprintf("volume=%.3f", volume))
	}
	args = append(args, "-f", "s16le", "pipe:1")

	cmd := exec.CommandContext(ctx2, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w (stderr: %s)", err, stderr.String())
	}

	return &PCMStreamer{cmd: cmd, stdout: stdout, stderr: stderr, cancel: cancel}, nil
}

func (s *PCMStreamer) Stdout() io.Reader { return s.stdout }

func (s *PCMStreamer) Close() {
	s.cancel()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}
