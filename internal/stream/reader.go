package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// Reader wraps an ffmpeg process decoding a network audio URL to raw s16le
// stereo 48k PCM. A pump goroutine reads one frame at a time from the process
// stdout into a FrameBuffer; the playback driver pulls frames out with Read.
type Reader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
	buf    *FrameBuffer

	// counter of the most recently read frame; elapsed time is counter * 20ms.
	counter atomic.Int64

	cleanupOnce sync.Once
}

// NewReader spawns the decoder process for inputURL and starts the pump.
// bufFrames is the frame buffer capacity.
func NewReader(ctx context.Context, inputURL string, bufFrames int) (*Reader, error) {
	ctx2, cancel := context.WithCancel(ctx)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
		"-i", inputURL,
		"-vn",
		"-ac", "2",
		"-ar", "48000",
		"-f", "s16le",
		"pipe:1",
	}

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

	r := &Reader{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
		buf:    NewFrameBuffer(bufFrames),
	}
	go r.pump()
	return r, nil
}

// pump reads frame-sized chunks from the decoder until it ends, then queues
// the end-of-stream sentinel. A short read means the process is done.
func (r *Reader) pump() {
	var counter int64
	frame := make([]byte, FrameSize)
	for {
		n, err := io.ReadFull(r.stdout, frame)
		counter++
		if err != nil || n != FrameSize {
			r.buf.Put(nil, counter)
			return
		}
		chunk := make([]byte, FrameSize)
		copy(chunk, frame)
		if !r.buf.Put(chunk, counter) {
			return
		}
	}
}

// Read returns the next decoded frame and records its counter as the current
// playback position. An empty slice signals end of stream.
func (r *Reader) Read() []byte {
	f := r.buf.Get()
	r.counter.Store(f.Counter)
	return f.Data
}

// Position is the counter of the last frame handed to the playback driver.
func (r *Reader) Position() int64 {
	return r.counter.Load()
}

// FastForward discards up to n buffered frames and returns the counter of the
// last discarded frame, which is the new playback position.
func (r *Reader) FastForward(n int) int64 {
	return r.buf.Discard(n)
}

// Cleanup stops the pump and terminates the decoder process.
func (r *Reader) Cleanup() {
	r.cleanupOnce.Do(func() {
		r.buf.Close()
		r.cancel()
		_ = r.stdout.Close()
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		if err := r.cmd.Wait(); err != nil && r.stderr.Len() > 0 {
			slog.Debug("decoder exit", "err", err, "stderr", r.stderr.String())
		}
	})
}
