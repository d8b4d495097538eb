// Package muxer wraps ffmpeg for the final container step of media
// downloads. Streams are copied, never re-encoded.
package muxer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// keep this many trailing stderr lines for error reporting
const stderrTailLines = 40

// OnProgress receives muxing completion in percent, 0..100.
type OnProgress func(percent float64)

type Muxer struct {
	binPath string
}

func New(binPath string) *Muxer {
	return &Muxer{binPath: binPath}
}

// Mux combines videoPath and audioPath into out. An empty videoPath
// remuxes the audio alone, which is how audio-only tasks get their
// final container.
func (m *Muxer) Mux(ctx context.Context, videoPath, audioPath, out string, onProgress OnProgress) error {
	args := []string{"-y"}
	if videoPath != "" {
		args = append(args, "-i", videoPath)
	}
	args = append(args, "-i", audioPath, "-c", "copy", out)

	cmd := exec.CommandContext(ctx, m.binPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil {
			return cmd.Process.Kill()
		}
		return syscall.Kill(-pgid, syscall.SIGTERM)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return task.NewError(task.ErrWorkerCrashed, err)
	}

	if err := cmd.Start(); err != nil {
		return task.NewError(task.ErrMediaProcessing, fmt.Errorf("starting ffmpeg: %w", err))
	}

	slog.Info("muxing streams", slog.String("out", out))

	tail := consumeStderr(stderr, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return task.NewError(task.ErrCancelled, context.Canceled)
		}
		return task.NewError(task.ErrMediaProcessing,
			fmt.Errorf("ffmpeg failed: %w: %s", err, strings.Join(tail, " | ")))
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// consumeStderr scans ffmpeg's stderr for the Duration header and the
// time= progress updates. ffmpeg terminates progress lines with \r, so
// the split treats both \r and \n as line breaks.
func consumeStderr(r io.Reader, onProgress OnProgress) []string {
	var (
		tail     []string
		duration float64
	)

	scanner := bufio.NewScanner(r)
	scanner.Split(scanCRLines)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}

		if duration == 0 {
			if d, ok := extractClock(line, "Duration:"); ok {
				duration = d
			}
		}
		if pos, ok := extractClock(line, "time="); ok && duration > 0 && onProgress != nil {
			onProgress(min(pos/duration*100, 100))
		}
	}

	return tail
}

func scanCRLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// extractClock pulls a HH:MM:SS.cc clock that follows marker in line
// and returns it in seconds.
func extractClock(line, marker string) (float64, bool) {
	_, rest, found := strings.Cut(line, marker)
	if !found {
		return 0, false
	}

	clock := strings.TrimSpace(rest)
	if i := strings.IndexAny(clock, ", "); i >= 0 {
		clock = clock[:i]
	}

	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, false
	}

	var secs float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, false
		}
		secs = secs*60 + v
	}
	return secs, true
}
