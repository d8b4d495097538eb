// Package fetch streams HTTP payloads to disk with bounded-rate
// progress reporting. It is the transport used by every download
// strategy, media streams included.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// progress callbacks fire at most this often per stream
const reportInterval = 250 * time.Millisecond

// StatusError is a non-2xx answer from the remote.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// OnProgress receives cumulative bytes written, the expected total
// (0 when unknown) and the speed in bytes/s since the last report.
type OnProgress func(written, total int64, speed float64)

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func New(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// Probe checks reachability with a HEAD request and returns the
// advertised size, 0 when the source does not advertise one. Servers
// that reject HEAD outright are tolerated, the GET decides then.
func (f *Fetcher) Probe(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, task.NewError(task.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, task.NewError(task.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusNotImplemented:
		return 0, nil
	case resp.StatusCode >= 300:
		return 0, task.NewError(task.ErrNetwork, &StatusError{resp.StatusCode, resp.Status})
	}

	if resp.ContentLength > 0 {
		return resp.ContentLength, nil
	}
	return 0, nil
}

// Fetch streams url into dest. It returns the byte count written so
// the caller can account for partial transfers too.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, total int64, onProgress OnProgress) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, task.NewError(task.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, task.NewError(task.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, task.NewError(task.ErrNetwork, &StatusError{resp.StatusCode, resp.Status})
	}

	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	file, err := os.Create(dest)
	if err != nil {
		return 0, task.NewError(task.ErrFilesystem, err)
	}

	pw := &progressWriter{
		w:       file,
		total:   total,
		limiter: rate.NewLimiter(rate.Every(reportInterval), 1),
		report:  onProgress,
		lastAt:  time.Now(),
	}

	_, copyErr := io.Copy(pw, resp.Body)
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		// io.Copy hands back writer failures (disk full, io errors)
		// through the same value as read failures; the writer records
		// its own, those are local and never retried
		if pw.writeErr != nil {
			return pw.written, task.NewError(task.ErrFilesystem, copyErr)
		}
		// a dead context surfaces through the body read
		if ctx.Err() != nil {
			return pw.written, task.NewError(task.ErrCancelled, context.Canceled)
		}
		return pw.written, task.NewError(task.ErrNetwork, copyErr)
	case closeErr != nil:
		return pw.written, task.NewError(task.ErrFilesystem, closeErr)
	}

	pw.flush()
	return pw.written, nil
}

// IsTransient reports whether a fetch failure is worth retrying.
// Connection-level trouble and throttling or server errors are,
// everything else (bad requests, local disk, cancellation) is not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return task.IsClassification(err, task.ErrNetwork)
}

type progressWriter struct {
	w        io.Writer
	written  int64
	total    int64
	limiter  *rate.Limiter
	report   OnProgress
	writeErr error // first failure of the underlying writer

	lastAt    time.Time
	lastBytes int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written += int64(n)
	if err != nil && pw.writeErr == nil {
		pw.writeErr = err
	}
	if err == nil && pw.report != nil && pw.limiter.Allow() {
		pw.flush()
	}
	return n, err
}

func (pw *progressWriter) flush() {
	if pw.report == nil {
		return
	}
	now := time.Now()
	var speed float64
	if elapsed := now.Sub(pw.lastAt); elapsed > 0 {
		speed = float64(pw.written-pw.lastBytes) / elapsed.Seconds()
	}
	pw.report(pw.written, pw.total, speed)
	pw.lastAt = now
	pw.lastBytes = pw.written
}
