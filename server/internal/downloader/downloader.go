// Package downloader implements the worker side of a download: one
// strategy per task kind, executed in isolation with its own retry
// policy and scratch workspace.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/justdownloadit/justdownloadit/server/internal/fetch"
	"github.com/justdownloadit/justdownloadit/server/internal/fsutil"
	"github.com/justdownloadit/justdownloadit/server/internal/muxer"
	"github.com/justdownloadit/justdownloadit/server/internal/resolver"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// MediaResolver probes a media URL for its downloadable streams.
type MediaResolver interface {
	Resolve(ctx context.Context, url string) (*resolver.Info, error)
}

// StreamMuxer combines fetched streams into the final container.
type StreamMuxer interface {
	Mux(ctx context.Context, videoPath, audioPath, out string, onProgress muxer.OnProgress) error
}

// Config carries the per-worker knobs. Retries apply to transient
// network failures only, within the per-kind budget.
type Config struct {
	DownloadDir   string
	TempDir       string
	DirectRetries int
	MediaRetries  int
	RetryCooldown time.Duration
	RetryExponent float64
}

// Worker runs tasks to completion. It satisfies the pool's Runner
// contract: one call, one terminal result, no panics escaping.
type Worker struct {
	cfg      Config
	fetcher  *fetch.Fetcher
	resolver MediaResolver
	muxer    StreamMuxer
}

func New(cfg Config, f *fetch.Fetcher, r MediaResolver, m StreamMuxer) *Worker {
	if cfg.RetryExponent <= 1 {
		cfg.RetryExponent = 2
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = time.Second
	}
	return &Worker{cfg: cfg, fetcher: f, resolver: r, muxer: m}
}

// Run executes t start to finish inside a private workspace. Every
// error comes back folded into the result record.
func (w *Worker) Run(ctx context.Context, t task.Task, report func(task.Progress)) task.Result {
	started := time.Now()

	ws, err := fsutil.MakeWorkspace(w.cfg.TempDir, t.Id)
	if err != nil {
		return task.Failed(t, task.NewError(task.ErrFilesystem, err), 0, started)
	}
	defer os.RemoveAll(ws)

	var (
		path  string
		bytes int64
	)
	switch t.Kind {
	case task.KindDirectFile:
		path, bytes, err = w.runDirect(ctx, t, ws, report)
	case task.KindMediaVideo:
		path, bytes, err = w.runVideo(ctx, t, ws, report)
	case task.KindMediaAudioOnly:
		path, bytes, err = w.runAudio(ctx, t, ws, report)
	default:
		err = task.NewError(task.ErrInvalidInput, fmt.Errorf("no strategy for kind %q", t.Kind))
	}

	if err != nil {
		slog.Warn("download failed",
			slog.String("id", t.Id),
			slog.String("classification", string(task.ClassificationOf(err))),
			slog.Any("err", err),
		)
		return task.Failed(t, err, bytes, started)
	}
	return task.Completed(t, path, bytes, started)
}

// destinationDir resolves where the final file belongs.
func (w *Worker) destinationDir(t task.Task) string {
	if t.Destination != "" {
		return t.Destination
	}
	return w.cfg.DownloadDir
}

// finalize moves a finished file from the workspace into the
// destination, never overwriting an existing file. The claimed
// destination is released again when the move fails.
func (w *Worker) finalize(tmpPath, destDir, filename string) (string, error) {
	dest, err := fsutil.UniquePath(filepath.Join(destDir, filename))
	if err != nil {
		return "", task.NewError(task.ErrFilesystem, err)
	}
	if err := fsutil.MoveFile(tmpPath, dest); err != nil {
		os.Remove(dest)
		return "", task.NewError(task.ErrFilesystem, err)
	}
	return dest, nil
}

// fetchWithRetry re-runs transient fetch failures with an exponential
// cooldown until the budget runs out. The caller never sees the
// intermediate failures, only continued progress.
func (w *Worker) fetchWithRetry(ctx context.Context, url, dest string, total int64, budget int, onProgress fetch.OnProgress) (int64, error) {
	for tries := 0; ; tries++ {
		written, err := w.fetcher.Fetch(ctx, url, dest, total, onProgress)
		if err == nil || tries >= budget || !fetch.IsTransient(err) {
			return written, err
		}

		slog.Warn("transient fetch failure, retrying",
			slog.String("url", url),
			slog.Int("try", tries+1),
			slog.Int("budget", budget),
			slog.Any("err", err),
		)
		w.waitForRetry(ctx, tries)
		if ctx.Err() != nil {
			return written, task.NewError(task.ErrCancelled, ctx.Err())
		}
	}
}

func (w *Worker) waitForRetry(ctx context.Context, tries int) {
	cooldown := float64(w.cfg.RetryCooldown) * math.Pow(w.cfg.RetryExponent, float64(tries))
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(cooldown)):
	}
}

// stageProgress adapts the raw fetch callback into a task progress
// snapshot for one stage.
func stageProgress(report func(task.Progress), stage task.Stage) fetch.OnProgress {
	return func(written, total int64, speed float64) {
		report(task.Progress{
			Stage:      stage,
			BytesDone:  written,
			BytesTotal: total,
			Speed:      speed,
		})
	}
}
