package downloader

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/justdownloadit/justdownloadit/server/internal/fetch"
	"github.com/justdownloadit/justdownloadit/server/internal/fsutil"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// runDirect streams a plain file URL to disk: probe for size, fetch
// into the workspace, rename into the destination.
func (w *Worker) runDirect(ctx context.Context, t task.Task, ws string, report func(task.Progress)) (string, int64, error) {
	report(task.Progress{Stage: task.StageResolving})

	total, err := w.fetcher.Probe(ctx, t.URL)
	if err != nil {
		if !fetch.IsTransient(err) {
			return "", 0, err
		}
		// a flaky HEAD is no reason to fail, the GET retries handle it
		total = 0
	}

	filename := t.Filename
	if filename == "" {
		filename = fsutil.FilenameFromURL(t.URL)
	} else {
		filename = fsutil.SanitizeFilename(filename)
	}

	tmp := filepath.Join(ws, "payload.part")
	written, err := w.fetchWithRetry(ctx, t.URL, tmp, total, w.cfg.DirectRetries,
		stageProgress(report, task.StageDownloading))
	if err != nil {
		return "", written, err
	}

	report(task.Progress{Stage: task.StageFinalizing, BytesDone: written, BytesTotal: total})

	dest, err := w.finalize(tmp, w.destinationDir(t), filename)
	if err != nil {
		return "", written, err
	}

	slog.Info("direct download complete",
		slog.String("id", t.Id),
		slog.String("path", dest),
	)
	return dest, written, nil
}
