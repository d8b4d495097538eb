package downloader

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/justdownloadit/justdownloadit/server/internal/fetch"
	"github.com/justdownloadit/justdownloadit/server/internal/fsutil"
	"github.com/justdownloadit/justdownloadit/server/internal/muxer"
	"github.com/justdownloadit/justdownloadit/server/internal/resolver"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// runVideo resolves the source, fetches the selected video and audio
// streams in parallel and muxes them into one mp4.
func (w *Worker) runVideo(ctx context.Context, t task.Task, ws string, report func(task.Progress)) (string, int64, error) {
	report(task.Progress{Stage: task.StageResolving})

	info, err := w.resolver.Resolve(ctx, t.URL)
	if err != nil {
		return "", 0, err
	}

	video, err := resolver.SelectVideo(info.Streams, t.Quality)
	if err != nil {
		return "", 0, err
	}
	// the audio half of a video task always takes the best tier
	audio, err := resolver.SelectAudio(info.Streams, task.DefaultAudioTier)
	if err != nil {
		return "", 0, err
	}

	slog.Info("streams selected",
		slog.String("id", t.Id),
		slog.String("video", video.Id),
		slog.String("audio", audio.Id),
		slog.Int("height", video.Height),
	)

	videoPath := filepath.Join(ws, "video."+extOr(video.Container, "mp4"))
	audioPath := filepath.Join(ws, "audio."+extOr(audio.Container, "m4a"))

	var total int64
	if video.Filesize > 0 && audio.Filesize > 0 {
		total = video.Filesize + audio.Filesize
	}

	var videoDone, audioDone atomic.Int64
	combined := func(own *atomic.Int64) fetch.OnProgress {
		return func(written, _ int64, speed float64) {
			own.Store(written)
			report(task.Progress{
				Stage:      task.StageDownloading,
				BytesDone:  videoDone.Load() + audioDone.Load(),
				BytesTotal: total,
				Speed:      speed,
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := w.fetchWithRetry(gctx, video.URL, videoPath, video.Filesize, w.cfg.MediaRetries, combined(&videoDone))
		return err
	})
	g.Go(func() error {
		_, err := w.fetchWithRetry(gctx, audio.URL, audioPath, audio.Filesize, w.cfg.MediaRetries, combined(&audioDone))
		return err
	})

	bytes := func() int64 { return videoDone.Load() + audioDone.Load() }

	if err := g.Wait(); err != nil {
		return "", bytes(), err
	}

	out := filepath.Join(ws, "muxed.mp4")
	if err := w.muxer.Mux(ctx, videoPath, audioPath, out, muxProgress(report, bytes(), total)); err != nil {
		return "", bytes(), err
	}

	report(task.Progress{Stage: task.StageFinalizing, BytesDone: bytes(), BytesTotal: total})

	dest, err := w.finalize(out, w.destinationDir(t), mediaFilename(t, info)+".mp4")
	if err != nil {
		return "", bytes(), err
	}
	return dest, bytes(), nil
}

// runAudio fetches a single audio stream and remuxes it into m4a.
func (w *Worker) runAudio(ctx context.Context, t task.Task, ws string, report func(task.Progress)) (string, int64, error) {
	report(task.Progress{Stage: task.StageResolving})

	info, err := w.resolver.Resolve(ctx, t.URL)
	if err != nil {
		return "", 0, err
	}

	audio, err := resolver.SelectAudio(info.Streams, t.Quality)
	if err != nil {
		return "", 0, err
	}

	audioPath := filepath.Join(ws, "audio."+extOr(audio.Container, "m4a"))
	written, err := w.fetchWithRetry(ctx, audio.URL, audioPath, audio.Filesize, w.cfg.MediaRetries,
		stageProgress(report, task.StageDownloading))
	if err != nil {
		return "", written, err
	}

	out := filepath.Join(ws, "final.m4a")
	if err := w.muxer.Mux(ctx, "", audioPath, out, muxProgress(report, written, audio.Filesize)); err != nil {
		return "", written, err
	}

	report(task.Progress{Stage: task.StageFinalizing, BytesDone: written, BytesTotal: audio.Filesize})

	dest, err := w.finalize(out, w.destinationDir(t), mediaFilename(t, info)+".m4a")
	if err != nil {
		return "", written, err
	}
	return dest, written, nil
}

// mediaFilename prefers an explicit request name, then the resolved
// title, then the URL.
func mediaFilename(t task.Task, info *resolver.Info) string {
	if t.Filename != "" {
		return fsutil.SanitizeFilename(t.Filename)
	}
	if info.Title != "" {
		return fsutil.SanitizeFilename(info.Title)
	}
	return fsutil.FilenameFromURL(t.URL)
}

func extOr(ext, fallback string) string {
	if ext == "" {
		return fallback
	}
	return ext
}

func muxProgress(report func(task.Progress), bytes, total int64) muxer.OnProgress {
	return func(pct float64) {
		report(task.Progress{
			Stage:      task.StageMuxing,
			BytesDone:  bytes,
			BytesTotal: total,
			Percent:    pct,
		})
	}
}
