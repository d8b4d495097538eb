package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justdownloadit/justdownloadit/server/internal/fetch"
	"github.com/justdownloadit/justdownloadit/server/internal/muxer"
	"github.com/justdownloadit/justdownloadit/server/internal/resolver"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

type fakeResolver struct {
	info *resolver.Info
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, url string) (*resolver.Info, error) {
	return f.info, f.err
}

// fakeMuxer concatenates its inputs, close enough to a container mux
// for asserting the pipeline.
type fakeMuxer struct {
	calls atomic.Int32
}

func (f *fakeMuxer) Mux(ctx context.Context, videoPath, audioPath, out string, onProgress muxer.OnProgress) error {
	f.calls.Add(1)

	var data []byte
	if videoPath != "" {
		b, err := os.ReadFile(videoPath)
		if err != nil {
			return err
		}
		data = append(data, b...)
	}
	b, err := os.ReadFile(audioPath)
	if err != nil {
		return err
	}
	data = append(data, b...)

	if onProgress != nil {
		onProgress(100)
	}
	return os.WriteFile(out, data, 0644)
}

type progressLog struct {
	mu      sync.Mutex
	reports []task.Progress
}

func (l *progressLog) report(p task.Progress) {
	l.mu.Lock()
	l.reports = append(l.reports, p)
	l.mu.Unlock()
}

func (l *progressLog) stages() []task.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []task.Stage
	for _, p := range l.reports {
		if len(out) == 0 || out[len(out)-1] != p.Stage {
			out = append(out, p.Stage)
		}
	}
	return out
}

func hasStage(stages []task.Stage, s task.Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}

func newWorker(t *testing.T, srv *httptest.Server, r MediaResolver, m StreamMuxer, cfg Config) *Worker {
	t.Helper()
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = t.TempDir()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	if cfg.RetryCooldown == 0 {
		cfg.RetryCooldown = time.Millisecond
	}
	var client *http.Client
	if srv != nil {
		client = srv.Client()
	}
	return New(cfg, fetch.New(client, "test-agent"), r, m)
}

func directTask(t *testing.T, url string) task.Task {
	t.Helper()
	tk, err := task.New(task.Request{URL: url, Kind: task.KindDirectFile})
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestDirectDownload(t *testing.T) {
	payload := strings.Repeat("d", 32<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "backup.tar", time.Now(), strings.NewReader(payload))
	}))
	defer srv.Close()

	w := newWorker(t, srv, nil, nil, Config{})
	log := &progressLog{}

	res := w.Run(context.Background(), directTask(t, srv.URL+"/files/backup.tar"), log.report)

	if res.Outcome != task.OutcomeCompleted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}
	if res.Bytes != int64(len(payload)) {
		t.Fatalf("bytes = %d, want %d", res.Bytes, len(payload))
	}
	if filepath.Base(res.FilePath) != "backup.tar" {
		t.Fatalf("unexpected filename %s", res.FilePath)
	}

	data, err := os.ReadFile(res.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != payload {
		t.Fatal("payload mangled")
	}

	stages := log.stages()
	if !hasStage(stages, task.StageResolving) || !hasStage(stages, task.StageDownloading) || !hasStage(stages, task.StageFinalizing) {
		t.Fatalf("missing stages: %v", stages)
	}
}

func TestDirectRetriesTransientFailures(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		if gets.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	w := newWorker(t, srv, nil, nil, Config{DirectRetries: 3})
	res := w.Run(context.Background(), directTask(t, srv.URL+"/f.bin"), func(task.Progress) {})

	if res.Outcome != task.OutcomeCompleted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}
	if got := gets.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, saw %d", got)
	}
}

func TestDirectRetryBudgetExhausted(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		gets.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := newWorker(t, srv, nil, nil, Config{DirectRetries: 1})
	res := w.Run(context.Background(), directTask(t, srv.URL+"/f.bin"), func(task.Progress) {})

	if res.Outcome != task.OutcomeFailed || res.ErrorKind != task.ErrNetwork {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := gets.Load(); got != 2 {
		t.Fatalf("expected initial try plus one retry, saw %d", got)
	}
}

func TestDirectPermanentFailureSkipsRetries(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	w := newWorker(t, srv, nil, nil, Config{DirectRetries: 5})
	res := w.Run(context.Background(), directTask(t, srv.URL+"/f.bin"), func(task.Progress) {})

	if res.Outcome != task.OutcomeFailed || res.ErrorKind != task.ErrNetwork {
		t.Fatalf("unexpected result %+v", res)
	}
	if gets.Load() != 0 {
		t.Fatal("the HEAD probe should have failed the task before any GET")
	}
}

func TestDirectCollisionGetsDisambiguated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("same name"))
	}))
	defer srv.Close()

	dest := t.TempDir()
	w := newWorker(t, srv, nil, nil, Config{DownloadDir: dest})

	first := w.Run(context.Background(), directTask(t, srv.URL+"/report.pdf"), func(task.Progress) {})
	second := w.Run(context.Background(), directTask(t, srv.URL+"/report.pdf"), func(task.Progress) {})

	if first.Outcome != task.OutcomeCompleted || second.Outcome != task.OutcomeCompleted {
		t.Fatalf("outcomes: %s / %s", first.Outcome, second.Outcome)
	}
	if filepath.Base(first.FilePath) != "report.pdf" {
		t.Fatalf("first = %s", first.FilePath)
	}
	if filepath.Base(second.FilePath) != "report (1).pdf" {
		t.Fatalf("second = %s, want report (1).pdf", second.FilePath)
	}
}

func TestDirectCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Length", "1048576")
		w.Write([]byte(strings.Repeat("x", 2048)))
		w.(http.Flusher).Flush()
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	w := newWorker(t, srv, nil, nil, Config{})
	res := w.Run(ctx, directTask(t, srv.URL+"/big.bin"), func(p task.Progress) {
		if p.Stage == task.StageDownloading {
			cancel()
		}
	})

	if res.Outcome != task.OutcomeCancelled || res.ErrorKind != task.ErrCancelled {
		t.Fatalf("unexpected result %+v", res)
	}
}

func mediaTask(t *testing.T, url, kind, quality string) task.Task {
	t.Helper()
	tk, err := task.New(task.Request{URL: url, Kind: task.Kind(kind), Quality: quality})
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func mediaServer(t *testing.T, video, audio string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video":
			w.Write([]byte(video))
		case "/audio":
			w.Write([]byte(audio))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mediaInfo(srv *httptest.Server, videoBytes, audioBytes int) *resolver.Info {
	return &resolver.Info{
		Title: "My: Great/Video",
		Streams: []resolver.Stream{
			{Id: "v720", URL: srv.URL + "/video", Container: "mp4", Height: 720, HasVideo: true, Filesize: int64(videoBytes)},
			{Id: "a128", URL: srv.URL + "/audio", Container: "m4a", Abr: 128, HasAudio: true, Filesize: int64(audioBytes)},
		},
	}
}

func TestVideoDownload(t *testing.T) {
	video := strings.Repeat("v", 8<<10)
	audio := strings.Repeat("a", 4<<10)
	srv := mediaServer(t, video, audio)

	mux := &fakeMuxer{}
	dest := t.TempDir()
	w := newWorker(t, srv, &fakeResolver{info: mediaInfo(srv, len(video), len(audio))}, mux, Config{DownloadDir: dest})

	log := &progressLog{}
	res := w.Run(context.Background(), mediaTask(t, "https://yt/watch?v=x", "media-video", "1080p"), log.report)

	if res.Outcome != task.OutcomeCompleted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}
	if res.Bytes != int64(len(video)+len(audio)) {
		t.Fatalf("bytes = %d, want %d", res.Bytes, len(video)+len(audio))
	}
	if got := filepath.Base(res.FilePath); got != "My_ Great_Video.mp4" {
		t.Fatalf("filename = %q", got)
	}
	if mux.calls.Load() != 1 {
		t.Fatalf("muxer called %d times", mux.calls.Load())
	}

	data, err := os.ReadFile(res.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != len(video)+len(audio) {
		t.Fatalf("muxed size = %d", len(data))
	}

	stages := log.stages()
	for _, want := range []task.Stage{task.StageResolving, task.StageDownloading, task.StageMuxing, task.StageFinalizing} {
		if !hasStage(stages, want) {
			t.Fatalf("stage %s missing in %v", want, stages)
		}
	}
}

func TestAudioOnlyDownload(t *testing.T) {
	audio := strings.Repeat("a", 4<<10)
	srv := mediaServer(t, "", audio)

	mux := &fakeMuxer{}
	w := newWorker(t, srv, &fakeResolver{info: mediaInfo(srv, 0, len(audio))}, mux, Config{})

	res := w.Run(context.Background(), mediaTask(t, "https://yt/watch?v=x", "media-audio-only", "medium"), func(task.Progress) {})

	if res.Outcome != task.OutcomeCompleted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}
	if got := filepath.Base(res.FilePath); got != "My_ Great_Video.m4a" {
		t.Fatalf("filename = %q", got)
	}
	if mux.calls.Load() != 1 {
		t.Fatal("audio remux skipped")
	}
}

func TestUnresolvableSource(t *testing.T) {
	w := newWorker(t, nil, &fakeResolver{
		err: task.NewError(task.ErrUnresolvableSource, context.DeadlineExceeded),
	}, &fakeMuxer{}, Config{})

	res := w.Run(context.Background(), mediaTask(t, "https://yt/watch?v=x", "media-video", "720p"), func(task.Progress) {})
	if res.Outcome != task.OutcomeFailed || res.ErrorKind != task.ErrUnresolvableSource {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestQualityBelowAnyStreamFails(t *testing.T) {
	srv := mediaServer(t, "v", "a")
	w := newWorker(t, srv, &fakeResolver{info: mediaInfo(srv, 1, 1)}, &fakeMuxer{}, Config{})

	res := w.Run(context.Background(), mediaTask(t, "https://yt/watch?v=x", "media-video", "144p"), func(task.Progress) {})
	if res.Outcome != task.OutcomeFailed || res.ErrorKind != task.ErrUnresolvableSource {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestWorkspaceCleanedUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	tempRoot := t.TempDir()
	w := newWorker(t, srv, nil, nil, Config{TempDir: tempRoot})

	res := w.Run(context.Background(), directTask(t, srv.URL+"/x.bin"), func(task.Progress) {})
	if res.Outcome != task.OutcomeCompleted {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	left, err := os.ReadDir(tempRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("workspace leaked: %v", left)
	}
}
