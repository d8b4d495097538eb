package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/justdownloadit/justdownloadit/server/internal/pool"
	"github.com/justdownloadit/justdownloadit/server/internal/queue"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

type runnerFunc func(ctx context.Context, t task.Task, report func(task.Progress)) task.Result

func (f runnerFunc) Run(ctx context.Context, t task.Task, report func(task.Progress)) task.Result {
	return f(ctx, t, report)
}

func newTestRouter(t *testing.T, runner pool.Runner) (*chi.Mux, *queue.Manager) {
	t.Helper()

	q := queue.New(pool.New(2, time.Minute, runner), nil, nil, queue.Options{})
	h := &Handler{service: NewService(q, nil)}

	r := chi.NewRouter()
	r.Post("/downloads", h.Exec)
	r.Delete("/downloads/{id}", h.Cancel)
	r.Get("/snapshot", h.Snapshot)
	r.Post("/results/consume", h.ConsumeResults)
	r.Get("/freespace", h.FreeSpace)
	return r, q
}

func sleepyRunner(d time.Duration) runnerFunc {
	return func(ctx context.Context, t task.Task, report func(task.Progress)) task.Result {
		started := time.Now()
		select {
		case <-time.After(d):
			return task.Completed(t, "/tmp/"+t.Id, 2048, started)
		case <-ctx.Done():
			return task.Failed(t, task.NewError(task.ErrCancelled, ctx.Err()), 0, started)
		}
	}
}

func TestExecReturnsCreatedWithId(t *testing.T) {
	router, _ := newTestRouter(t, sleepyRunner(time.Minute))

	body := `{"url":"https://example.com/file.bin","kind":"direct-file"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var res map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res["id"] == "" {
		t.Fatal("no id in response")
	}
}

func TestExecRejectsInvalidRequest(t *testing.T) {
	router, _ := newTestRouter(t, sleepyRunner(time.Minute))

	body := `{"url":"https://example.com/file.bin","kind":"torrent"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCancelIsAccepted(t *testing.T) {
	router, _ := newTestRouter(t, sleepyRunner(time.Minute))

	body := `{"url":"https://example.com/file.bin","kind":"direct-file"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body)))

	var res map[string]string
	json.NewDecoder(rec.Body).Decode(&res)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/downloads/"+res["id"], nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSnapshotCarriesHumanReadableSizes(t *testing.T) {
	router, _ := newTestRouter(t, sleepyRunner(time.Minute))

	for _, url := range []string{"https://a.test/1.bin", "https://a.test/2.bin", "https://a.test/3.bin"} {
		rec := httptest.NewRecorder()
		body := `{"url":"` + url + `","kind":"direct-file"}`
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body)))
		if rec.Code != http.StatusCreated {
			t.Fatalf("submit failed: %d", rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var snap snapshotDTO
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Active) != 2 {
		t.Fatalf("active = %d, want the pool cap of 2", len(snap.Active))
	}
	if snap.PendingCount != 1 {
		t.Fatalf("pending_count = %d", snap.PendingCount)
	}
	for _, a := range snap.Active {
		if a.HumanBytes == "" || a.HumanSpeed == "" {
			t.Fatalf("missing humanized fields: %+v", a)
		}
	}
}

func TestConsumeResultsDrains(t *testing.T) {
	router, q := newTestRouter(t, sleepyRunner(5*time.Millisecond))

	body := `{"url":"https://example.com/file.bin","kind":"direct-file"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body)))

	deadline := time.Now().Add(2 * time.Second)
	for {
		q.Tick()
		if len(q.Snapshot().Results) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("result never arrived")
		}
		time.Sleep(2 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/results/consume", nil))

	var results []resultDTO
	if err := json.NewDecoder(rec.Body).Decode(&results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Outcome != task.OutcomeCompleted || results[0].HumanBytes == "" {
		t.Fatalf("unexpected result %+v", results[0])
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/results/consume", nil))
	if err := json.NewDecoder(rec.Body).Decode(&results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatal("consume should drain the result buffer")
	}
}

func TestFreeSpace(t *testing.T) {
	router, _ := newTestRouter(t, sleepyRunner(time.Minute))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/freespace", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var res struct {
		FreeBytes uint64 `json:"free_bytes"`
		FreeHuman string `json:"free_human"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.FreeBytes == 0 || res.FreeHuman == "" {
		t.Fatalf("free space not reported: %+v", res)
	}
}
