package rest

import (
	"encoding/json"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/justdownloadit/justdownloadit/server/internal/pool"
	"github.com/justdownloadit/justdownloadit/server/internal/queue"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

type Handler struct {
	service *Service
}

type downloadRequest struct {
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Quality string `json:"quality"`
	Path    string `json:"path"`
	Rename  string `json:"rename"`
}

func (r downloadRequest) toTaskRequest() task.Request {
	return task.Request{
		URL:      r.URL,
		Kind:     task.Kind(r.Kind),
		Quality:  r.Quality,
		Dir:      r.Path,
		Filename: r.Rename,
	}
}

type activeDTO struct {
	pool.ActiveSnapshot
	HumanBytes string `json:"human_bytes"`
	HumanSpeed string `json:"human_speed"`
}

type resultDTO struct {
	task.Result
	HumanBytes string `json:"human_bytes"`
}

type snapshotDTO struct {
	PendingCount int         `json:"pending_count"`
	Pending      []task.Task `json:"pending"`
	Active       []activeDTO `json:"active"`
	Results      []resultDTO `json:"results"`
}

func toSnapshotDTO(s queue.Snapshot) snapshotDTO {
	dto := snapshotDTO{
		PendingCount: s.PendingCount,
		Pending:      s.Pending,
		Active:       make([]activeDTO, len(s.Active)),
		Results:      make([]resultDTO, len(s.Results)),
	}
	for i, a := range s.Active {
		dto.Active[i] = activeDTO{
			ActiveSnapshot: a,
			HumanBytes:     humanize.Bytes(uint64(a.Progress.BytesDone)),
			HumanSpeed:     humanize.Bytes(uint64(a.Progress.Speed)) + "/s",
		}
	}
	for i, r := range s.Results {
		dto.Results[i] = resultDTO{
			Result:     r,
			HumanBytes: humanize.Bytes(uint64(r.Bytes)),
		}
	}
	return dto
}

func statusFromError(err error) int {
	switch {
	case task.IsClassification(err, task.ErrInvalidInput):
		return http.StatusBadRequest
	case task.IsClassification(err, task.ErrUnresolvableSource):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) Exec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	defer r.Body.Close()
	var req downloadRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.service.Exec(req.toTaskRequest())
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]string{"id": id}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) ExecPlaylist(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	defer r.Body.Close()
	var req downloadRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ids, err := h.service.ExecPlaylist(r.Context(), req.toTaskRequest())
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string][]string{"ids": ids}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := chi.URLParam(r, "id")
	h.service.Cancel(id)

	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode("ok"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(toSnapshotDTO(snap)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) ConsumeResults(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	results := h.service.ConsumeResults()

	dto := make([]resultDTO, len(results))
	for i, res := range results {
		dto[i] = resultDTO{
			Result:     res,
			HumanBytes: humanize.Bytes(uint64(res.Bytes)),
		}
	}

	if err := json.NewEncoder(w).Encode(dto); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) Formats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	info, err := h.service.Formats(r.Context(), url)
	if err != nil {
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	if err := json.NewEncoder(w).Encode(info); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) FreeSpace(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	free, err := h.service.FreeSpace()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := struct {
		FreeBytes uint64 `json:"free_bytes"`
		FreeHuman string `json:"free_human"`
	}{
		FreeBytes: free,
		FreeHuman: humanize.Bytes(free),
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) UpdateResolver(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := h.service.UpdateResolver(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode("ok"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) DirectoryTree(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	tree, err := h.service.DirectoryTree()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(tree); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func ApplyRouter(args *ContainerArgs) func(chi.Router) {
	var (
		s = provideService(args)
		h = provideHandler(s)
	)

	return func(r chi.Router) {
		r.Post("/downloads", h.Exec)
		r.Post("/downloads/playlist", h.ExecPlaylist)
		r.Delete("/downloads/{id}", h.Cancel)
		r.Get("/snapshot", h.Snapshot)
		r.Post("/results/consume", h.ConsumeResults)
		r.Get("/formats", h.Formats)
		r.Get("/freespace", h.FreeSpace)
		r.Get("/tree", h.DirectoryTree)
		r.Post("/resolver/update", h.UpdateResolver)
	}
}
