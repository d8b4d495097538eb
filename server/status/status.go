package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/justdownloadit/justdownloadit/server/config"
	"github.com/justdownloadit/justdownloadit/server/internal/queue"
)

const Version = "1.0.0"

var startedAt = time.Now()

type report struct {
	Version        string `json:"version"`
	Started        string `json:"started"`
	Uptime         string `json:"uptime"`
	MaxConcurrency int    `json:"max_concurrency"`
	ActiveCount    int    `json:"active_count"`
	PendingCount   int    `json:"pending_count"`
	ResultCount    int    `json:"result_count"`
}

func handler(q *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		snap := q.Snapshot()

		res := report{
			Version:        Version,
			Started:        startedAt.Format(time.RFC3339),
			Uptime:         humanize.Time(startedAt),
			MaxConcurrency: config.Instance().Queue.MaxConcurrency,
			ActiveCount:    len(snap.Active),
			PendingCount:   snap.PendingCount,
			ResultCount:    len(snap.Results),
		}

		if err := json.NewEncoder(w).Encode(res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func ApplyRouter(q *queue.Manager) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", handler(q))
	}
}
