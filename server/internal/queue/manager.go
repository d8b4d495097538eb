// Package queue owns the single source of truth for what is pending,
// active and finished. A periodic tick reconciles worker completions
// and admits pending tasks in strict submission order.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"

	"github.com/justdownloadit/justdownloadit/server/internal/pool"
	"github.com/justdownloadit/justdownloadit/server/internal/resolver"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// ResultTopic carries every terminal task.Result over the event bus.
const ResultTopic = "downloads.result"

const defaultPollInterval = time.Second

// Expander turns a playlist URL into individual entries. Expansion
// happens at submission time, workers never see playlists.
type Expander interface {
	ExpandPlaylist(ctx context.Context, url string) ([]resolver.PlaylistEntry, error)
}

// Snapshot is the read-only view the presentation layer polls.
type Snapshot struct {
	PendingCount int                   `json:"pending_count"`
	Pending      []task.Task           `json:"pending"`
	Active       []pool.ActiveSnapshot `json:"active"`
	Results      []task.Result         `json:"results"`
}

type Options struct {
	PollInterval time.Duration
	SessionPath  string
}

// Manager coordinates the pending queue and the worker pool. All of
// its operations are safe for concurrent use and none of them blocks
// on network or disk I/O while holding the lock.
type Manager struct {
	pool     *pool.Pool
	expander Expander
	bus      EventBus.Bus
	interval time.Duration
	session  string

	mu      sync.Mutex
	pending []task.Task
	results []task.Result
}

func New(p *pool.Pool, expander Expander, bus EventBus.Bus, opts Options) *Manager {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Manager{
		pool:     p,
		expander: expander,
		bus:      bus,
		interval: interval,
		session:  opts.SessionPath,
	}
}

// Submit validates the request, queues the task and admits it on the
// spot when a slot is free. Rejections never enter the queue.
func (m *Manager) Submit(req task.Request) (task.Task, error) {
	t, err := task.New(req)
	if err != nil {
		return task.Task{}, err
	}

	m.mu.Lock()
	m.pending = append(m.pending, t)
	m.admitLocked()
	m.mu.Unlock()

	slog.Info("task submitted",
		slog.String("id", t.Id),
		slog.String("url", t.URL),
		slog.String("kind", string(t.Kind)),
	)
	return t, nil
}

// SubmitPlaylist expands url into entries and submits one task per
// entry, preserving playlist order. The expansion does network I/O,
// so it happens before the queue lock is ever taken.
func (m *Manager) SubmitPlaylist(ctx context.Context, req task.Request) ([]task.Task, error) {
	if m.expander == nil {
		return nil, task.NewError(task.ErrInvalidInput, errors.New("playlist expansion not configured"))
	}

	entries, err := m.expander.ExpandPlaylist(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	tasks := make([]task.Task, 0, len(entries))
	for _, e := range entries {
		t, err := task.New(task.Request{
			URL:      e.URL,
			Kind:     req.Kind,
			Quality:  req.Quality,
			Dir:      req.Dir,
			Filename: e.Title,
		})
		if err != nil {
			slog.Warn("skipping playlist entry",
				slog.String("url", e.URL),
				slog.Any("err", err),
			)
			continue
		}
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		return nil, task.NewError(task.ErrInvalidInput, errors.New("playlist has no admissible entries"))
	}

	m.mu.Lock()
	m.pending = append(m.pending, tasks...)
	m.admitLocked()
	m.mu.Unlock()

	slog.Info("playlist submitted",
		slog.String("url", req.URL),
		slog.Int("entries", len(tasks)),
	)
	return tasks, nil
}

// Tick reconciles finished workers into results, then fills the freed
// capacity from the pending queue, in that order.
func (m *Manager) Tick() {
	completed := m.pool.PollCompleted()

	m.mu.Lock()
	m.results = append(m.results, completed...)
	m.admitLocked()
	m.mu.Unlock()

	for _, r := range completed {
		m.publish(r)
	}
}

// admitLocked starts pending tasks FIFO while the pool takes them.
func (m *Manager) admitLocked() {
	for len(m.pending) > 0 {
		if !m.pool.StartIfCapacity(m.pending[0]) {
			return
		}
		m.pending = m.pending[1:]
	}
}

// Cancel removes a pending task immediately, recording a cancelled
// result, or asks the pool to terminate an active one. The active
// task stays visible until a later tick observes its terminal result.
// Unknown ids and repeated cancels are no-ops.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	for i, t := range m.pending {
		if t.Id != id {
			continue
		}
		m.pending = slices.Delete(m.pending, i, i+1)
		r := task.Cancelled(t)
		m.results = append(m.results, r)
		m.mu.Unlock()

		slog.Info("cancelled pending task", slog.String("id", id))
		m.publish(r)
		return
	}
	m.mu.Unlock()

	m.pool.Terminate(id)
}

// Snapshot returns a deep copy of the current state. It never blocks
// on I/O and never consumes results.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	pending := slices.Clone(m.pending)
	results := slices.Clone(m.results)
	m.mu.Unlock()

	return Snapshot{
		PendingCount: len(pending),
		Pending:      pending,
		Active:       m.pool.Active(),
		Results:      results,
	}
}

// ConsumeResults hands out the unconsumed results exactly once.
func (m *Manager) ConsumeResults() []task.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.results
	m.results = nil
	return out
}

// Run drives the tick loop until ctx dies.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("queue running", slog.Duration("poll_interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Shutdown stops admissions, persists the never-started tasks and
// cancels the active ones, waiting for their terminal results until
// ctx gives up.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if err := m.persistSession(pending); err != nil {
		slog.Error("session not persisted", slog.Any("err", err))
	}

	m.pool.Shutdown()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for m.pool.ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick()
		}
	}
	return nil
}

func (m *Manager) publish(r task.Result) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ResultTopic, r)
}
