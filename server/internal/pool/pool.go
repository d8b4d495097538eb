// Package pool enforces the hard concurrency bound on running
// download workers and owns their lifecycle. Every started worker
// yields exactly one terminal result, crashes and hangs included.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// Runner executes one task to completion. Implementations must honor
// ctx cancellation and map every failure into the result record, a
// Run call never panics the daemon.
type Runner interface {
	Run(ctx context.Context, t task.Task, report func(task.Progress)) task.Result
}

// ActiveSnapshot is the externally visible state of one running unit,
// refreshed by PollCompleted from the worker's progress events.
type ActiveSnapshot struct {
	Task      task.Task     `json:"task"`
	Progress  task.Progress `json:"progress"`
	StartedAt time.Time     `json:"started_at"`
}

// event travels from a worker goroutine to PollCompleted. Progress
// events are droppable, terminal ones are not.
type event struct {
	id       string
	progress task.Progress
	result   task.Result
	terminal bool
}

type unit struct {
	task      task.Task
	cancel    context.CancelFunc
	progress  task.Progress
	startedAt time.Time

	// closed when the worker goroutine exits
	done chan struct{}

	killedAt   time.Time
	doneSeenAt time.Time
}

type Pool struct {
	runner Runner
	sem    *semaphore.Weighted
	events chan event
	grace  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	active     map[string]*unit
	tombstones map[string]bool
}

func New(maxConcurrency int, grace time.Duration, runner Runner) *Pool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		runner:     runner,
		sem:        semaphore.NewWeighted(int64(maxConcurrency)),
		events:     make(chan event, max(16, maxConcurrency*8)),
		grace:      grace,
		ctx:        ctx,
		cancel:     cancel,
		active:     make(map[string]*unit),
		tombstones: make(map[string]bool),
	}
}

// StartIfCapacity spawns a worker for t when a slot is free and
// reports whether it did. This is the only admission gate, the bound
// cannot be exceeded by construction.
func (p *Pool) StartIfCapacity(t task.Task) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}

	ctx, cancel := context.WithCancel(p.ctx)
	u := &unit{
		task:      t,
		cancel:    cancel,
		progress:  task.Progress{Stage: task.StageResolving},
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	p.active[t.Id] = u
	p.mu.Unlock()

	go p.runUnit(ctx, u)

	slog.Info("download started",
		slog.String("id", t.Id),
		slog.String("url", t.URL),
		slog.String("kind", string(t.Kind)),
	)
	return true
}

func (p *Pool) runUnit(ctx context.Context, u *unit) {
	defer close(u.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panicked",
				slog.String("id", u.task.Id),
				slog.Any("panic", r),
			)
			err := task.NewError(task.ErrWorkerCrashed, fmt.Errorf("worker panic: %v", r))
			p.events <- event{
				id:       u.task.Id,
				result:   task.Failed(u.task, err, 0, u.startedAt),
				terminal: true,
			}
		}
	}()

	res := p.runner.Run(ctx, u.task, func(pr task.Progress) {
		select {
		case p.events <- event{id: u.task.Id, progress: pr}:
		default: // progress is lossy, the next report comes soon
		}
	})

	p.events <- event{id: u.task.Id, result: res, terminal: true}
}

// PollCompleted drains everything the workers reported since the last
// call and returns the terminal results in completion order. It never
// blocks on a worker.
func (p *Pool) PollCompleted() []task.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	var completed []task.Result

drain:
	for {
		select {
		case ev := <-p.events:
			if res, ok := p.handleLocked(ev); ok {
				completed = append(completed, res)
			}
		default:
			break drain
		}
	}

	return append(completed, p.sweepLocked()...)
}

func (p *Pool) handleLocked(ev event) (task.Result, bool) {
	if !ev.terminal {
		if u, ok := p.active[ev.id]; ok {
			u.progress = ev.progress
		}
		return task.Result{}, false
	}

	if p.tombstones[ev.id] {
		delete(p.tombstones, ev.id)
		slog.Warn("dropping late result from reconciled worker", slog.String("id", ev.id))
		return task.Result{}, false
	}

	u, ok := p.active[ev.id]
	if !ok {
		slog.Warn("result for unknown unit", slog.String("id", ev.id))
		return task.Result{}, false
	}

	delete(p.active, ev.id)
	p.sem.Release(1)

	slog.Info("download finished",
		slog.String("id", ev.id),
		slog.String("outcome", string(ev.result.Outcome)),
		slog.Duration("took", time.Since(u.startedAt)),
	)
	return ev.result, true
}

// sweepLocked reconciles units that stopped responding: a terminated
// worker that did not wind down within the grace period, or a worker
// goroutine that exited without delivering a result. Both become a
// worker-crashed result exactly once, late events are tombstoned away.
func (p *Pool) sweepLocked() []task.Result {
	now := time.Now()

	var reconciled []task.Result
	for id, u := range p.active {
		select {
		case <-u.done:
			if u.doneSeenAt.IsZero() {
				// its result may still sit in the buffer, give it
				// until the next poll plus grace
				u.doneSeenAt = now
			}
		default:
		}

		stuck := !u.killedAt.IsZero() && now.Sub(u.killedAt) > p.grace
		vanished := !u.doneSeenAt.IsZero() && now.Sub(u.doneSeenAt) > p.grace
		if !stuck && !vanished {
			continue
		}

		delete(p.active, id)
		p.tombstones[id] = true
		p.sem.Release(1)

		slog.Error("worker presumed dead, reconciling",
			slog.String("id", id),
			slog.Bool("terminated", !u.killedAt.IsZero()),
		)

		err := task.NewError(task.ErrWorkerCrashed, errors.New("worker did not report back"))
		reconciled = append(reconciled, task.Failed(u.task, err, u.progress.BytesDone, u.startedAt))
	}
	return reconciled
}

// Terminate requests a forceful stop of the named unit. Safe to call
// on finished or unknown ids and safe to call twice, it reports
// whether the unit was still active.
func (p *Pool) Terminate(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.active[id]
	if !ok {
		return false
	}
	if u.killedAt.IsZero() {
		u.killedAt = time.Now()
		u.cancel()
		slog.Info("terminating download", slog.String("id", id))
	}
	return true
}

// Active returns a copy of the running units ordered by start time.
func (p *Pool) Active() []ActiveSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ActiveSnapshot, 0, len(p.active))
	for _, u := range p.active {
		out = append(out, ActiveSnapshot{
			Task:      u.task,
			Progress:  u.progress,
			StartedAt: u.startedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Shutdown cancels every running worker. Callers keep polling until
// the active set drains.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	now := time.Now()
	for _, u := range p.active {
		if u.killedAt.IsZero() {
			u.killedAt = now
		}
	}
	p.mu.Unlock()

	p.cancel()
}
