package rest

import (
	"context"
	"time"

	"github.com/justdownloadit/justdownloadit/server/internal/queue"
	"github.com/justdownloadit/justdownloadit/server/internal/resolver"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
	"github.com/justdownloadit/justdownloadit/server/sys"
	"github.com/justdownloadit/justdownloadit/server/updater"
)

type Service struct {
	queue    *queue.Manager
	resolver *resolver.Resolver
}

func NewService(q *queue.Manager, r *resolver.Resolver) *Service {
	return &Service{
		queue:    q,
		resolver: r,
	}
}

// Exec enqueues a single download and returns its id.
func (s *Service) Exec(req task.Request) (string, error) {
	t, err := s.queue.Submit(req)
	if err != nil {
		return "", err
	}
	return t.Id, nil
}

// ExecPlaylist expands a playlist URL and enqueues one download per
// entry. The returned ids are in playlist order.
func (s *Service) ExecPlaylist(ctx context.Context, req task.Request) ([]string, error) {
	tasks, err := s.queue.SubmitPlaylist(ctx, req)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.Id
	}
	return ids, nil
}

func (s *Service) Cancel(id string) {
	s.queue.Cancel(id)
}

func (s *Service) Snapshot(ctx context.Context) (queue.Snapshot, error) {
	select {
	case <-ctx.Done():
		return queue.Snapshot{}, context.Canceled
	default:
		return s.queue.Snapshot(), nil
	}
}

func (s *Service) ConsumeResults() []task.Result {
	return s.queue.ConsumeResults()
}

// Formats probes a URL for its downloadable streams.
func (s *Service) Formats(ctx context.Context, url string) (*resolver.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	return s.resolver.Resolve(ctx, url)
}

func (s *Service) FreeSpace() (uint64, error) {
	return sys.FreeSpace()
}

func (s *Service) DirectoryTree() (*[]string, error) {
	return sys.DirectoryTree()
}

// UpdateResolver upgrades the resolver binary in place.
func (s *Service) UpdateResolver(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	return updater.UpdateExecutable(ctx)
}
