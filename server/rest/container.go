package rest

import (
	"sync"

	"github.com/justdownloadit/justdownloadit/server/internal/queue"
	"github.com/justdownloadit/justdownloadit/server/internal/resolver"
)

// ContainerArgs carries the daemon-owned collaborators the API layer
// borrows but never owns.
type ContainerArgs struct {
	Queue    *queue.Manager
	Resolver *resolver.Resolver
}

var (
	service *Service
	handler *Handler

	serviceOnce sync.Once
	handlerOnce sync.Once
)

func provideService(args *ContainerArgs) *Service {
	serviceOnce.Do(func() {
		service = NewService(args.Queue, args.Resolver)
	})
	return service
}

func provideHandler(s *Service) *Handler {
	handlerOnce.Do(func() {
		handler = &Handler{service: s}
	})
	return handler
}
