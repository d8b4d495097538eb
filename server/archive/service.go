package archive

import "context"

type Service interface {
	Archive(ctx context.Context, e *Entity) error
	List(ctx context.Context, limit int) ([]Entity, error)
	Get(ctx context.Context, id string) (*Entity, error)
	Delete(ctx context.Context, id string) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Archive(ctx context.Context, e *Entity) error {
	return s.repo.Insert(ctx, e)
}

func (s *service) List(ctx context.Context, limit int) ([]Entity, error) {
	return s.repo.List(ctx, limit)
}

func (s *service) Get(ctx context.Context, id string) (*Entity, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
