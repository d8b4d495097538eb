package archive

import (
	"database/sql"
	"sync"
)

var (
	repo    Repository
	repoErr error
	svc     Service
	hand    *Handler

	repoOnce sync.Once
	svcOnce  sync.Once
	handOnce sync.Once
)

func provideRepository(db *sql.DB) (Repository, error) {
	repoOnce.Do(func() {
		repo, repoErr = NewRepository(db)
	})
	return repo, repoErr
}

func provideService(r Repository) Service {
	svcOnce.Do(func() {
		svc = NewService(r)
	})
	return svc
}

func provideHandler(s Service) *Handler {
	handOnce.Do(func() {
		hand = &Handler{service: s}
	})
	return hand
}

// Dependency injection container. A failed schema bootstrap surfaces
// as an error instead of a nil repository.
func Container(db *sql.DB) (*Handler, Service, error) {
	r, err := provideRepository(db)
	if err != nil {
		return nil, nil, err
	}
	var (
		s = provideService(r)
		h = provideHandler(s)
	)
	return h, s, nil
}
