package queue

import (
	"encoding/gob"
	"errors"
	"log/slog"
	"os"

	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

// session is the on-disk shape of the pending queue. Only tasks that
// never started are persisted, interrupted downloads are not resumed.
type session struct {
	Pending []task.Task
}

func (m *Manager) persistSession(pending []task.Task) error {
	if m.session == "" {
		return nil
	}

	fd, err := os.Create(m.session)
	if err != nil {
		return errors.Join(errors.New("failed to persist session"), err)
	}
	defer fd.Close()

	if err := gob.NewEncoder(fd).Encode(session{Pending: pending}); err != nil {
		return errors.Join(errors.New("failed to persist session"), err)
	}

	slog.Info("session persisted",
		slog.String("path", m.session),
		slog.Int("tasks", len(pending)),
	)
	return nil
}

// RestoreSession re-queues the tasks a previous run left pending.
// A missing or unreadable session file is not an error.
func (m *Manager) RestoreSession() {
	if m.session == "" {
		return
	}

	fd, err := os.Open(m.session)
	if err != nil {
		return
	}
	defer fd.Close()

	var s session
	if err := gob.NewDecoder(fd).Decode(&s); err != nil {
		slog.Warn("unreadable session file", slog.String("path", m.session))
		return
	}
	if len(s.Pending) == 0 {
		return
	}

	m.mu.Lock()
	m.pending = append(m.pending, s.Pending...)
	m.admitLocked()
	m.mu.Unlock()

	slog.Info("session restored",
		slog.String("path", m.session),
		slog.Int("tasks", len(s.Pending)),
	)
}
