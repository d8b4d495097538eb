package archiver

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"

	"github.com/asaskevich/EventBus"
	"github.com/justdownloadit/justdownloadit/server/archive"
	"github.com/justdownloadit/justdownloadit/server/config"
	"github.com/justdownloadit/justdownloadit/server/internal/queue"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

var (
	ch             = make(chan *Message, 1)
	archiveService archive.Service
)

type Message = archive.Entity

// Register wires the archive store to the queue's result topic.
// Completed downloads get archived when auto_archive is on. A broken
// archive database fails the boot here, before anything subscribes.
func Register(db *sql.DB, bus EventBus.Bus) error {
	_, s, err := archive.Container(db)
	if err != nil {
		return err
	}
	archiveService = s
	return bus.Subscribe(queue.ResultTopic, onResult)
}

func init() {
	go func() {
		for m := range ch {
			slog.Info(
				"archiving completed download",
				slog.String("title", m.Title),
				slog.String("source", m.Source),
			)
			archiveService.Archive(context.Background(), m)
		}
	}()
}

func onResult(r task.Result) {
	if r.Outcome != task.OutcomeCompleted {
		return
	}
	Publish(&Message{
		Title:  filepath.Base(r.FilePath),
		Source: r.Task.URL,
		Path:   r.FilePath,
		Kind:   string(r.Task.Kind),
		Bytes:  r.Bytes,
	})
}

func Publish(m *Message) {
	if config.Instance().AutoArchive {
		ch <- m
	}
}
