package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/gorilla/websocket"
	"github.com/justdownloadit/justdownloadit/server/internal/queue"
	"github.com/justdownloadit/justdownloadit/server/internal/task"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type message struct {
	Type     string          `json:"type"`
	Snapshot *queue.Snapshot `json:"snapshot,omitempty"`
	Result   *task.Result    `json:"result,omitempty"`
}

// Handler upgrades the connection and streams queue snapshots on an
// interval, plus every terminal result as soon as it lands.
func Handler(q *queue.Manager, bus EventBus.Bus, interval time.Duration) http.HandlerFunc {
	if interval <= 0 {
		interval = time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", slog.Any("err", err))
			return
		}
		defer conn.Close()

		// reader only detects the peer going away
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// results are forwarded lossily so a slow client never
		// stalls the publisher
		results := make(chan task.Result, 16)
		onResult := func(res task.Result) {
			select {
			case results <- res:
			default:
			}
		}
		if bus != nil {
			if err := bus.Subscribe(queue.ResultTopic, onResult); err != nil {
				slog.Error("websocket bus subscribe failed", slog.Any("err", err))
				return
			}
			defer bus.Unsubscribe(queue.ResultTopic, onResult)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case res := <-results:
				if err := conn.WriteJSON(message{Type: "result", Result: &res}); err != nil {
					return
				}
			case <-ticker.C:
				snap := q.Snapshot()
				if err := conn.WriteJSON(message{Type: "snapshot", Snapshot: &snap}); err != nil {
					return
				}
			}
		}
	}
}
