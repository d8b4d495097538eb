package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/justdownloadit/justdownloadit/server/archive"
	"github.com/justdownloadit/justdownloadit/server/archiver"
	"github.com/justdownloadit/justdownloadit/server/config"
	"github.com/justdownloadit/justdownloadit/server/internal/downloader"
	"github.com/justdownloadit/justdownloadit/server/internal/fetch"
	"github.com/justdownloadit/justdownloadit/server/internal/muxer"
	"github.com/justdownloadit/justdownloadit/server/internal/pool"
	"github.com/justdownloadit/justdownloadit/server/internal/queue"
	"github.com/justdownloadit/justdownloadit/server/internal/resolver"
	"github.com/justdownloadit/justdownloadit/server/logging"
	middlewares "github.com/justdownloadit/justdownloadit/server/middleware"
	"github.com/justdownloadit/justdownloadit/server/openid"
	"github.com/justdownloadit/justdownloadit/server/rest"
	"github.com/justdownloadit/justdownloadit/server/status"
	"github.com/justdownloadit/justdownloadit/server/user"
	"github.com/justdownloadit/justdownloadit/server/ws"

	_ "modernc.org/sqlite"
)

type serverConfig struct {
	db       *sql.DB
	bus      EventBus.Bus
	queue    *queue.Manager
	resolver *resolver.Resolver
}

func Run(ctx context.Context) error {
	conf := config.Instance()

	// ---- LOGGING ---------------------------------------------------
	logWriters := []io.Writer{os.Stdout}

	if conf.Logging.EnableFileLogging {
		logger, err := logging.NewRotableLogger(conf.Logging.LogPath)
		if err != nil {
			return err
		}

		defer logger.Rotate()

		go func() {
			for {
				time.Sleep(time.Hour * 24)
				logger.Rotate()
			}
		}()

		logWriters = append(logWriters, logger)
	}

	logger := slog.New(slog.NewTextHandler(io.MultiWriter(logWriters...), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	slog.SetDefault(logger)
	// ----------------------------------------------------------------

	db, err := sql.Open("sqlite", conf.Paths.LocalDatabasePath)
	if err != nil {
		return err
	}

	rsv := resolver.New(conf.Paths.ResolverPath)

	worker := downloader.New(
		downloader.Config{
			DownloadDir:   conf.Paths.DownloadPath,
			TempDir:       conf.Paths.TempPath,
			DirectRetries: conf.Downloads.DirectRetries,
			MediaRetries:  conf.Downloads.MediaRetries,
			RetryCooldown: conf.Downloads.RetryCooldown,
			RetryExponent: conf.Downloads.RetryExponent,
		},
		fetch.New(nil, conf.Downloads.UserAgent),
		rsv,
		muxer.New(conf.Paths.FFmpegPath),
	)

	var (
		bus = EventBus.New()
		q   = queue.New(
			pool.New(conf.Queue.MaxConcurrency, conf.Downloads.LivenessGrace, worker),
			rsv,
			bus,
			queue.Options{
				PollInterval: conf.Queue.PollInterval,
				SessionPath:  conf.Queue.SessionPath,
			},
		)
	)

	if err := archiver.Register(db, bus); err != nil {
		return err
	}

	q.RestoreSession()
	go q.Run(ctx)

	scfg := serverConfig{
		db:       db,
		bus:      bus,
		queue:    q,
		resolver: rsv,
	}

	srv := newServer(scfg)

	go gracefulShutdown(ctx, srv, &scfg)

	var (
		network = "tcp"
		address = fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port)
	)

	// support unix sockets
	if strings.HasPrefix(conf.Server.Host, "/") {
		network = "unix"
		address = conf.Server.Host
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		slog.Error("failed to listen", slog.String("err", err.Error()))
		return err
	}

	slog.Info("justdownloadit started", slog.String("address", address))

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		slog.Warn("http server stopped", slog.String("err", err.Error()))
	}

	return nil
}

func newServer(c serverConfig) *http.Server {
	r := chi.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.Use(corsMiddleware.Handler)

	// Authentication routes
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", user.Login)
		r.Get("/logout", user.Logout)

		r.Route("/openid", func(r chi.Router) {
			r.Get("/login", openid.Login)
			r.Get("/signin", openid.SignIn)
			r.Get("/logout", openid.Logout)
		})
	})

	// REST API handlers
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewares.ApplyAuthenticationByConfig)
		r.Group(rest.ApplyRouter(&rest.ContainerArgs{
			Queue:    c.queue,
			Resolver: c.resolver,
		}))
	})

	// Archive routes
	r.Route("/archive", func(r chi.Router) {
		r.Use(middlewares.ApplyAuthenticationByConfig)
		r.Group(archive.ApplyRouter(c.db))
	})

	// Progress push channel
	r.Route("/ws", func(r chi.Router) {
		r.Use(middlewares.ApplyAuthenticationByConfig)
		r.Get("/", ws.Handler(c.queue, c.bus, config.Instance().Queue.PollInterval))
	})

	// Status
	r.Route("/status", status.ApplyRouter(c.queue))

	return &http.Server{Handler: r}
}

func gracefulShutdown(ctx context.Context, srv *http.Server, cfg *serverConfig) {
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := cfg.queue.Shutdown(shutdownCtx); err != nil {
		slog.Error("queue shutdown failed", slog.Any("err", err))
	}

	cfg.db.Close()
	srv.Shutdown(shutdownCtx)
}
