// Package server exposes the render core over HTTP: a thin JSON shim for
// token and queue operations plus a websocket stream of token events for the
// browser panel. Request parsing and serialization only; business logic
// lives in the core packages.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/okonma/rendercache/internal/config"
	"github.com/okonma/rendercache/internal/invoker"
	"github.com/okonma/rendercache/internal/logging"
	"github.com/okonma/rendercache/internal/queue"
	"github.com/okonma/rendercache/internal/token"
	"github.com/okonma/rendercache/internal/watcher"
)

// Server composes the application: store, invoker, queue, source watcher and
// the HTTP surface over them. One Server per process; tests construct their
// own isolated instances.
type Server struct {
	config  *config.Config
	logger  logging.Logger
	store   *token.Store
	invoker *invoker.Invoker
	queue   *queue.Queue
	watcher *watcher.SourceWatcher

	httpServer *http.Server

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}

	shutdownOnce sync.Once
}

// New wires the core together from configuration.
func New(cfg *config.Config, logger logging.Logger) (*Server, error) {
	store, err := token.NewStore(cfg.Render.CacheDir, cfg.Render.Format, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing token store: %w", err)
	}

	inv := invoker.New(cfg.Render, logger)
	q := queue.New(store, inv, queue.DefaultTuning(cfg.Render.Concurrency), logger)

	sourceWatcher, err := watcher.New(store, 300*time.Millisecond, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing source watcher: %w", err)
	}

	s := &Server{
		config:  cfg,
		logger:  logger.WithComponent("server"),
		store:   store,
		invoker: inv,
		queue:   q,
		watcher: sourceWatcher,
		clients: make(map[*websocket.Conn]struct{}),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.withRequestID(s.routes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Store exposes the token store for CLI commands sharing a cache dir.
func (s *Server) Store() *token.Store { return s.store }

// Start runs the HTTP server, the websocket broadcaster and the source
// watcher until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.watcher.Start(ctx)
	go s.broadcastTokenEvents(ctx, s.store.Watch())

	if !s.invoker.IsAvailable() {
		s.logger.Warn(ctx, nil, "no render engine executable found; renders will fail until one is configured")
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the queue, cancels websocket clients and stops the HTTP
// listener. Safe to call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.queue.Stop()
		s.watcher.Close()

		s.clientsMu.Lock()
		for conn := range s.clients {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.clients = make(map[*websocket.Conn]struct{})
		s.clientsMu.Unlock()

		err = s.httpServer.Shutdown(ctx)
	})
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/tokens", s.handleCreateToken)
	mux.HandleFunc("GET /api/tokens", s.handleListTokens)
	mux.HandleFunc("GET /api/tokens/{id}", s.handleGetToken)
	mux.HandleFunc("POST /api/tokens/{id}/render", s.handleRender)
	mux.HandleFunc("POST /api/tokens/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/tokens/{id}/dirty", s.handleMarkDirty)
	mux.HandleFunc("GET /api/queue", s.handleQueueStatus)
	mux.HandleFunc("POST /api/queue/clear", s.handleQueueClear)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}
