// Package api provides the HTTP REST API and WebSocket server for Roomhub.
//
// It exposes the room's activity state, transition and volume commands,
// the replayable event stream, and recorded event history to user
// interfaces (wall panels, mobile apps, web remotes).
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/roomhub/roomhub/internal/activity"
	"github.com/roomhub/roomhub/internal/adapter"
	"github.com/roomhub/roomhub/internal/events"
	"github.com/roomhub/roomhub/internal/infrastructure/config"
	"github.com/roomhub/roomhub/internal/infrastructure/logging"
	"github.com/roomhub/roomhub/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Room is the orchestrator surface the API serves. Mutating calls are
// synchronous: they return once the room accepted and applied the change,
// or rejected it.
type Room interface {
	State() activity.State
	Ready() bool
	UnreachableRoles() []adapter.Role
	Defaults() store.Defaults
	UpdateDefaults(patch activity.DefaultsPatch) (store.Defaults, error)
	SetActivity(ctx context.Context, target activity.Activity, cause string) error
	SetVolume(ctx context.Context, level int, cause string) error
	AdjustVolume(ctx context.Context, delta int, cause string) (int, error)
	SelectSource(ctx context.Context, source, cause string) error
	Media(ctx context.Context, op adapter.MediaOp, cause string) error
}

// EventSource provides replayable event subscriptions for the WebSocket
// endpoint. Satisfied by *events.Broadcaster.
type EventSource interface {
	Subscribe(since uint64) events.Subscription
	Unsubscribe(id string)
	LastSeq() uint64
}

// HistoryLister reads recorded events from the history database.
// Satisfied by *history.Repository.
type HistoryLister interface {
	List(ctx context.Context, kind string, limit int) ([]events.Event, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Room    Room
	Events  EventSource
	History HistoryLister // optional: GET /events/history returns 404 when nil
	Version string
}

// Server is the HTTP API server for Roomhub.
//
// It manages the HTTP listener, routes, middleware, and WebSocket
// connections. The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	room    Room
	events  EventSource
	history HistoryLister
	version string
	server  *http.Server
	cancel  context.CancelFunc // cancels WebSocket connections on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, room, events)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Room == nil {
		return nil, fmt.Errorf("room orchestrator is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event source is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		room:    deps.Room,
		events:  deps.Events,
		history: deps.History,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for WebSocket connection lifetimes
//
// Returns:
//   - error: Always nil; listen failures are reported asynchronously via the log
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.buildRouter(srvCtx),
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("api server starting", "addr", s.server.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts the server down, waiting for in-flight requests
// up to gracefulShutdownTimeout and closing WebSocket connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("api server shutting down")
	return s.server.Shutdown(ctx)
}
