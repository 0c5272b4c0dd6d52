package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hollandpark/upb-bridge/internal/bridge"
	"github.com/hollandpark/upb-bridge/internal/infrastructure/config"
	"github.com/hollandpark/upb-bridge/internal/infrastructure/logging"
	"github.com/hollandpark/upb-bridge/internal/pim"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TransportStatsProvider exposes the PIM transport's connection state
// and counters. Satisfied by *pim.Client.
type TransportStatsProvider interface {
	IsConnected() bool
	Stats() pim.TransportStats
}

// DispatcherStatsProvider exposes the inbound frame dispatcher's
// counters. Satisfied by *pim.Dispatcher.
type DispatcherStatsProvider interface {
	Stats() pim.DispatcherStats
}

// MQTTStatusProvider reports broker connectivity. Satisfied by *mqtt.Client.
type MQTTStatusProvider interface {
	IsConnected() bool
}

// EventLister reads the observed-event history. Satisfied by
// *bridge.EventStore.
type EventLister interface {
	RecentEvents(ctx context.Context, limit int) ([]bridge.Event, error)
	EventsForSource(ctx context.Context, networkID, sourceID byte, limit int) ([]bridge.Event, error)
}

// DBStatsProvider exposes connection pool statistics. Satisfied by
// *database.DB.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Transport  TransportStatsProvider  // optional
	Dispatcher DispatcherStatsProvider // optional
	MQTT       MQTTStatusProvider      // optional
	Events     EventLister             // optional
	DB         DBStatsProvider         // optional
	Version    string
}

// Server is the HTTP API server for the UPB bridge.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	transport  TransportStatsProvider
	dispatcher DispatcherStatsProvider
	mqtt       MQTTStatusProvider
	events     EventLister
	db         DBStatsProvider
	version    string
	startTime  time.Time
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		transport:  deps.Transport,
		dispatcher: deps.Dispatcher,
		mqtt:       deps.MQTT,
		events:     deps.Events,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
