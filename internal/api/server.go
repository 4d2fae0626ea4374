// Package api provides the HTTP REST API and WebSocket server for the
// capture service.
//
// It exposes the device directory, capability queries and the local audit
// history to recorders, dashboards and commissioning tools.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
	"github.com/nerrad567/gray-logic-capture/internal/history"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SelectionRecorder records the outcome of best-match queries.
type SelectionRecorder interface {
	RecordSelection(ctx context.Context, deviceID, epoch string, req capture.CaptureCapability, index int, result capture.CaptureCapability)
}

// MQTTStatser reports broker connection and publish counters.
type MQTTStatser interface {
	Stats() mqtt.Stats
}

// InfluxStatser reports metrics sink connection and write failures.
type InfluxStatser interface {
	Stats() influxdb.Stats
}

// DBStatser exposes connection pool statistics.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Directory   *capture.Directory
	History     history.Repository // Optional: history endpoints return 503 without it
	Selections  SelectionRecorder  // Optional: best-match results are not recorded without it
	MQTT        MQTTStatser        // Optional: reported in metrics
	Influx      InfluxStatser      // Optional: reported in metrics
	DB          DBStatser          // Optional: reported in metrics
	Dropped     func() int         // Optional: telemetry events dropped, reported in metrics
	ExternalHub *Hub               // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for the capture service.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	directory   *capture.Directory
	history     history.Repository
	selections  SelectionRecorder
	mqtt        MQTTStatser
	influx      InfluxStatser
	db          DBStatser
	dropped     func() int
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, directory)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("device directory is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		directory:  deps.Directory,
		history:    deps.History,
		selections: deps.Selections,
		mqtt:       deps.MQTT,
		influx:     deps.Influx,
		db:         deps.DB,
		dropped:    deps.Dropped,
		version:    deps.Version,
		startTime:  time.Now(),
	}

	// The telemetry reporter broadcasts on the same hub, so it may be
	// created before the server.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

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
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Hub returns the server's WebSocket hub, or nil before Start when no
// external hub was supplied.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HealthCheck verifies the API server is running and responsive.
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
