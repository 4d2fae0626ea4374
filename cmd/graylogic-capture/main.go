// Gray Logic Capture - Capture Device Directory Service
//
// This is the main entry point for the Gray Logic Capture service. It keeps
// a time-bounded cache of the video capture devices attached to the host,
// answers capability queries over HTTP, and announces attach and detach on
// MQTT and WebSocket.
//
// The device list is always rebuilt from the live backend. MQTT, InfluxDB
// and the local history database only receive copies.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/api"
	"github.com/nerrad567/gray-logic-capture/internal/capture"
	"github.com/nerrad567/gray-logic-capture/internal/capture/static"
	"github.com/nerrad567/gray-logic-capture/internal/capture/v4l2"
	"github.com/nerrad567/gray-logic-capture/internal/history"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-capture/internal/telemetry"
	"github.com/nerrad567/gray-logic-capture/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// pruneInterval is how often expired history is deleted.
const pruneInterval = 6 * time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring is linear
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Capture",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Platform backend
	backend, err := newBackend(cfg)
	if err != nil {
		return fmt.Errorf("creating capture backend: %w", err)
	}
	log.Info("capture backend selected", "backend", cfg.Capture.Backend)

	dir := capture.NewDirectory(backend, capture.Options{
		Timeout:       cfg.GetDeviceListTimeout(),
		NameMaxLength: cfg.Capture.NameMaxLength,
	})
	dir.SetLogger(log.With("component", "directory"))

	// Open history database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	historyRepo := history.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Service.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.With("component", "mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub, shared by the reporter and the API server
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(hubCtx)

	// Telemetry fan-out. Sinks are only set when present so the reporter
	// never sees a typed nil.
	sinks := telemetry.Sinks{History: historyRepo, Hub: hub}
	if mqttClient != nil {
		sinks.MQTT = mqttClient
	}
	if influxClient != nil {
		sinks.Metrics = influxClient
	}
	reporter := telemetry.NewReporter(telemetry.Config{
		Service: cfg.Service.ID,
		Backend: cfg.Capture.Backend,
	}, sinks, log.With("component", "telemetry"))

	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(ctx)
	}()
	dir.SetOnRefresh(reporter.HandleRefresh)

	if mqttClient != nil {
		if subErr := reporter.SubscribeCommands(mqttClient, dir); subErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", subErr)
		}
	}

	// Start the directory and take the first snapshot
	if initErr := dir.Init(ctx); initErr != nil {
		return fmt.Errorf("initialising directory: %w", initErr)
	}
	defer dir.Close()

	if n, countErr := dir.NumberOfDevices(ctx); countErr != nil {
		// Not fatal: the backend may come up later (USB hub, udev).
		log.Warn("initial device enumeration failed", "error", countErr)
	} else {
		log.Info("capture directory ready", "devices", n)
	}

	// History retention
	if retention := cfg.GetRetention(); retention > 0 {
		go pruneHistory(ctx, historyRepo, retention, log)
	}

	// Start API server
	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Directory:   dir,
		History:     historyRepo,
		Selections:  reporter,
		DB:          db.DB,
		Dropped:     reporter.Dropped,
		ExternalHub: hub,
		Version:     version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.Influx = influxClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// The reporter drains queued events before returning; wait so the
	// final refresh reaches the history database before it closes.
	<-reporterDone
	if influxClient != nil {
		influxClient.Flush()
	}

	log.Info("Gray Logic Capture stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CAPTURE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CAPTURE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newBackend builds the platform backend selected by configuration.
func newBackend(cfg *config.Config) (capture.Backend, error) {
	switch cfg.Capture.Backend {
	case "v4l2":
		return v4l2.New(v4l2.Config{
			DevDir:          cfg.Capture.V4L2.DevDir,
			SysfsDir:        cfg.Capture.V4L2.SysfsDir,
			WatchInterval:   cfg.GetWatchInterval(),
			IncludeAllNodes: cfg.Capture.V4L2.IncludeAllNodes,
		}), nil
	case "static":
		if cfg.Capture.Static.DevicesFile != "" {
			return static.NewFromFile(cfg.Capture.Static.DevicesFile, cfg.GetWatchInterval())
		}
		return static.New(staticDevices(cfg.Capture.Static.Devices)), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Capture.Backend)
	}
}

// staticDevices converts configured devices to static backend declarations.
func staticDevices(in []config.StaticDevice) []static.Device {
	out := make([]static.Device, 0, len(in))
	for _, d := range in {
		formats := make([]static.Format, 0, len(d.Formats))
		for _, f := range d.Formats {
			formats = append(formats, static.Format{
				PixelFormat: f.PixelFormat,
				Width:       f.Width,
				Height:      f.Height,
				FPS:         f.FPS,
				Interlaced:  f.Interlaced,
			})
		}
		out = append(out, static.Device{
			Name:      d.Name,
			UniqueID:  d.UniqueID,
			ProductID: d.ProductID,
			Formats:   formats,
		})
	}
	return out
}

// pruneHistory deletes history older than retention now and every
// pruneInterval until ctx is cancelled.
func pruneHistory(ctx context.Context, repo history.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Warn("history prune failed", "error", err)
		case n > 0:
			log.Info("history pruned", "deleted", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
