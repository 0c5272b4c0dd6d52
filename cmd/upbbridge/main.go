// UPB Bridge - Powerline Automation Gateway
//
// This is the main entry point for the UPB bridge. The bridge connects
// a Universal Powerline Bus PIM (Powerline Interface Module), reached
// through a serial-to-network adapter, to an MQTT broker so that
// controllers can command powerline devices and observe bus traffic:
//   - Reliable transactions with retry and stage timeouts
//   - Link (scene) and device commands over MQTT
//   - Unsolicited bus events republished as MQTT topics
//   - Read-only HTTP API for health, metrics, and event history
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/hollandpark/upb-bridge/migrations"

	"github.com/hollandpark/upb-bridge/internal/api"
	"github.com/hollandpark/upb-bridge/internal/bridge"
	"github.com/hollandpark/upb-bridge/internal/infrastructure/config"
	"github.com/hollandpark/upb-bridge/internal/infrastructure/database"
	"github.com/hollandpark/upb-bridge/internal/infrastructure/influxdb"
	"github.com/hollandpark/upb-bridge/internal/infrastructure/logging"
	"github.com/hollandpark/upb-bridge/internal/infrastructure/mqtt"
	"github.com/hollandpark/upb-bridge/internal/pim"
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
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting UPB bridge",
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

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Event history store for observed bus traffic
	eventStore := bridge.NewEventStore(db.DB)

	// Connect to the PIM through the serial-to-network adapter
	pimAddress := fmt.Sprintf("%s:%d", cfg.PIM.Host, cfg.PIM.Port)
	transport, err := pim.Dial(ctx, pim.TransportConfig{
		Host:              cfg.PIM.Host,
		Port:              cfg.PIM.Port,
		ReconnectInterval: cfg.GetReconnectInterval(),
	})
	if err != nil {
		return fmt.Errorf("connecting to PIM: %w", err)
	}
	defer func() {
		log.Info("closing PIM connection")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing PIM connection", "error", closeErr)
		}
	}()
	transport.SetLogger(log)
	log.Info("PIM connected", "address", pimAddress)

	// Transaction engine over the shared pending-transaction table
	table := pim.NewTable()
	engine := pim.NewEngine(transport, table, nil, pim.EngineConfig{
		MaxRetry:          cfg.PIM.MaxRetry,
		MaxProcessingTime: cfg.GetMaxProcessingTime(),
		RetryDelay:        cfg.GetRetryDelay(),
		SourceID:          byte(cfg.PIM.SourceID),
	})
	engine.SetLogger(log)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
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

	// Set up MQTT logging callbacks
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

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

	// Create the bridge. A typed nil in the Metrics interface would
	// pass the nil checks inside the bridge, so only assign it when
	// InfluxDB is actually connected.
	bridgeOpts := bridge.Options{
		MQTT:       mqttClient,
		Engine:     engine,
		Transport:  transport,
		Events:     eventStore,
		NetworkID:  byte(cfg.PIM.NetworkID),
		PIMAddress: pimAddress,
		Version:    version,
		Logger:     log,
	}
	if influxClient != nil {
		bridgeOpts.Metrics = influxClient
	}
	b, err := bridge.New(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Route inbound PIM frames: reports to waiting transactions via
	// the shared table, unsolicited traffic to the bridge.
	dispatcher := pim.NewDispatcher(table, b, nil)
	dispatcher.SetLogger(log)
	transport.SetOnFrame(dispatcher.OnFrame)

	// The engine's handshake needs the PIM in message mode. A failure
	// here is not fatal: the PIM may be preconfigured, and the
	// transport reconnects on its own if the adapter dropped.
	if regErr := engine.WriteRegister(pim.RegisterPIMOptions, []byte{0x02}); regErr != nil {
		log.Warn("could not set PIM message mode", "error", regErr)
	} else {
		log.Info("PIM message mode set")
	}

	// Start the bridge (subscribes to command topics, begins health reporting)
	if startErr := b.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()
	log.Info("bridge started", "network_id", cfg.PIM.NetworkID)

	// Start the HTTP API server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log,
		Transport:  transport,
		Dispatcher: dispatcher,
		MQTT:       mqttClient,
		Events:     eventStore,
		DB:         db,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Bridge
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. PIM transport
	// 6. Database

	log.Info("UPB bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses UPB_BRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("UPB_BRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// PIM transport health is reflected in the bridge's health topic;
	// a faulted transport reconnects on its own schedule and should
	// not block startup.

	return nil
}
