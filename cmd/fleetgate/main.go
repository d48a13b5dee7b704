// Fleetgate - IoT Fleet Management Core
//
// This is the main entry point for the Fleetgate application. Fleetgate
// is the control plane for a device fleet:
//   - Device registry with MQTT self-registration
//   - Role and attribute based access decisions on every outbound send
//   - Append-only audit trail of decisions and registry changes
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/fleetgate/migrations"

	"github.com/nerrad567/fleetgate/internal/audit"
	"github.com/nerrad567/fleetgate/internal/device"
	"github.com/nerrad567/fleetgate/internal/infrastructure/config"
	"github.com/nerrad567/fleetgate/internal/infrastructure/database"
	"github.com/nerrad567/fleetgate/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetgate/internal/infrastructure/logging"
	"github.com/nerrad567/fleetgate/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetgate/internal/policy"
	"github.com/nerrad567/fleetgate/internal/router"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// auditDrainTimeout bounds how long shutdown waits for queued audit
// records to reach storage.
const auditDrainTimeout = 5 * time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Fleetgate",
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
	db, err := database.Open(ctx, database.Config{
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

	// Start the audit log. Everything below records through it, so it
	// comes up first and drains last.
	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditLog := audit.NewLog(auditRepo, cfg.Audit, log)
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), auditDrainTimeout)
		defer drainCancel()
		log.Info("draining audit log", "dropped", auditLog.Dropped())
		if closeErr := auditLog.Close(drainCtx); closeErr != nil {
			log.Error("error draining audit log", "error", closeErr)
		}
	}()
	log.Info("audit log started",
		"queue_size", cfg.Audit.QueueSize,
		"overflow_policy", cfg.Audit.OverflowPolicy,
	)

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo, auditLog)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}

	// Initialise policy store and decision engine
	policyRepo := policy.NewSQLiteRepository(db.DB)
	policyStore := policy.NewStore(policyRepo, auditLog)
	if refreshErr := policyStore.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("loading policy store: %w", refreshErr)
	}
	engine := policy.NewEngine(policyStore, auditLog)
	engine.SetLogger(log)
	log.Info("decision engine initialised", "policies", len(policyStore.Policies()))

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
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		influxClient = nil
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Start the message router
	messageRepo := router.NewSQLiteMessageRepository(db.DB)
	var telemetry router.Telemetry
	if influxClient != nil {
		telemetry = influxClient
	}
	rtr := router.New(mqttClient, deviceRegistry, engine, auditLog, messageRepo, telemetry,
		router.Config{
			QoS:       byte(cfg.MQTT.QoS),
			JWTSecret: cfg.Security.JWT.Secret,
			TokenTTL:  cfg.DeviceTokenTTL(),
		}, log)
	if startErr := rtr.Start(ctx); startErr != nil {
		return fmt.Errorf("starting router: %w", startErr)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. MQTT
	// 3. Audit log drain
	// 4. Database

	log.Info("Fleetgate stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil if disabled.
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

	return nil
}
