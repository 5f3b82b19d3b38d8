// Roomhub - Single-Room AV Orchestrator
//
// This is the main entry point for the Roomhub daemon. Roomhub unifies
// a room's TV, speaker, and media player behind whole-room activities
// (off, watch, listen), surviving device dropouts and restarts without
// operator intervention.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomhub/roomhub/internal/activity"
	"github.com/roomhub/roomhub/internal/adapter"
	"github.com/roomhub/roomhub/internal/api"
	"github.com/roomhub/roomhub/internal/dispatch"
	"github.com/roomhub/roomhub/internal/events"
	"github.com/roomhub/roomhub/internal/history"
	"github.com/roomhub/roomhub/internal/infrastructure/config"
	"github.com/roomhub/roomhub/internal/infrastructure/database"
	"github.com/roomhub/roomhub/internal/infrastructure/influxdb"
	"github.com/roomhub/roomhub/internal/infrastructure/logging"
	"github.com/roomhub/roomhub/internal/infrastructure/mqtt"
	"github.com/roomhub/roomhub/internal/store"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Roomhub",
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
	log.Info("configuration loaded", "path", configPath, "room", cfg.Room.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Snapshot store for restart recovery
	snaps, err := store.New(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	log.Info("snapshot store ready", "dir", cfg.Store.DataDir)

	// Event broadcaster: the room's single ordered event stream
	bus := events.NewBroadcaster(cfg.Events.BufferSize, cfg.Events.SubscriberQueue,
		func(id string, lastSeq uint64) {
			log.Warn("slow event subscriber dropped", "subscription", id, "last_seq", lastSeq)
		})
	defer bus.Close()

	// Device adapters, one per role
	adapters, err := buildAdapters(cfg)
	if err != nil {
		return fmt.Errorf("building adapters: %w", err)
	}
	for role := range adapters {
		dev, _ := cfg.Device(string(role))
		log.Info("adapter configured", "role", role, "variant", dev.Variant, "host", dev.Host)
	}

	// Command dispatcher: per-role queues with timeout and retry
	disp := dispatch.New(dispatch.Options{
		Timeout:     cfg.Dispatch.Timeout(),
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Backoff:     cfg.Dispatch.Backoff(),
		QueueSize:   cfg.Dispatch.QueueSize,
	}, log, bus)
	for _, a := range adapters {
		disp.Register(a)
	}
	disp.Start(ctx)
	defer disp.Stop()

	// Activity orchestrator: restore the snapshot and revalidate devices
	orch := activity.New(
		cfg.Room.ID,
		activity.DefinitionsFromConfig(cfg.Activities),
		activity.InitialDefaults(cfg.Activities),
		adapters,
		disp,
		snaps,
		bus,
		log,
	)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}
	log.Info("orchestrator ready", "activity", orch.State().Activity)

	// Background poller feeds device status into the orchestrator
	poller := adapter.NewPoller(orch.HandleStatus)
	for role, a := range adapters {
		dev, _ := cfg.Device(string(role))
		poller.Add(a, dev.Interval())
	}
	poller.Start(ctx)
	defer poller.Stop()

	// Event history database (optional)
	var histLister api.HistoryLister
	if cfg.History.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening history database: %w", openErr)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		repo := history.NewRepository(db.DB, cfg.History.MaxRows)
		if initErr := repo.Init(ctx); initErr != nil {
			return fmt.Errorf("initialising history schema: %w", initErr)
		}
		go repo.Follow(ctx, bus.Subscribe(0), func(followErr error) {
			log.Error("history write failed", "error", followErr)
		})
		histLister = repo
		log.Info("event history enabled", "path", cfg.History.Path, "max_rows", cfg.History.MaxRows)
	} else {
		log.Info("event history disabled")
	}

	// MQTT relay (optional): mirror events and retained state to a broker
	if cfg.MQTT.Enabled {
		broker, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := broker.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		go mqtt.Relay(ctx, cfg.Room.ID, bus.Subscribe(bus.LastSeq()), broker,
			func() any { return orch.State() },
			func(relayErr error) {
				log.Warn("mqtt relay publish failed", "error", relayErr)
			})
	} else {
		log.Info("MQTT relay disabled")
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(writeErr error) {
			log.Error("InfluxDB write error", "error", writeErr)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		go influxdb.Follow(ctx, cfg.Room.ID, bus.Subscribe(bus.LastSeq()), influxClient)
	} else {
		log.Info("InfluxDB telemetry disabled")
	}

	// HTTP API and WebSocket server
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Room:    orch,
		Events:  bus,
		History: histLister,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ROOMHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ROOMHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildAdapters constructs one adapter per device role from configuration.
//
// Variants:
//   - monitor: passive network observation (tv role only)
//   - sim: in-memory simulated device
//   - mock: recording test double, always succeeds
func buildAdapters(cfg *config.Config) (map[adapter.Role]adapter.Adapter, error) {
	adapters := make(map[adapter.Role]adapter.Adapter, 3)

	for _, role := range adapter.Roles() {
		dev, ok := cfg.Device(string(role))
		if !ok {
			return nil, fmt.Errorf("no device configuration for role %q", role)
		}

		switch dev.Variant {
		case "monitor":
			if role != adapter.RoleTV {
				return nil, fmt.Errorf("devices.%s: the monitor variant only suits the tv role", role)
			}
			adapters[role] = adapter.NewTVMonitor(dev.Host)
		case "sim":
			adapters[role] = adapter.NewSim(role)
		case "mock":
			adapters[role] = adapter.NewMock(role)
		default:
			return nil, fmt.Errorf("devices.%s: unknown variant %q", role, dev.Variant)
		}
	}

	return adapters, nil
}
