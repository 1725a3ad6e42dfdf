// Butler - Home Automation Rule Engine
//
// This is the main entry point for the Butler daemon. Butler evaluates
// automation rules (triggers, conditions, action trees) over entity state
// and events arriving on the MQTT bus, designed for:
//   - Offline-first operation on the home network
//   - Declarative automations stamped by hand or from blueprints
//   - A REST API for rule management and execution history
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/ashdene/butler-core/migrations"

	"github.com/ashdene/butler-core/internal/api"
	"github.com/ashdene/butler-core/internal/automation"
	"github.com/ashdene/butler-core/internal/infrastructure/config"
	"github.com/ashdene/butler-core/internal/infrastructure/database"
	"github.com/ashdene/butler-core/internal/infrastructure/logging"
	"github.com/ashdene/butler-core/internal/infrastructure/mqtt"
	"github.com/ashdene/butler-core/internal/sun"
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
	log.Info("starting Butler",
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

	// Initialise automation registry
	repo := automation.NewSQLiteRepository(db.DB)
	registry := automation.NewRegistry(repo)
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading automation registry: %w", refreshErr)
	}
	log.Info("automation registry initialised", "automations", registry.Count())

	// Load persisted blueprints into the library
	library, err := loadBlueprints(ctx, repo, log)
	if err != nil {
		return fmt.Errorf("loading blueprints: %w", err)
	}

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

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Build the automation engine
	sunCalc := sun.NewCalculator(cfg.Site.Location.Latitude, cfg.Site.Location.Longitude)
	engine := automation.NewEngine(repo, automation.EngineOptions{
		Broker:       &mqttBroker{client: mqttClient},
		Sun:          sunCalc,
		Renderer:     automation.NewTemplateRenderer(),
		Logger:       log,
		TickInterval: cfg.GetTickInterval(),
		QueueSize:    cfg.Engine.EventQueueSize,
		HistoryLimit: cfg.Engine.HistoryLimit,
	})

	if err := registerAutomations(ctx, registry, engine, log); err != nil {
		return err
	}

	// Route entity state and event traffic into the engine
	if err := engine.BindBroker(); err != nil {
		return fmt.Errorf("binding engine to MQTT: %w", err)
	}
	if err := subscribeEventTopics(cfg, mqttClient, engine); err != nil {
		return fmt.Errorf("subscribing event topics: %w", err)
	}

	// Start the REST API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Registry: registry,
		Engine:   engine,
		Repo:     repo,
		Library:  library,
		MQTT:     mqttClient,
		DB:       db,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, scheduler running")

	// Run the scheduler until the shutdown signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})

	err = g.Wait()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. MQTT
	// 3. Database

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler: %w", err)
	}

	log.Info("Butler stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BUTLER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BUTLER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadBlueprints hydrates persisted blueprint records into an in-memory
// library for the API.
func loadBlueprints(ctx context.Context, repo automation.Repository, log *logging.Logger) (*automation.Library, error) {
	library := automation.NewLibrary()

	records, err := repo.ListBlueprints(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if err := library.Register(records[i].ToBlueprint()); err != nil {
			return nil, fmt.Errorf("registering blueprint %q: %w", records[i].ID, err)
		}
	}
	log.Info("blueprint library initialised", "blueprints", len(records))
	return library, nil
}

// registerAutomations loads every cached definition into the engine.
// A definition that no longer builds is logged and skipped rather than
// blocking startup.
func registerAutomations(ctx context.Context, registry *automation.Registry, engine *automation.Engine, log *logging.Logger) error {
	defs, err := registry.List(ctx)
	if err != nil {
		return fmt.Errorf("listing automations: %w", err)
	}
	registered := 0
	for i := range defs {
		if err := engine.Register(&defs[i]); err != nil {
			log.Error("skipping unloadable automation",
				"automation_id", defs[i].ID,
				"name", defs[i].Name,
				"error", err,
			)
			continue
		}
		registered++
	}
	log.Info("automations registered with engine", "count", registered, "total", len(defs))
	return nil
}

// subscribeEventTopics routes configured extra MQTT topics into the engine's
// message queue so MQTT triggers can match them.
func subscribeEventTopics(cfg *config.Config, client *mqtt.Client, engine *automation.Engine) error {
	qos := byte(cfg.MQTT.QoS)
	for _, topic := range cfg.MQTT.EventTopics {
		if err := client.Subscribe(topic, qos, func(topic string, payload []byte) error {
			engine.SubmitMessage(automation.Message{Topic: topic, Payload: string(payload)})
			return nil
		}); err != nil {
			return fmt.Errorf("topic %q: %w", topic, err)
		}
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// mqttBroker adapts the infrastructure MQTT client to the engine's Broker
// interface. The signatures line up, but the client's handler parameter is
// the named mqtt.MessageHandler type so the interface is not satisfied
// directly.
type mqttBroker struct {
	client *mqtt.Client
}

// Subscribe implements automation.Broker.
func (b *mqttBroker) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return b.client.Subscribe(topic, qos, handler)
}

// Publish implements automation.Broker.
func (b *mqttBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return b.client.Publish(topic, payload, qos, retained)
}
