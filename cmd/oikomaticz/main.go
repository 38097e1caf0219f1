// Oikomaticz - home automation hub.
//
// This is the main entry point. It loads the configuration, opens the
// database, starts the hardware adapters and the mainworker that turns
// their readings into device updates, and serves the REST and WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/oikomaticz/oikomaticz-core/migrations"

	"github.com/oikomaticz/oikomaticz-core/internal/api"
	"github.com/oikomaticz/oikomaticz-core/internal/audit"
	"github.com/oikomaticz/oikomaticz-core/internal/auth"
	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/eventsystem"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware/apsystems"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware/evohome"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware/harmony"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware/lyric"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware/modbusmeter"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware/p1"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware/tuya"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/database"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/influxdb"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/logging"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/mqtt"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
	"github.com/oikomaticz/oikomaticz-core/internal/metrics"
	"github.com/oikomaticz/oikomaticz-core/internal/mqttbridge"
	"github.com/oikomaticz/oikomaticz-core/internal/notify"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// housekeepingInterval is how often expired refresh tokens and old
	// event log entries are removed.
	housekeepingInterval = 6 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled. Deferred
// calls stop components in reverse start order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Oikomaticz",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"hardware", len(cfg.Hardware),
	)

	// ─── Storage ───────────────────────────────────────────────────

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// ─── External connections ──────────────────────────────────────

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"base_topic", cfg.MQTT.BaseTopic,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// ─── Devices & dispatch ────────────────────────────────────────

	deviceRepo := device.NewSQLiteRepository(db.DB)
	devices := device.NewRegistry(deviceRepo)
	devices.SetLogger(log)
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading devices: %w", refreshErr)
	}

	worker := mainworker.New(devices, mainworker.Options{
		QueueSize:        cfg.MainWorker.QueueSize,
		HistoryRetention: time.Duration(cfg.MainWorker.HistoryDays) * 24 * time.Hour,
	})
	worker.SetLogger(log)
	worker.SetHistory(deviceRepo)

	hub := api.NewHub(cfg.WebSocket, log)

	collector, err := metrics.New(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}
	collector.SetLogger(log)
	collector.SetStatsSource(worker)
	defer collector.Close() //nolint:errcheck // Best-effort StatsD flush on shutdown

	notifier := notify.NewManager(notify.NewSQLiteStore(db.DB), notifyTransports(cfg.Notifications), cfg.Notifications)
	notifier.SetLogger(log)
	if loadErr := notifier.LoadThresholds(ctx); loadErr != nil {
		return fmt.Errorf("loading notification thresholds: %w", loadErr)
	}
	defer notifier.Wait()

	ruleRepo := eventsystem.NewSQLiteRepository(db.DB)
	rules := eventsystem.NewRegistry(ruleRepo)
	rules.SetLogger(log)
	if refreshErr := rules.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading rules: %w", refreshErr)
	}
	targets := eventsystem.Targets{
		Commander: worker,
		Notifier:  notifier,
		Hub:       hub,
	}
	if mqttClient != nil {
		targets.MQTT = mqttClient
	}
	engine := eventsystem.NewEngine(rules, ruleRepo, targets, log)

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB))
	recorder.SetLogger(log)

	// Subscribers run in this order for every change.
	worker.AddSubscriber(hub)
	worker.AddSubscriber(collector)
	worker.AddSubscriber(notifier)
	worker.AddSubscriber(engine)
	worker.AddSubscriber(recorder)
	if influxClient != nil {
		worker.AddSubscriber(influxdb.NewSubscriber(influxClient))
	}

	var bridge *mqttbridge.Bridge
	if mqttClient != nil {
		bridge = mqttbridge.New(mqttClient, worker, mqtt.NewTopics(cfg.MQTT.BaseTopic), byte(cfg.MQTT.QoS))
		bridge.SetLogger(log)
		worker.AddSubscriber(bridge)
	}

	if startErr := worker.Start(ctx); startErr != nil {
		return fmt.Errorf("starting mainworker: %w", startErr)
	}
	defer func() {
		if stopErr := worker.Stop(); stopErr != nil {
			log.Error("error stopping mainworker", "error", stopErr)
		}
	}()
	log.Info("mainworker started", "subscribers", worker.Subscribers(), "devices", devices.Count())

	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting rule engine: %w", startErr)
	}
	defer func() {
		if stopErr := engine.Stop(); stopErr != nil {
			log.Error("error stopping rule engine", "error", stopErr)
		}
	}()

	if bridge != nil {
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
	}

	go collector.Run(ctx)

	// ─── Hardware ──────────────────────────────────────────────────

	factory, err := newFactory()
	if err != nil {
		return err
	}
	hw := hardware.NewManager(factory, worker)
	hw.SetLogger(log)
	hw.AddListener(hub)
	hw.AddListener(collector)
	hw.AddListener(notifier)
	hw.AddListener(recorder)
	worker.SetResolver(hw)

	// A misconfigured or failing adapter is left in the failed state and
	// shows up in the hardware status; the rest of the hub keeps running.
	if loadErr := hw.Load(cfg.Hardware); loadErr != nil {
		log.Warn("some hardware could not be loaded", "error", loadErr)
	}
	if startErr := hw.Start(ctx); startErr != nil {
		log.Warn("some hardware failed to start", "error", startErr)
	}
	defer func() {
		if stopErr := hw.Stop(); stopErr != nil {
			log.Error("error stopping hardware", "error", stopErr)
		}
	}()

	// ─── Accounts & API ────────────────────────────────────────────

	users := auth.NewUserRepository(db.DB)
	authService := auth.NewService(users, auth.NewTokenRepository(db.DB), cfg.Security.JWT)
	authService.SetLogger(log)
	if _, seedErr := auth.SeedAdmin(ctx, users, cfg.Security.AdminPassword, log); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	deps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		RateLimit:     cfg.Security.RateLimit,
		Logger:        log,
		Version:       version,
		Auth:          authService,
		Devices:       devices,
		History:       deviceRepo,
		Worker:        worker,
		Hardware:      hw,
		Rules:         rules,
		Runner:        engine,
		Executions:    ruleRepo,
		Notifications: notifier,
		EventLog:      recorder,
		Hub:           hub,
	}
	if cfg.Metrics.Prometheus.Enabled {
		deps.Metrics = collector.Handler()
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

	go housekeeping(ctx, authService, recorder, time.Duration(cfg.EventLog.RetentionDays)*24*time.Hour, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns the configuration file path.
// Uses OIKOMATICZ_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OIKOMATICZ_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newFactory registers every built-in hardware adapter.
func newFactory() (*hardware.Factory, error) {
	factory := hardware.NewFactory()
	ctors := map[string]hardware.Constructor{
		p1.TypeName:          p1.New,
		tuya.TypeName:        tuya.New,
		apsystems.TypeName:   apsystems.New,
		evohome.TypeName:     evohome.New,
		lyric.TypeName:       lyric.New,
		harmony.TypeName:     harmony.New,
		modbusmeter.TypeName: modbusmeter.New,
	}
	var errs []error
	for typ, ctor := range ctors {
		if err := factory.Register(typ, ctor); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("registering hardware types: %w", err)
	}
	return factory, nil
}

// notifyTransports builds the enabled notification transports.
func notifyTransports(cfg config.NotificationsConfig) []notify.Notifier {
	var transports []notify.Notifier
	if cfg.Pushover.Enabled {
		transports = append(transports, notify.NewPushover(cfg.Pushover))
	}
	if cfg.Webhook.Enabled {
		transports = append(transports, notify.NewWebhook(cfg.Webhook))
	}
	return transports
}

// housekeeping removes expired refresh tokens and old event log entries
// on start and then periodically until ctx ends.
func housekeeping(ctx context.Context, tokens *auth.Service, events *audit.Recorder, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		if n, err := tokens.PurgeExpired(ctx); err != nil {
			log.Warn("purging expired tokens failed", "error", err)
		} else if n > 0 {
			log.Info("expired refresh tokens purged", "count", n)
		}
		if retention > 0 {
			events.Prune(ctx, retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
