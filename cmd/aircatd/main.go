// AirCat Gateway
//
// aircatd accepts TCP connections from AirCat air-quality monitors,
// acknowledges their telemetry frames, and keeps the latest status of every
// device. It serves a JSON snapshot to HTTP GETs on the device port, and
// optionally republishes readings over MQTT, records device sightings in
// SQLite, and exposes a management API with Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/aircat-gateway/migrations"

	"github.com/nerrad567/aircat-gateway/internal/api"
	"github.com/nerrad567/aircat-gateway/internal/bridges/aircat"
	"github.com/nerrad567/aircat-gateway/internal/device"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/config"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/database"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/aircat-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/aircat-gateway/internal/sensor"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component from configuration and blocks until ctx is
// cancelled or a component fails. Deferred closes run in reverse order:
// health reporter, API, reactor, dispatcher, MQTT, database.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting AirCat gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	registry := device.NewRegistry()
	registry.SetLogger(log)

	sensors, err := sensor.Build(cfg.Sensors.Name, cfg.Sensors.Devices, cfg.Sensors.Types)
	if err != nil {
		return fmt.Errorf("building sensors: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := aircat.NewMetrics(promReg)
	if err != nil {
		return err
	}

	dispatcher := aircat.NewDispatcher(aircat.DispatcherConfig{
		Workers:   cfg.Dispatcher.Workers,
		QueueSize: cfg.Dispatcher.QueueSize,
		Metrics:   metrics,
		Logger:    log.With("component", "dispatcher"),
	})
	dispatcher.AddSink(aircat.GaugeSink{Metrics: metrics, Types: sensor.Types(sensors)})

	// Sightings ledger (optional)
	var (
		db        *database.DB
		sightings device.SightingRepository
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		sightings = device.NewSQLiteSightingRepository(db.DB)
		dispatcher.AddSink(aircat.SightingSink{Repo: sightings})
	} else {
		log.Info("sightings ledger disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		publisher := aircat.NewStatePublisher(aircat.StatePublisherConfig{
			Publisher: mqttClient,
			Topics:    mqttClient.Topics(),
			QoS:       byte(cfg.MQTT.QoS),
			GatewayID: cfg.Gateway.ID,
			Sensors:   sensors,
			Registry:  registry,
			Logger:    log.With("component", "mqtt_publisher"),
		})
		dispatcher.AddSink(publisher)

		snapshotTopic := mqttClient.Topics().SnapshotRequest()
		if subErr := mqttClient.Subscribe(snapshotTopic, byte(cfg.MQTT.QoS), publisher.HandleSnapshotRequest); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", snapshotTopic, subErr)
		}
	} else {
		log.Info("MQTT disabled")
	}

	hub := api.NewHub(cfg.WebSocket, registry, log.With("component", "websocket"))
	dispatcher.AddSink(aircat.BroadcastSink{Broadcaster: hub})

	dispatcher.Start(ctx)
	defer func() {
		dispatcher.Stop()
		log.Info("dispatcher stopped",
			"handled", dispatcher.Handled(),
			"dropped", dispatcher.Dropped(),
			"sink_errors", dispatcher.SinkErrors(),
		)
	}()

	reactor, err := aircat.New(aircat.Options{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		Backlog:        cfg.Gateway.Backlog,
		ReadTimeout:    cfg.Gateway.ReadTimeout,
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		ReadBufferSize: cfg.Gateway.ReadBufferSize,
		EventQueueSize: cfg.Gateway.EventQueueSize,
		Registry:       registry,
		Submitter:      dispatcher,
		Metrics:        metrics,
		Logger:         log.With("component", "aircat"),
	})
	if err != nil {
		return fmt.Errorf("creating reactor: %w", err)
	}
	// Listen before anything reports healthy, so a bad port fails startup.
	if err := reactor.Start(ctx); err != nil {
		return fmt.Errorf("starting reactor: %w", err)
	}
	defer reactor.Stop()

	// Early returns below must also release the group's goroutines.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	switch cfg.Gateway.Mode {
	case config.ModePoll:
		poller := aircat.NewPoller(reactor, cfg.Gateway.PollInterval, cfg.Gateway.PollTimeout, log.With("component", "poller"))
		g.Go(func() error { return poller.Run(gctx) })
		log.Info("gateway running in poll mode", "interval", cfg.Gateway.PollInterval)
	default:
		g.Go(func() error { return reactor.Run(gctx) })
		log.Info("gateway running in reactor mode")
	}

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Metrics:   cfg.Metrics,
			Logger:    log.With("component", "api"),
			Registry:  registry,
			Sensors:   sensors,
			Sightings: sightings,
			Gateway:   reactor,
			Gatherer:  promReg,
			Hub:       hub,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if mqttClient != nil {
		reporter := aircat.NewHealthReporter(aircat.HealthReporterConfig{
			GatewayID: cfg.Gateway.ID,
			Version:   version,
			Interval:  cfg.Health.Interval,
			Publisher: mqttClient,
			Topics:    mqttClient.Topics(),
			Source:    reactor,
			Logger:    log.With("component", "health"),
		})
		if pubErr := reporter.PublishStarting(); pubErr != nil {
			log.Warn("failed to publish starting status", "error", pubErr)
		}
		reporter.Start(gctx)
		defer reporter.Stop()
	}

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"gateway_addr", reactor.Addr().String(),
		"sensors", len(sensors),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up", "devices", registry.Count())
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AIRCAT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AIRCAT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens SQLite and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", db.Path())

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // migration error takes precedence
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// connectMQTT connects to the broker and wires logging callbacks.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// healthCheck verifies the optional infrastructure connections.
// Nil arguments are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}
