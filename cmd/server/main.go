package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ppe-sentinel/config"
	"ppe-sentinel/internal/api/handlers"
	"ppe-sentinel/internal/cleanup"
	"ppe-sentinel/internal/core/detection"
	"ppe-sentinel/internal/core/processor"
	"ppe-sentinel/internal/db"
	"ppe-sentinel/internal/db/repository"
	"ppe-sentinel/internal/ingest"
	"ppe-sentinel/internal/integrations/homeassistant"
	"ppe-sentinel/internal/integrations/mqtt"
	"ppe-sentinel/internal/integrations/opencv"
	"ppe-sentinel/internal/locale"
	"ppe-sentinel/internal/logger"
	"ppe-sentinel/internal/metrics"
	"ppe-sentinel/internal/preview"
	"ppe-sentinel/internal/sse"
	"ppe-sentinel/internal/util/timezone"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConfigPath = "/config/config.yaml"
	previewStreams    = 64
	alertQueueSize    = 256
	shutdownTimeout   = 10 * time.Second
)

func main() {
	configPath := flag.String("config", envOr("PPE_SENTINEL_CONFIG", defaultConfigPath), "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile, err := logger.Init(cfg.Log)
	if err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	timezone.Initialize(cfg.Server.Timezone)

	if err := run(cfg); err != nil {
		log.Fatalf("Server stopped with error: %v", err)
	}
	log.Info("Server exited gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Initializing database...")
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			log.Errorf("Failed to close database: %v", err)
		}
	}()
	store := repository.NewSQLiteStore(gdb)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineMetrics := metrics.NewEngine(registry)

	translator, err := locale.NewTranslator(cfg.I18n.DefaultLanguage)
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	cv := opencv.NewService(cfg.OpenCV)
	previews := preview.NewBuffer(previewStreams)
	hub := sse.NewHub()

	g, gctx := errgroup.WithContext(ctx)

	listeners := []processor.Listener{hub}

	mqttClient := mqtt.NewClient(cfg.MQTT)
	if cfg.MQTT.Enabled && cfg.MQTT.PublishAlerts {
		topics := homeassistant.Topics{Prefix: cfg.MQTT.TopicPrefix}
		var discovery *homeassistant.DiscoveryManager
		if cfg.MQTT.HomeAssistant {
			discovery = homeassistant.NewDiscoveryManager(mqttClient, topics, mqttClient.AvailabilityTopic())
		}
		alerts := homeassistant.NewPublisher(mqttClient, topics, discovery, alertQueueSize)
		listeners = append(listeners, alerts)
		g.Go(func() error { return alerts.Run(gctx) })
	}

	deps := processor.Dependencies{
		Classifier:    detection.NewClassifier(cfg.Violation.Prefixes, cfg.Violation.Labels),
		Store:         store,
		Encoder:       cv,
		Texts:         translator.Overlay(cfg.I18n.DefaultLanguage),
		Listeners:     listeners,
		Metrics:       engineMetrics,
		Sustain:       cfg.Engine.SustainDuration,
		InsertTimeout: cfg.Engine.InsertTimeout,
	}
	if cv.Enabled() {
		deps.Renderer = cv
	}

	// the manager outlives the signal context so queued frames can drain
	manager := processor.NewManager(context.Background(), deps, cfg.Engine.QueueSize)
	manager.OnOutcome(func(camera string, out processor.Outcome) {
		if out.Annotated == nil {
			return
		}
		data, err := cv.Encode(out.Annotated)
		if err != nil {
			log.WithField("camera", camera).Debugf("Failed to encode preview: %v", err)
			return
		}
		previews.Update(camera, out.Event.State.String(), data)
	})

	ingestor := ingest.NewIngestor(manager, cv, cfg)

	if cfg.MQTT.Enabled {
		mqttClient.RegisterHandler(ingestor)
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to connect to MQTT broker: %v. Frames are accepted over HTTP only.", err)
		}
	}

	g.Go(func() error { return hub.Run(gctx) })

	cleanupService := cleanup.NewService(store, cfg.Cleanup)
	g.Go(func() error { return cleanupService.Start(gctx) })

	var mqttStatus handlers.ConnectionChecker
	if cfg.MQTT.Enabled {
		mqttStatus = mqttClient
	}

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.Dependencies{
		Config:     cfg,
		Store:      store,
		Streams:    manager,
		Ingestor:   ingestor,
		Hub:        hub,
		Previews:   previews,
		Translator: translator,
		Gatherer:   registry,
		MQTT:       mqttStatus,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Infof("Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server forced to shutdown: %v", err)
		}

		mqttClient.Stop()
		manager.Shutdown()
		return nil
	})

	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
