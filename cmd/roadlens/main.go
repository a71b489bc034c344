// Command roadlens runs the road-traffic analytics engine: capture,
// detection, tracking, zone aggregation, and the HTTP/NATS surface,
// wired from a single TOML configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roadlens/roadlens/internal/capture"
	"github.com/roadlens/roadlens/internal/config"
	"github.com/roadlens/roadlens/internal/core"
	"github.com/roadlens/roadlens/internal/database"
	"github.com/roadlens/roadlens/internal/logging"
	"github.com/roadlens/roadlens/internal/mjpeg"
	"github.com/roadlens/roadlens/internal/persistence"
	"github.com/roadlens/roadlens/internal/pipeline"
	"github.com/roadlens/roadlens/internal/publisher"
	"github.com/roadlens/roadlens/internal/rollup"
	"github.com/roadlens/roadlens/internal/store"
	"github.com/roadlens/roadlens/internal/tracking"
	"github.com/roadlens/roadlens/internal/trafficapi"
	"github.com/roadlens/roadlens/internal/zone"
	"github.com/roadlens/roadlens/internal/zoneconfig"
)

const defaultDataPath = "/data"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logRing := logging.NewRing(1000)
	logger := slog.New(logging.NewHandler(logRing, os.Stdout, logLevel))
	slog.SetDefault(logger)

	dataPath := getEnv("DATA_PATH", defaultDataPath)
	configPath := getEnv("CONFIG_PATH", dataPath+"/roadlens.toml")

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", configPath)
		os.Exit(1)
	}
	if err := cfg.Watch(); err != nil {
		slog.Warn("failed to watch configuration file", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(database.DefaultConfig(dataPath))
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	persist := persistence.New(db)
	if err := persist.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	st := store.New(os.Getenv("LOG_LEVEL") == "debug")
	if err := loadZones(ctx, persist, cfg, st); err != nil {
		slog.Error("failed to load zone set", "error", err)
		os.Exit(1)
	}

	portManager := core.GetPortManager()
	eventBusCfg := core.DefaultEventBusConfig()
	eventBusCfg.PortManager = portManager
	eventBus, err := core.NewEventBus(eventBusCfg, logger)
	if err != nil {
		slog.Error("failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Stop()

	pub := publisher.New(eventBus, publisher.DefaultSubject, logger)

	pipelineCfg := pipeline.Config{
		ClassWhitelist:               cfg.Detection.NetClasses,
		MinConfidence:                cfg.Detection.ConfThreshold,
		NMSThreshold:                 cfg.Detection.NMSThreshold,
		Engine:                       cfg.Tracking.Engine,
		IOUThreshold:                 cfg.Tracking.IOUThreshold,
		HighThresh:                   cfg.Tracking.HighThresh,
		LowThresh:                    cfg.Tracking.LowThresh,
		MaxConsecutiveDecodeFailures: 60,
		Tracker: tracking.Config{
			MaxNoMatch:           cfg.Tracking.MaxNoMatch,
			MaxTrackLength:       cfg.Tracking.MaxPointsInTrack,
			MinTrackAge:          cfg.Tracking.MinTrackAge,
			MinThresholdDistance: cfg.Tracking.MinThresholdDist,
		},
	}

	var src pipeline.Capture = capture.NewHTTPPoller(cfg.Input.VideoSrc, 5)
	var det pipeline.Detector = pipeline.NullDetector{}

	p := pipeline.New(src, det, st, pipelineCfg, logger)

	rollupPeriod := time.Duration(cfg.Worker.ResetDataMilliseconds) * time.Millisecond
	worker := rollup.New(st, rollupPeriod, logger)
	worker.OnWindow = func(r rollup.WindowResult) {
		if err := persist.RecordWindow(ctx, r.ZoneID, r.Stats); err != nil {
			slog.Warn("failed to persist rollup window", "zone", r.ZoneID, "error", err)
		}
	}
	worker.OnTick = pub.OnTick

	var streamHub *mjpeg.Hub
	if cfg.Output.Enable {
		streamHub = mjpeg.NewHub(logger)
		go streamHub.Run()
		p.OnFrame = func(f pipeline.Frame) { streamHub.Publish(f.Data) }
	}

	apiServer := trafficapi.New(st, cfg, p, func() trafficapi.Counters {
		return trafficapi.Counters{
			FramesDropped:   p.Counters.FramesDropped,
			DetectorErrors:  p.Counters.DetectorErrors,
			DecodeFailures:  p.Counters.DecodeFailures,
			FramesProcessed: p.Counters.FramesProcessed,
		}
	}, logger).
		WithDatabase(db).
		WithHistory(persist).
		WithLogRing(logRing).
		WithBusHealth(eventBus.HealthCheck)
	if streamHub != nil {
		apiServer = apiServer.WithStream(streamHub.ServeHTTP)
	}

	router := apiServer.Routes()

	addr := fmt.Sprintf("%s:%d", cfg.RestAPI.Host, cfg.RestAPI.BackEndPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go worker.Run(ctx)
	go func() {
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("pipeline stopped", "error", err)
			cancel()
		}
	}()

	if cfg.RestAPI.Enable {
		go func() {
			slog.Info("traffic API starting", "address", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("traffic API server error", "error", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("traffic API shutdown error", "error", err)
	}
}

// loadZones populates the store from persisted zone rows, falling back
// to the configuration document's road_lanes on first run.
func loadZones(ctx context.Context, persist *persistence.Store, cfg *config.Config, st *store.SharedStore) error {
	zones, err := persist.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("load persisted zones: %w", err)
	}

	if len(zones) == 0 {
		for _, lane := range cfg.Lanes() {
			spec, err := zoneconfig.ToSpec(lane)
			if err != nil {
				return fmt.Errorf("convert road lane: %w", err)
			}
			z, err := zone.New(spec)
			if err != nil {
				return fmt.Errorf("build zone from road lane: %w", err)
			}
			zones = append(zones, z)
		}
		if len(zones) > 0 {
			if err := persist.SaveZones(ctx, zones); err != nil {
				return fmt.Errorf("persist bootstrap zones: %w", err)
			}
		}
	}

	for _, z := range zones {
		st.AddZone(z)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
