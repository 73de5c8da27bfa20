package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/motionlab-io/motiond/internal/config"
	"github.com/motionlab-io/motiond/internal/detector"
	"github.com/motionlab-io/motiond/internal/dispatcher"
	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/models"
	"github.com/motionlab-io/motiond/internal/sampler"
	"github.com/motionlab-io/motiond/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateAgent(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	transport, closeTransport := buildTransport(cfg)
	defer closeTransport()

	disp := dispatcher.New(transport, dispatcher.Config{
		MaxAttempts: cfg.Agent.Dispatcher.MaxAttempts,
		BackoffBase: cfg.Agent.Dispatcher.BackoffBase,
		BackoffMax:  cfg.Agent.Dispatcher.BackoffMax,
		QueueSize:   cfg.Agent.Dispatcher.QueueSize,
	})

	var stateStore detector.StateStore
	if cfg.Agent.Detector.PersistCooldownState {
		store, err := storage.New(cfg.Agent.Detector.StatePath)
		if err != nil {
			logger.Fatal("Failed to open detector state store: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close detector state store: %v", err)
			}
		}()
		stateStore = store
		logger.Info("Cooldown state persisted at %s", cfg.Agent.Detector.StatePath)
	}

	det := detector.New(stateStore, detector.Config{
		AnomalyThreshold: cfg.Agent.Detector.AnomalyThreshold,
		CooldownDuration: cfg.Agent.Detector.CooldownDuration,
		EmitNormalEvents: cfg.Agent.Detector.EmitNormalEvents,
	})

	// Simulated accelerometer: resting gravity with an impact spike roughly
	// every 10 seconds at the default 500ms sample interval.
	source := sampler.NewSimSource(time.Now().UnixNano(), 20, cfg.Agent.Detector.AnomalyThreshold*1.6)
	samp := sampler.New(cfg.Agent.DeviceID, cfg.Agent.SampleInterval, source)
	sub := samp.Subscribe(64)

	var location *models.Location
	if cfg.Agent.Location.Latitude != 0 || cfg.Agent.Location.Longitude != 0 {
		location = &models.Location{
			Latitude:  cfg.Agent.Location.Latitude,
			Longitude: cfg.Agent.Location.Longitude,
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Agent %s sampling every %v (threshold: %.2f, cooldown: %v, transport: %s)",
		cfg.Agent.DeviceID,
		cfg.Agent.SampleInterval,
		cfg.Agent.Detector.AnomalyThreshold,
		cfg.Agent.Detector.CooldownDuration,
		cfg.Agent.Dispatcher.Transport,
	)

	for {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cleaning up...")
			sub.Unsubscribe()
			det.Shutdown()
			disp.Shutdown()
			logger.Info("Agent stopped")
			return

		case sample, ok := <-sub.C:
			if !ok {
				logger.Error("Sample stream closed unexpectedly")
				det.Shutdown()
				disp.Shutdown()
				return
			}
			event := det.Process(sample)
			if event == nil {
				continue
			}
			event.Location = location
			battery := source.BatteryLevel()
			event.BatteryLevel = &battery
			disp.Submit(*event)
		}
	}
}

// buildTransport picks the delivery path from configuration. The returned
// cleanup is a no-op for HTTP.
func buildTransport(cfg *config.Config) (dispatcher.Transport, func()) {
	d := cfg.Agent.Dispatcher
	if d.Transport == "mqtt" {
		t, err := dispatcher.NewMQTTTransport(d.MQTT.BrokerURL, d.MQTT.Topic, d.MQTT.ClientID, d.Timeout)
		if err != nil {
			logger.Fatal("Failed to initialize MQTT transport: %v", err)
		}
		logger.Info("Publishing events to %s on topic %s", d.MQTT.BrokerURL, d.MQTT.Topic)
		return t, t.Close
	}
	return dispatcher.NewHTTPTransport(d.CollectorURL, d.Timeout), func() {}
}
