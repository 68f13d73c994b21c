package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/patrol_tracker/internal/broadcast"
	"github.com/relabs-tech/patrol_tracker/internal/config"
	"github.com/relabs-tech/patrol_tracker/internal/fleet"
	"github.com/relabs-tech/patrol_tracker/internal/metrics"
	"github.com/relabs-tech/patrol_tracker/internal/patrol"
	"github.com/relabs-tech/patrol_tracker/internal/routing"
)

// RunTracker runs the simulation, its broadcast sinks and the web API until
// SIGINT/SIGTERM. config.InitGlobal must have been called with configPath.
func RunTracker(configPath string) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("tracker: configuration not loaded")
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// 1) Broadcast sinks
	fanout := broadcast.NewFanout(cfg.BroadcastQueue, cfg.PublishTimeout(), m)
	defer func() {
		if err := fanout.Close(); err != nil {
			log.WithError(err).Warn("tracker: error closing sinks")
		}
	}()
	hub := broadcast.NewHub(cfg.BroadcastQueue)
	fanout.Add(hub)
	attachSinks(cfg, fanout)

	// 2) Simulation
	sim, err := patrol.New(patrol.Options{
		Source:      newSource(cfg),
		Provider:    newProvider(cfg),
		Broadcaster: fanout,
		Topic:       cfg.TopicVehicles,
		Params:      cfg.Params(),
		Concurrency: cfg.RouteConcurrency,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	// 3) Live reload of tunables
	err = config.Watch(configPath, func(next *config.Config, err error) {
		if err != nil {
			log.WithError(err).Warn("config: reload rejected, keeping current settings")
			return
		}
		if err := sim.SetParams(next.Params()); err != nil {
			log.WithError(err).Warn("config: reload rejected, keeping current settings")
			return
		}
		log.SetLevel(next.LogLevel)
		log.Println("config: simulation tunables reloaded")
	})
	if err != nil {
		log.WithError(err).Warn("config: live reload disabled")
	}

	// 4) Web server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           NewRouter(sim, hub, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sim.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("web: server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("tracker: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newSource(cfg *config.Config) fleet.Source {
	if cfg.UnitsFile == "" {
		log.Println("tracker: using built-in unit list")
		return fleet.StaticSource(fleet.Seed())
	}
	log.Printf("tracker: reading units from %s", cfg.UnitsFile)
	return fleet.FileSource{Path: cfg.UnitsFile}
}

func newProvider(cfg *config.Config) routing.Provider {
	switch cfg.RouteProvider {
	case config.ProviderMapbox:
		return routing.NewMapbox(cfg.MapboxBaseURL, cfg.MapboxToken, cfg.RouteTimeout())
	case config.ProviderOSRM:
		return routing.NewOSRM(cfg.OSRMBaseURL, cfg.RouteTimeout())
	default:
		log.Println("tracker: no route provider, all patrols use straight-line checkpoints")
		return routing.Unavailable{}
	}
}

// attachSinks connects every configured transport. A transport that cannot
// be reached is logged and left out; the simulation runs without it.
func attachSinks(cfg *config.Config, fanout *broadcast.Fanout) {
	if cfg.MQTTBroker != "" {
		clientID := fmt.Sprintf("%s-%s", cfg.MQTTClientIDTracker, uuid.NewString()[:8])
		client, err := broadcast.DialMQTT(cfg.MQTTBroker, clientID)
		if err != nil {
			log.WithError(err).Error("tracker: MQTT unavailable, continuing without it")
		} else {
			fanout.Add(broadcast.NewMQTTSink(client))
		}
	}

	if cfg.NATSURL != "" {
		nc, err := broadcast.DialNATS(cfg.NATSURL, cfg.MQTTClientIDTracker)
		if err != nil {
			log.WithError(err).Error("tracker: NATS unavailable, continuing without it")
		} else {
			fanout.Add(broadcast.NewNATSSink(nc, cfg.NATSSubjectPrefix))
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		fanout.Add(broadcast.NewKafkaSink(broadcast.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)))
	}

	if cfg.NMEASerialPort != "" {
		port, err := broadcast.OpenSerial(cfg.NMEASerialPort, uint(cfg.NMEABaudRate))
		if err != nil {
			log.WithError(err).Error("tracker: NMEA output unavailable, continuing without it")
		} else {
			fanout.Add(broadcast.NewNMEASink(port, cfg.NMEAInterval()))
		}
	}

	if cfg.DisplayEnabled {
		dev, bus, err := broadcast.OpenOLED(cfg.DisplayI2CBus)
		if err != nil {
			log.WithError(err).Error("tracker: display unavailable, continuing without it")
		} else {
			fanout.Add(broadcast.NewDisplaySink(dev, bus, cfg.DisplayInterval()))
		}
	}
}
