package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/patrol_tracker/internal/broadcast"
	"github.com/relabs-tech/patrol_tracker/internal/config"
	"github.com/relabs-tech/patrol_tracker/internal/gps"
	"github.com/relabs-tech/patrol_tracker/internal/patrol"
)

// RunGPSBridge reads a live GPS receiver on the serial port and republishes
// every valid RMC fix as a one-unit batch on the live topic, so a real
// vehicle shows up next to the simulated fleet.
func RunGPSBridge() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("gps: configuration not loaded")
	}
	if cfg.GPSSerialPort == "" {
		return errors.New("gps: GPS_SERIAL_PORT is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- 1) Connect to MQTT broker ----
	clientID := fmt.Sprintf("%s-gps-%s", cfg.MQTTClientIDTracker, uuid.NewString()[:8])
	client, err := broadcast.DialMQTT(cfg.MQTTBroker, clientID)
	if err != nil {
		return err
	}
	fanout := broadcast.NewFanout(cfg.BroadcastQueue, cfg.PublishTimeout(), nil)
	fanout.Add(broadcast.NewMQTTSink(client))
	defer fanout.Close()

	// ---- 2) Open GPS serial port ----
	port, err := broadcast.OpenSerial(cfg.GPSSerialPort, uint(cfg.GPSBaudRate))
	if err != nil {
		return err
	}
	log.Printf("gps: serial port opened on %s at %d baud", cfg.GPSSerialPort, cfg.GPSBaudRate)

	// Closing the port unblocks the pending read.
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	err = bridgeNMEA(port, cfg.GPSUnitID, cfg.TopicLive, fanout)
	if ctx.Err() != nil {
		log.Println("gps: shutting down")
		return nil
	}
	return err
}

// bridgeNMEA publishes one batch per valid RMC line read from r. Other
// sentence types and noise are skipped. It returns nil at EOF.
func bridgeNMEA(r io.Reader, unitID, topic string, out patrol.Broadcaster) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fix, err := gps.ParseRMC(scanner.Text())
		if err != nil {
			if !errors.Is(err, gps.ErrNotRMC) {
				log.WithError(err).Debug("gps: skipping sentence")
			}
			continue
		}
		if !fix.Valid {
			continue
		}

		bearing := math.Mod(fix.CourseDeg, 360)
		if bearing < 0 {
			bearing += 360
		}
		out.Publish(topic, patrol.Batch{{
			ID:      unitID,
			Lat:     fix.Latitude,
			Lng:     fix.Longitude,
			Bearing: bearing,
		}})
		log.WithFields(log.Fields{
			"unit":  unitID,
			"lat":   fix.Latitude,
			"lng":   fix.Longitude,
			"knots": fix.SpeedKnots,
		}).Debug("gps: published live fix")
	}
	return scanner.Err()
}
