package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/patrol_tracker/internal/config"
	"github.com/relabs-tech/patrol_tracker/internal/patrol"
)

// consoleInterval limits how often a batch is printed; batches arrive at the
// tick rate.
const consoleInterval = time.Second

// RunConsoleMQTT subscribes to the vehicles topic and prints the fleet about
// once per second until Ctrl+C.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("console: configuration not loaded")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(fmt.Sprintf("%s-%s", cfg.MQTTClientIDConsole, uuid.NewString()[:8]))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	var last time.Time
	token := client.Subscribe(cfg.TopicVehicles, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if time.Since(last) < consoleInterval {
			return
		}
		last = time.Now()

		var batch patrol.Batch
		if err := json.Unmarshal(msg.Payload(), &batch); err != nil {
			log.Printf("console: vehicles unmarshal error: %v", err)
			return
		}
		printBatch(os.Stdout, batch)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicVehicles)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func printBatch(w io.Writer, batch patrol.Batch) {
	sorted := append(patrol.Batch(nil), batch...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	fmt.Fprintf(w, "[FLEET] %d units\n", len(sorted))
	for _, u := range sorted {
		fmt.Fprintf(w, "[%-7s] lat=%.6f lng=%.6f bearing=%6.2f°\n", u.ID, u.Lat, u.Lng, u.Bearing)
	}
}
