package broadcast

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// DialMQTT connects to an MQTT broker and waits for the connection.
func DialMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("broadcast: MQTT connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Printf("broadcast: connected to MQTT broker at %s", broker)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// MQTTSink publishes batches with QoS 0, not retained: a late subscriber
// waits for the next tick instead of receiving a stale position.
type MQTTSink struct {
	client mqtt.Client
}

func NewMQTTSink(client mqtt.Client) *MQTTSink {
	return &MQTTSink{client: client}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(ctx context.Context, msg Message) error {
	token := s.client.Publish(msg.Topic, 0, false, msg.Payload)

	wait := 200 * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt publish to %s: timed out after %s", msg.Topic, wait)
	}
	return token.Error()
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
