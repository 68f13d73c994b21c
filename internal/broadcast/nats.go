package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// DialNATS connects to a NATS server and keeps reconnecting forever.
func DialNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("broadcast: NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("broadcast: NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	log.Printf("broadcast: connected to NATS at %s", nc.ConnectedUrl())
	return nc, nil
}

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each batch on subject "{prefix}.{topic}".
type NATSSink struct {
	pub    natsPublisher
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	return &NATSSink{pub: conn, conn: conn, prefix: prefix}
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject a topic is published on.
func (s *NATSSink) Subject(topic string) string {
	if s.prefix == "" {
		return topic
	}
	return s.prefix + "." + topic
}

func (s *NATSSink) Send(_ context.Context, msg Message) error {
	return s.pub.Publish(s.Subject(msg.Topic), msg.Payload)
}

func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
