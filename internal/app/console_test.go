package app

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/patrol_tracker/internal/gps"
	"github.com/relabs-tech/patrol_tracker/internal/patrol"
)

func TestConsolePrinterThrottles(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &consolePrinter{w: &buf, interval: time.Second, now: func() time.Time { return now }}

	batch := patrol.Batch{{ID: "VTR-01", Lat: -25.4, Lng: -49.2, Bearing: 90}}
	p.Publish("vehicles", batch)
	now = now.Add(500 * time.Millisecond)
	p.Publish("vehicles", batch)
	now = now.Add(600 * time.Millisecond)
	p.Publish("vehicles", batch)

	assert.Equal(t, 2, strings.Count(buf.String(), "[FLEET] 1 units"))
}

type capture struct {
	mu      sync.Mutex
	topics  []string
	batches []patrol.Batch
}

func (c *capture) Publish(topic string, batch patrol.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.batches = append(c.batches, batch)
}

func TestBridgeNMEAPublishesValidFixes(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 20, 30, 0, time.UTC)
	valid := gps.EncodeRMC(gps.Fix{Time: at, Latitude: -25.44, Longitude: -49.27, SpeedKnots: 12, CourseDeg: 45, Valid: true})
	void := gps.EncodeRMC(gps.Fix{Time: at, Latitude: -25.44, Longitude: -49.27, Valid: false})

	input := strings.Join([]string{
		"garbage",
		"$GPGGA,102030.000,2526.4000,S,04916.2000,W,1,08,0.9,900.0,M,,,,*00", // bad checksum
		void,
		"",
		valid,
	}, "\r\n") + "\r\n"

	out := &capture{}
	require.NoError(t, bridgeNMEA(strings.NewReader(input), "LIVE-01", "vehicles/live", out))

	require.Len(t, out.batches, 1)
	assert.Equal(t, "vehicles/live", out.topics[0])
	require.Len(t, out.batches[0], 1)
	u := out.batches[0][0]
	assert.Equal(t, "LIVE-01", u.ID)
	assert.InDelta(t, -25.44, u.Lat, 1e-5)
	assert.InDelta(t, -49.27, u.Lng, 1e-5)
	assert.InDelta(t, 45, u.Bearing, 1e-9)
}
