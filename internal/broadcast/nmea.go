// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package broadcast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/patrol_tracker/internal/geo"
	"github.com/relabs-tech/patrol_tracker/internal/gps"
)

// OpenSerial opens a serial port for NMEA output (8N1).
func OpenSerial(portName string, baud uint) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", portName, err)
	}
	log.Printf("broadcast: NMEA serial port opened on %s at %d baud", portName, baud)
	return port, nil
}

type lastFix struct {
	at  time.Time
	pos geo.Point
}

// NMEASink writes one RMC sentence per unit at most once per interval. Speed
// over ground is derived from the distance covered since the previous
// sentence for the same unit.
type NMEASink struct {
	w        io.Writer
	interval time.Duration

	last time.Time
	prev map[string]lastFix
}

// NewNMEASink writes to w. If w is also an io.Closer it is closed with the
// sink.
func NewNMEASink(w io.Writer, interval time.Duration) *NMEASink {
	return &NMEASink{w: w, interval: interval, prev: make(map[string]lastFix)}
}

func (s *NMEASink) Name() string { return "nmea" }

func (s *NMEASink) Send(_ context.Context, msg Message) error {
	if !s.last.IsZero() && msg.At.Sub(s.last) < s.interval {
		return nil
	}
	s.last = msg.At

	bw := bufio.NewWriter(s.w)
	seen := make(map[string]bool, len(msg.Batch))
	for _, u := range msg.Batch {
		seen[u.ID] = true
		pos := geo.Point{Lat: u.Lat, Lng: u.Lng}

		var knots float64
		if p, ok := s.prev[u.ID]; ok {
			if dt := msg.At.Sub(p.at).Seconds(); dt > 0 {
				knots = geo.Haversine(p.pos, pos) / dt * gps.KnotsPerMeterPerSecond
			}
		}
		s.prev[u.ID] = lastFix{at: msg.At, pos: pos}

		line := gps.EncodeRMC(gps.Fix{
			Time:       msg.At,
			Latitude:   u.Lat,
			Longitude:  u.Lng,
			SpeedKnots: knots,
			CourseDeg:  u.Bearing,
			Valid:      true,
		})
		if _, err := bw.WriteString(line + "\r\n"); err != nil {
			return err
		}
	}
	for id := range s.prev {
		if !seen[id] {
			delete(s.prev, id)
		}
	}
	return bw.Flush()
}

func (s *NMEASink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
