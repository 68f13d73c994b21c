// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/patrol_tracker/internal/board"
)

// Display is a panel that accepts full frames.
type Display interface {
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Bounds() image.Rectangle
	Halt() error
}

// OpenOLED initializes periph, opens the I2C bus (empty name picks the
// first one) and an SSD1306 panel on it. The returned closer releases the
// bus.
func OpenOLED(busName string) (Display, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}
	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("broadcast: OLED display initialized on I2C bus %q", bus.String())
	return dev, bus, nil
}

// DisplaySink redraws the fleet summary on a Display at most once per
// interval.
type DisplaySink struct {
	dev      Display
	closer   io.Closer
	interval time.Duration
	last     time.Time
}

func NewDisplaySink(dev Display, closer io.Closer, interval time.Duration) *DisplaySink {
	return &DisplaySink{dev: dev, closer: closer, interval: interval}
}

func (s *DisplaySink) Name() string { return "display" }

func (s *DisplaySink) Send(_ context.Context, msg Message) error {
	if !s.last.IsZero() && msg.At.Sub(s.last) < s.interval {
		return nil
	}
	s.last = msg.At
	return s.dev.Draw(s.dev.Bounds(), board.RenderOLED(msg.Batch), image.Point{})
}

func (s *DisplaySink) Close() error {
	err := s.dev.Halt()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}
