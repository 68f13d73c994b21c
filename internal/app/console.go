// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/patrol_tracker/internal/config"
	"github.com/relabs-tech/patrol_tracker/internal/patrol"
)

// consolePrinter is a Broadcaster that prints at most one batch per interval.
type consolePrinter struct {
	w        io.Writer
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (p *consolePrinter) Publish(_ string, batch patrol.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	printBatch(p.w, batch)
}

// RunConsole runs the simulation locally and prints the fleet to stdout,
// without a broker or web server.
func RunConsole() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("console: configuration not loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := patrol.New(patrol.Options{
		Source:      newSource(cfg),
		Provider:    newProvider(cfg),
		Broadcaster: &consolePrinter{w: os.Stdout, interval: consoleInterval, now: time.Now},
		Topic:       cfg.TopicVehicles,
		Params:      cfg.Params(),
		Concurrency: cfg.RouteConcurrency,
	})
	if err != nil {
		return err
	}
	sim.Run(ctx)
	return nil
}
