// Package perf implements the cross-cutting performance coordinator: a
// memoized computation cache and the periodic sweep that keeps accessor
// caches from accumulating stale entries.
package perf

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/aretw0/trestle/internal/logging"
)

// Sweepable is anything owning evictable entries. Accessor caches and the
// memo cache register themselves with the coordinator.
type Sweepable interface {
	Sweep() int
}

// Coordinator owns the background cache sweep. Its lifecycle is explicit:
// Start launches the sweep goroutine, Stop tears it down; both are tied to
// the owning bridge's lifetime.
type Coordinator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	targets []Sweepable
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewCoordinator creates a coordinator sweeping at the given interval.
func NewCoordinator(interval time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger:   logging.Component(logger, "perf"),
		interval: interval,
	}
}

// Register adds a sweep target. Safe before or after Start.
func (c *Coordinator) Register(s Sweepable) {
	c.mu.Lock()
	c.targets = append(c.targets, s)
	c.mu.Unlock()
}

// Start launches the periodic sweep. Starting twice is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)
}

// Stop halts the sweep and waits for the goroutine to exit. Stopping a
// stopped coordinator is a no-op.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()
	<-done
}

func (c *Coordinator) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.SweepNow()
		}
	}
}

// SweepNow runs one sweep pass over every registered target.
func (c *Coordinator) SweepNow() int {
	c.mu.Lock()
	targets := append([]Sweepable(nil), c.targets...)
	c.mu.Unlock()

	total := 0
	for _, t := range targets {
		total += t.Sweep()
	}
	if total > 0 {
		c.logger.Debug("sweep reclaimed entries", "count", total)
	}
	return total
}

// OptimizeMemory sweeps immediately and nudges the collector. Explicit
// operator action, not part of the periodic cycle.
func (c *Coordinator) OptimizeMemory() {
	reclaimed := c.SweepNow()
	runtime.GC()
	c.logger.Info("memory optimization pass", "reclaimed", reclaimed)
}
