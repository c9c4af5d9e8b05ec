// Package collector aggregates trial events and computes run metrics.
package collector

import (
	"sync"
	"time"

	"elbench/internal/core"
)

// Collector aggregates events from orchestrator workers. It keeps running
// sums rather than the events themselves, so memory stays flat however long
// a continuous run lasts.
type Collector struct {
	agg       *aggregate
	ch        chan core.Event
	done      chan struct{}
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewCollector creates a new Collector and starts its collection goroutine.
func NewCollector() *Collector {
	c := &Collector{
		agg:       newAggregate(),
		ch:        make(chan core.Event, 1000),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for event := range c.ch {
		c.mu.Lock()
		c.agg.add(event)
		c.mu.Unlock()
	}
	close(c.done)
}

// Report sends an event to the collector. Thread-safe. Blocks while the
// buffer is full; events are never dropped. Must not be called after Close.
func (c *Collector) Report(event core.Event) {
	c.ch <- event
}

// Close stops accepting events and waits until every queued event is stored.
func (c *Collector) Close() {
	c.mu.Lock()
	c.endTime = time.Now()
	c.mu.Unlock()
	close(c.ch)
	<-c.done
}

// Duration returns the collection duration.
// If the collector is closed, returns the duration from start to end.
// If still running, returns the duration from start to now.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// Compute returns metrics over the events collected so far.
func (c *Collector) Compute() *Metrics {
	duration := c.Duration()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agg.snapshot(duration)
}
