// Package connectivity reports whether the remote API is reachable and
// notifies listeners when that changes.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sensor answers a single reachability question.
type Sensor interface {
	Reachable(ctx context.Context) bool
}

// Oracle wraps a Sensor with a point-in-time check and change notifications.
type Oracle struct {
	sensor   Sensor
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	listeners map[int]func(online bool)
	nextID    int
	last      *bool
}

// NewOracle creates an Oracle. If interval is <= 0, it defaults to 5s.
func NewOracle(sensor Sensor, interval time.Duration) *Oracle {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Oracle{
		sensor:    sensor,
		interval:  interval,
		logger:    slog.Default(),
		listeners: make(map[int]func(bool)),
	}
}

// Check asks the sensor right now. Results are never cached.
func (o *Oracle) Check(ctx context.Context) bool {
	return o.sensor.Reachable(ctx)
}

// OnChange registers fn to be called with every observed transition.
// The returned function removes the registration.
func (o *Oracle) OnChange(fn func(online bool)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Run polls the sensor until ctx is cancelled. The first observation is
// always delivered; after that only transitions are.
func (o *Oracle) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		o.Observe(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.interval):
		}
	}
}

// Observe performs one poll and notifies listeners if the state changed.
// It returns the observed state.
func (o *Oracle) Observe(ctx context.Context) bool {
	online := o.sensor.Reachable(ctx)
	if ctx.Err() != nil {
		return online
	}

	o.mu.Lock()
	changed := o.last == nil || *o.last != online
	o.last = &online
	var fns []func(bool)
	if changed {
		fns = make([]func(bool), 0, len(o.listeners))
		for _, fn := range o.listeners {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()

	if changed {
		o.logger.Info("connectivity changed", "online", online)
		for _, fn := range fns {
			fn(online)
		}
	}
	return online
}
