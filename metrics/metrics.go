// Package metrics provides a small concurrent collector the settlement
// engine records operation counts and gauges into. Names are dot-separated
// (e.g. "portal.withdraw").
package metrics

import (
	"sort"
	"sync"
)

// Collector aggregates counters and gauges. All methods are safe for
// concurrent use. A nil *Collector is a valid no-op sink, so callers never
// have to guard their recording sites.
type Collector struct {
	mu       sync.RWMutex
	counters map[string]uint64
	gauges   map[string]float64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]uint64),
		gauges:   make(map[string]float64),
	}
}

// Inc increments a counter by one.
func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

// Add increments a counter by delta.
func (c *Collector) Add(name string, delta uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name] += delta
	c.mu.Unlock()
}

// Set records a gauge value, overwriting the previous one.
func (c *Collector) Set(name string, value float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.gauges[name] = value
	c.mu.Unlock()
}

// Counter returns the current value of a counter.
func (c *Collector) Counter(name string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Gauge returns the current value of a gauge and whether it was ever set.
func (c *Collector) Gauge(name string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.gauges[name]
	return v, ok
}

// Names returns all recorded metric names, sorted.
func (c *Collector) Names() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.counters)+len(c.gauges))
	for n := range c.counters {
		names = append(names, n)
	}
	for n := range c.gauges {
		if _, dup := c.counters[n]; !dup {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
