// Package metrics is a fire-and-forget sink; nothing here may fail the caller.
package metrics

import (
	"sync"
	"time"
)

// Labels tag every sample with the hub and the shard stream it came from.
type Labels struct {
	Hub    string
	Source string
}

type Sink interface {
	Gauge(name string, value float64, l Labels)
	Timing(name string, d time.Duration, l Labels)
	Count(name string, n int, l Labels)
}

type Nop struct{}

func (Nop) Gauge(string, float64, Labels)        {}
func (Nop) Timing(string, time.Duration, Labels) {}
func (Nop) Count(string, int, Labels)            {}

// Memory records the latest gauge, every timing and running counters.
type Memory struct {
	mu      sync.Mutex
	gauges  map[string]float64
	timings map[string][]time.Duration
	counts  map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		gauges:  map[string]float64{},
		timings: map[string][]time.Duration{},
		counts:  map[string]int{},
	}
}

func (m *Memory) Gauge(name string, v float64, _ Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = v
}

func (m *Memory) Timing(name string, d time.Duration, _ Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings[name] = append(m.timings[name], d)
}

func (m *Memory) Count(name string, n int, _ Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name] += n
}

func (m *Memory) GaugeValue(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.gauges[name]
	return v, ok
}

func (m *Memory) Timings(name string) []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.timings[name]...)
}

func (m *Memory) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}
