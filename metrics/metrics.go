// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	Decodes        = "image_decodes_total"
	DecodeFailures = "image_decode_failures_total"
	Evictions      = "image_evictions_total"
	ResidentBytes  = "image_resident_bytes"
)

// Registry keeps local counters and mirrors every change to an
// OpenTelemetry up-down counter of the same name.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64 // key = fullKey(name, labels)
	meter    metric.Meter
	otelCtrs map[string]metric.Int64UpDownCounter
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*atomic.Int64),
		meter:    otel.GetMeterProvider().Meter("svgaplayer"),
		otelCtrs: make(map[string]metric.Int64UpDownCounter),
	}
}

func fullKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (r *Registry) counter(key string) *atomic.Int64 {
	r.mu.RLock()
	c := r.counters[key]
	r.mu.RUnlock()
	if c != nil {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c = r.counters[key]; c == nil {
		c = new(atomic.Int64)
		r.counters[key] = c
	}
	return c
}

func (r *Registry) instrument(name string) metric.Int64UpDownCounter {
	r.mu.RLock()
	ctr, ok := r.otelCtrs[name]
	r.mu.RUnlock()
	if ok {
		return ctr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctr, ok = r.otelCtrs[name]; ok {
		return ctr
	}
	ctr, err := r.meter.Int64UpDownCounter(name)
	if err != nil {
		return nil
	}
	r.otelCtrs[name] = ctr
	return ctr
}

// Add changes a named value by n, which may be negative.
func (r *Registry) Add(ctx context.Context, name string, labels map[string]string, n int64) {
	if r == nil {
		return
	}
	r.counter(fullKey(name, labels)).Add(n)

	if ctr := r.instrument(name); ctr != nil {
		attrs := make([]attribute.KeyValue, 0, len(labels))
		for k, v := range labels {
			attrs = append(attrs, attribute.String(k, v))
		}
		ctr.Add(ctx, n, metric.WithAttributes(attrs...))
	}
}

func (r *Registry) Inc(ctx context.Context, name string, labels map[string]string) {
	r.Add(ctx, name, labels, 1)
}

// Value returns the local value of a counter, 0 if it was never touched.
func (r *Registry) Value(name string, labels map[string]string) int64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.counters[fullKey(name, labels)]; c != nil {
		return c.Load()
	}
	return 0
}

// Snapshot copies all local counters.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.counters))
	for k, c := range r.counters {
		out[k] = c.Load()
	}
	return out
}
