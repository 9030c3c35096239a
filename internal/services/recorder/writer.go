// Package recorder subscribes to the controller's telemetry topics and
// records the events in InfluxDB.
package recorder

import (
	"log"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Writer wraps the async WriteAPI and tracks the last write error for the
// health endpoints.
type Writer struct {
	api api.WriteAPI

	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

// NewWriter starts the listener for Influx's asynchronous write errors.
func NewWriter(w api.WriteAPI) *Writer {
	ww := &Writer{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = time.Now()
				ww.mu.Unlock()
				log.Printf("influx write error: %v", err)
			}
		}
	}()
	return ww
}

// LastErrorAge returns how long ago the last write error occurred.
func (w *Writer) LastErrorAge() time.Duration {
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// MarkIngest bumps the per-event-type ingest counter.
func (w *Writer) MarkIngest(eventType string) {
	w.mu.Lock()
	w.counts[eventType]++
	w.mu.Unlock()
}

// Count reads the ingest counter for an event type.
func (w *Writer) Count(eventType string) int64 {
	w.mu.RLock()
	c := w.counts[eventType]
	w.mu.RUnlock()
	return c
}
