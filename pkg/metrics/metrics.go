// Package metrics keeps process-local operational gauges in an embedded
// tstorage database under the workdir.
package metrics

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

var (
	mu      sync.RWMutex
	storage tstorage.Storage
)

// InitMetrics opens the gauge store under workdir/metrics.
func InitMetrics(workdir string) error {
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("metrics: open storage: %w", err)
	}
	mu.Lock()
	storage = s
	mu.Unlock()
	return nil
}

// SetGauge records the current value of a named gauge.
func SetGauge(name string, value int64) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return
	}
	_ = storage.InsertRows([]tstorage.Row{
		{
			Metric: name,
			DataPoint: tstorage.DataPoint{
				Timestamp: time.Now().Unix(),
				Value:     float64(value),
			},
		},
	})
}

// Range returns the stored points of a gauge between start and end (unix
// seconds).
func Range(name string, start, end int64) ([]*tstorage.DataPoint, error) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return nil, fmt.Errorf("metrics: storage not initialized")
	}
	points, err := storage.Select(name, nil, start, end)
	if err != nil {
		return nil, fmt.Errorf("metrics: select %s: %w", name, err)
	}
	return points, nil
}

// Close flushes and closes the gauge store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
