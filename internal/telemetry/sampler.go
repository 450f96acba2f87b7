// Package telemetry turns point-in-time device polls into bounded
// historical time series: each sample is throttled to a minimum persistence
// interval and history past the retention window is pruned on write.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// MetricType identifies one monitored value.
type MetricType string

const (
	MetricCPU         MetricType = "cpu"
	MetricTemperature MetricType = "temperature"
	MetricMemory      MetricType = "memory"
	MetricVoltage     MetricType = "voltage"
)

// Point is one immutable timestamped sample.
type Point struct {
	Type      MetricType `json:"type"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
	Metadata  string     `json:"metadata,omitempty"`
}

// RetentionPolicy bounds a metric's history: no two persisted points closer
// than SampleInterval, nothing older than MaxAge.
type RetentionPolicy struct {
	SampleInterval time.Duration
	MaxAge         time.Duration
}

// MetricStore is the persistence contract. Points are append/delete-only
// per (device, type); no cross-type locking is required.
type MetricStore interface {
	Insert(ctx context.Context, deviceID int64, p Point) error
	Last(ctx context.Context, deviceID int64, t MetricType) (*Point, error)
	Range(ctx context.Context, deviceID int64, t MetricType) ([]Point, error)
	DeleteBefore(ctx context.Context, deviceID int64, t MetricType, cutoff time.Time) (int64, error)
}

// PollFunc reads the live value of one metric from a device.
type PollFunc func(ctx context.Context, deviceID int64, t MetricType) (value float64, metadata string, err error)

// Summary aggregates the stored history.
type Summary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Sample is one sampling outcome: the live value plus the full stored
// history, timestamp ascending.
type Sample struct {
	Type      MetricType `json:"type"`
	Current   float64    `json:"current"`
	Metadata  string     `json:"metadata,omitempty"`
	Persisted bool       `json:"persisted"`
	History   []Point    `json:"history"`
	Summary   *Summary   `json:"summary,omitempty"`
}

// Sampler applies retention policies per metric type.
type Sampler struct {
	store    MetricStore
	poll     PollFunc
	policies map[MetricType]RetentionPolicy
	fallback RetentionPolicy
	now      func() time.Time
}

func NewSampler(store MetricStore, poll PollFunc, policies map[MetricType]RetentionPolicy) *Sampler {
	return &Sampler{
		store:    store,
		poll:     poll,
		policies: policies,
		fallback: RetentionPolicy{SampleInterval: 5 * time.Minute, MaxAge: 3 * 24 * time.Hour},
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Sampler) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Sampler) policy(t MetricType) RetentionPolicy {
	if p, ok := s.policies[t]; ok {
		return p
	}
	return s.fallback
}

// Sample polls the device and returns the live value regardless of
// persistence outcome. The point is persisted only when the previous
// stored point is at least SampleInterval old (or none exists); on
// acceptance, history older than MaxAge is pruned. A poll failure is
// surfaced as an error without touching stored history.
func (s *Sampler) Sample(ctx context.Context, deviceID int64, t MetricType) (*Sample, error) {
	value, metadata, err := s.poll(ctx, deviceID, t)
	if err != nil {
		return nil, fmt.Errorf("telemetry: poll %s: %w", t, err)
	}

	now := s.now()
	policy := s.policy(t)

	last, err := s.store.Last(ctx, deviceID, t)
	if err != nil {
		return nil, fmt.Errorf("telemetry: read last %s point: %w", t, err)
	}

	persisted := false
	if last == nil || now.Sub(last.Timestamp) >= policy.SampleInterval {
		p := Point{Type: t, Value: value, Timestamp: now, Metadata: metadata}
		if err := s.store.Insert(ctx, deviceID, p); err != nil {
			return nil, fmt.Errorf("telemetry: persist %s point: %w", t, err)
		}
		persisted = true

		cutoff := now.Add(-policy.MaxAge)
		pruned, err := s.store.DeleteBefore(ctx, deviceID, t, cutoff)
		if err != nil {
			zap.L().Warn("history prune failed",
				zap.Int64("device_id", deviceID),
				zap.String("metric_type", string(t)),
				zap.Error(err),
			)
		} else if pruned > 0 {
			zap.L().Debug("history pruned",
				zap.Int64("device_id", deviceID),
				zap.String("metric_type", string(t)),
				zap.Int64("points", pruned),
			)
		}
	}

	history, err := s.store.Range(ctx, deviceID, t)
	if err != nil {
		return nil, fmt.Errorf("telemetry: read %s history: %w", t, err)
	}

	return &Sample{
		Type:      t,
		Current:   value,
		Metadata:  metadata,
		Persisted: persisted,
		History:   history,
		Summary:   summarize(history),
	}, nil
}

func summarize(history []Point) *Summary {
	if len(history) == 0 {
		return nil
	}
	values := make([]float64, len(history))
	for i, p := range history {
		values[i] = p.Value
	}
	min, _ := stats.Min(values)
	max, _ := stats.Max(values)
	avg, _ := stats.Mean(values)
	return &Summary{Min: min, Max: max, Avg: avg}
}
