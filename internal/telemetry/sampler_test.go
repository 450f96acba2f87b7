package telemetry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps points in memory, sorted like the database query would
// return them.
type memStore struct {
	mu     sync.Mutex
	points map[int64]map[MetricType][]Point
	fail   error
}

func newMemStore() *memStore {
	return &memStore{points: make(map[int64]map[MetricType][]Point)}
}

func (s *memStore) Insert(_ context.Context, deviceID int64, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.points[deviceID] == nil {
		s.points[deviceID] = make(map[MetricType][]Point)
	}
	s.points[deviceID][p.Type] = append(s.points[deviceID][p.Type], p)
	return nil
}

func (s *memStore) Last(_ context.Context, deviceID int64, t MetricType) (*Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts := s.points[deviceID][t]
	if len(pts) == 0 {
		return nil, nil
	}
	last := pts[0]
	for _, p := range pts[1:] {
		if p.Timestamp.After(last.Timestamp) {
			last = p
		}
	}
	return &last, nil
}

func (s *memStore) Range(_ context.Context, deviceID int64, t MetricType) ([]Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts := append([]Point(nil), s.points[deviceID][t]...)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
	return pts, nil
}

func (s *memStore) DeleteBefore(_ context.Context, deviceID int64, t MetricType, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts := s.points[deviceID][t]
	kept := pts[:0]
	var pruned int64
	for _, p := range pts {
		if p.Timestamp.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, p)
	}
	s.points[deviceID][t] = kept
	return pruned, nil
}

func (s *memStore) count(deviceID int64, t MetricType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points[deviceID][t])
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func constPoll(value float64) PollFunc {
	return func(_ context.Context, _ int64, _ MetricType) (float64, string, error) {
		return value, "", nil
	}
}

func testPolicies() map[MetricType]RetentionPolicy {
	return map[MetricType]RetentionPolicy{
		MetricCPU: {SampleInterval: 5 * time.Minute, MaxAge: 3 * 24 * time.Hour},
	}
}

func TestSamplePersistsFirstPoint(t *testing.T) {
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewSampler(store, constPoll(42.5), testPolicies())
	s.SetClock(clock.Now)

	sample, err := s.Sample(context.Background(), 1, MetricCPU)
	require.NoError(t, err)
	assert.True(t, sample.Persisted)
	assert.Equal(t, 42.5, sample.Current)
	require.Len(t, sample.History, 1)
	assert.Equal(t, clock.Now(), sample.History[0].Timestamp)
}

func TestSampleThrottlesWithinInterval(t *testing.T) {
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	value := 10.0
	poll := func(_ context.Context, _ int64, _ MetricType) (float64, string, error) {
		return value, "", nil
	}
	s := NewSampler(store, poll, testPolicies())
	s.SetClock(clock.Now)

	_, err := s.Sample(context.Background(), 1, MetricCPU)
	require.NoError(t, err)

	// One minute later: live value is returned, nothing is persisted.
	clock.Advance(time.Minute)
	value = 20.0
	sample, err := s.Sample(context.Background(), 1, MetricCPU)
	require.NoError(t, err)
	assert.Equal(t, 20.0, sample.Current)
	assert.False(t, sample.Persisted)
	assert.Equal(t, 1, store.count(1, MetricCPU))

	// Five more minutes: past the interval, the point is accepted.
	clock.Advance(5 * time.Minute)
	value = 30.0
	sample, err = s.Sample(context.Background(), 1, MetricCPU)
	require.NoError(t, err)
	assert.True(t, sample.Persisted)
	assert.Equal(t, 2, store.count(1, MetricCPU))
	require.Len(t, sample.History, 2)
	assert.Equal(t, 10.0, sample.History[0].Value)
	assert.Equal(t, 30.0, sample.History[1].Value)
}

func TestSamplePrunesExpiredHistory(t *testing.T) {
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewSampler(store, constPoll(50), testPolicies())
	s.SetClock(clock.Now)

	// Seed a point four days old, outside the three-day window.
	stale := Point{Type: MetricCPU, Value: 1, Timestamp: clock.Now().Add(-4 * 24 * time.Hour)}
	require.NoError(t, store.Insert(context.Background(), 1, stale))
	fresh := Point{Type: MetricCPU, Value: 2, Timestamp: clock.Now().Add(-time.Hour)}
	require.NoError(t, store.Insert(context.Background(), 1, fresh))

	sample, err := s.Sample(context.Background(), 1, MetricCPU)
	require.NoError(t, err)
	assert.True(t, sample.Persisted)

	// The stale point is gone, the fresh one and the new one remain.
	require.Len(t, sample.History, 2)
	assert.Equal(t, 2.0, sample.History[0].Value)
	assert.Equal(t, 50.0, sample.History[1].Value)
}

func TestSamplePollFailureLeavesStoreUntouched(t *testing.T) {
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	poll := func(_ context.Context, _ int64, _ MetricType) (float64, string, error) {
		return 0, "", errors.New("device unreachable")
	}
	s := NewSampler(store, poll, testPolicies())
	s.SetClock(clock.Now)

	_, err := s.Sample(context.Background(), 1, MetricCPU)
	require.Error(t, err)
	assert.Equal(t, 0, store.count(1, MetricCPU))
}

func TestSampleFallbackPolicy(t *testing.T) {
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewSampler(store, constPoll(3.3), testPolicies())
	s.SetClock(clock.Now)

	// voltage has no explicit policy; the default five-minute interval
	// applies.
	_, err := s.Sample(context.Background(), 1, MetricVoltage)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	sample, err := s.Sample(context.Background(), 1, MetricVoltage)
	require.NoError(t, err)
	assert.False(t, sample.Persisted)

	clock.Advance(time.Minute)
	sample, err = s.Sample(context.Background(), 1, MetricVoltage)
	require.NoError(t, err)
	assert.True(t, sample.Persisted)
}

func TestSampleSummary(t *testing.T) {
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	value := 10.0
	poll := func(_ context.Context, _ int64, _ MetricType) (float64, string, error) {
		return value, "", nil
	}
	s := NewSampler(store, poll, testPolicies())
	s.SetClock(clock.Now)

	for _, v := range []float64{10, 20, 60} {
		value = v
		_, err := s.Sample(context.Background(), 1, MetricCPU)
		require.NoError(t, err)
		clock.Advance(10 * time.Minute)
	}

	// The final sample persists the last polled value again, so the
	// history holds 10, 20, 60, 60.
	sample, err := s.Sample(context.Background(), 1, MetricCPU)
	require.NoError(t, err)
	require.NotNil(t, sample.Summary)
	assert.Equal(t, 10.0, sample.Summary.Min)
	assert.Equal(t, 60.0, sample.Summary.Max)
	assert.InDelta(t, 37.5, sample.Summary.Avg, 0.001)
}

func TestSampleMetadataCarried(t *testing.T) {
	store := newMemStore()
	poll := func(_ context.Context, _ int64, _ MetricType) (float64, string, error) {
		return 38, "C", nil
	}
	s := NewSampler(store, poll, testPolicies())

	sample, err := s.Sample(context.Background(), 1, MetricTemperature)
	require.NoError(t, err)
	assert.Equal(t, "C", sample.Metadata)
	require.Len(t, sample.History, 1)
	assert.Equal(t, "C", sample.History[0].Metadata)
}
