package devices

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/routerman/internal/domain"
	"github.com/talkincode/routerman/internal/routeros"
)

type fakeRepo struct {
	mu      sync.Mutex
	devices map[int64]*domain.NetDevice
	updates []map[string]interface{}
}

func newFakeRepo(devs ...*domain.NetDevice) *fakeRepo {
	r := &fakeRepo{devices: make(map[int64]*domain.NetDevice)}
	for _, d := range devs {
		r.devices[d.ID] = d
	}
	return r
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*domain.NetDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	if !ok {
		return nil, errors.New("device not found")
	}
	return dev, nil
}

func (r *fakeRepo) GetActive(_ context.Context) (*domain.NetDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dev := range r.devices {
		if dev.Active {
			return dev, nil
		}
	}
	return nil, errors.New("no active device")
}

func (r *fakeRepo) ListEnabled(_ context.Context) ([]domain.NetDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.NetDevice
	for _, dev := range r.devices {
		if dev.Status == "enabled" {
			out = append(out, *dev)
		}
	}
	return out, nil
}

func (r *fakeRepo) Updates(_ context.Context, _ int64, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, updates)
	return nil
}

func testDevice(id int64) *domain.NetDevice {
	return &domain.NetDevice{
		ID:       id,
		Name:     "lab-router",
		Ipaddr:   "192.0.2.1",
		ApiState: "enabled",
		Username: "admin",
		Password: "secret",
		Status:   "enabled",
	}
}

// newPipeClient returns a client whose peer is held open for the test
// duration, so the client stays alive until closed explicitly.
func newPipeClient(t *testing.T) *routeros.Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	c := routeros.NewClient(clientConn)
	t.Cleanup(func() {
		c.Close()
		serverConn.Close()
	})
	return c
}

func testOptions() Options {
	return Options{
		ConnectTimeout: time.Second,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		MaxAttempts:    3,
	}
}

func TestGetConnectsLazilyAndCaches(t *testing.T) {
	repo := newFakeRepo(testDevice(1))
	m := NewManager(repo, nil, testOptions())
	defer m.Close()

	var dials int32
	m.SetDialFunc(func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
		atomic.AddInt32(&dials, 1)
		assert.Equal(t, "192.0.2.1", dev.Ipaddr)
		return newPipeClient(t), nil
	})

	c1, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	c2, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestConcurrentGetsShareOneConnect(t *testing.T) {
	repo := newFakeRepo(testDevice(1))
	m := NewManager(repo, nil, testOptions())
	defer m.Close()

	var dials int32
	m.SetDialFunc(func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
		atomic.AddInt32(&dials, 1)
		time.Sleep(50 * time.Millisecond)
		return newPipeClient(t), nil
	})

	var wg sync.WaitGroup
	clients := make([]*routeros.Client, 8)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Get(context.Background(), 1)
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
	for _, c := range clients[1:] {
		assert.Same(t, clients[0], c)
	}
}

func TestReconnectAfterFailure(t *testing.T) {
	repo := newFakeRepo(testDevice(1))
	m := NewManager(repo, nil, testOptions())
	defer m.Close()

	var dials int32
	m.SetDialFunc(func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
		atomic.AddInt32(&dials, 1)
		return newPipeClient(t), nil
	})

	c1, err := m.Get(context.Background(), 1)
	require.NoError(t, err)

	// Simulated transport failure.
	c1.Close()

	c2, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.False(t, c2.Closed())
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestRetriesThenGivesUp(t *testing.T) {
	repo := newFakeRepo(testDevice(1))
	m := NewManager(repo, nil, testOptions())
	defer m.Close()

	var dials int32
	m.SetDialFunc(func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errors.New("connection refused")
	})

	_, err := m.Get(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaxRetries))
	assert.Equal(t, int32(3), atomic.LoadInt32(&dials))
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	repo := newFakeRepo(testDevice(1))
	m := NewManager(repo, nil, testOptions())
	defer m.Close()

	var dials int32
	m.SetDialFunc(func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
		atomic.AddInt32(&dials, 1)
		return nil, &routeros.AuthError{Username: dev.Username, Err: errors.New("invalid user name or password")}
	})

	_, err := m.Get(context.Background(), 1)
	require.Error(t, err)
	var authErr *routeros.AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.False(t, errors.Is(err, ErrMaxRetries))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestGetRefusesDisabledAPI(t *testing.T) {
	dev := testDevice(1)
	dev.ApiState = "disabled"
	repo := newFakeRepo(dev)
	m := NewManager(repo, nil, testOptions())
	defer m.Close()

	dialed := false
	m.SetDialFunc(func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
		dialed = true
		return newPipeClient(t), nil
	})

	_, err := m.Get(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, dialed)
}

func TestExecuteInvalidatesDeadClient(t *testing.T) {
	repo := newFakeRepo(testDevice(1))
	m := NewManager(repo, nil, testOptions())
	defer m.Close()

	var dials int32
	m.SetDialFunc(func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
		atomic.AddInt32(&dials, 1)
		return newPipeClient(t), nil
	})

	err := m.Execute(context.Background(), 1, func(c *routeros.Client) error {
		c.Close()
		return errors.New("write failed")
	})
	require.Error(t, err)

	// Next use transparently reconnects.
	err = m.Execute(context.Background(), 1, func(c *routeros.Client) error {
		assert.False(t, c.Closed())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestConnectionEventsPublished(t *testing.T) {
	repo := newFakeRepo(testDevice(1))
	bus := EventBus.New()
	m := NewManager(repo, bus, testOptions())
	defer m.Close()

	var mu sync.Mutex
	var events []string
	require.NoError(t, bus.Subscribe(EventDeviceUp, func(id int64) {
		mu.Lock()
		events = append(events, "up")
		mu.Unlock()
	}))
	require.NoError(t, bus.Subscribe(EventDeviceDown, func(id int64) {
		mu.Lock()
		events = append(events, "down")
		mu.Unlock()
	}))

	m.SetDialFunc(func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
		return newPipeClient(t), nil
	})

	_, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	m.Invalidate(1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"up", "down"}, events)
}
