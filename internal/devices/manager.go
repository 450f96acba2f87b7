// Package devices owns the registry of managed routers and the per-device
// API client cache. Callers never hold sockets directly; they borrow a
// client through the manager, which reconnects lazily after failures.
package devices

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/talkincode/routerman/internal/domain"
	"github.com/talkincode/routerman/internal/routeros"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// EventBus topics published on connection state changes.
	EventDeviceUp   = "device.up"
	EventDeviceDown = "device.down"
)

// ErrMaxRetries reports that the manager gave up connecting to a device
// after the configured number of attempts.
var ErrMaxRetries = errors.New("devices: connect retries exhausted")

// Options tune connection behavior. Zero values fall back to defaults.
type Options struct {
	ConnectTimeout time.Duration // per-attempt dial+login budget
	BackoffBase    time.Duration // first retry delay
	BackoffMax     time.Duration // retry delay cap
	MaxAttempts    int           // attempts per Get before ErrMaxRetries
}

func (o *Options) defaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
}

// DialFunc opens an authenticated client for one device. Replaced in tests
// with an in-process fake.
type DialFunc func(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error)

// Manager caches one live client per device ID. Concurrent Get calls for
// the same device share a single in-flight connection attempt.
type Manager struct {
	repo DeviceRepository
	bus  EventBus.Bus
	dial DialFunc
	opts Options

	sf singleflight.Group

	mu      sync.Mutex
	clients map[int64]*routeros.Client
}

func NewManager(repo DeviceRepository, bus EventBus.Bus, opts Options) *Manager {
	opts.defaults()
	return &Manager{
		repo:    repo,
		bus:     bus,
		dial:    defaultDial,
		opts:    opts,
		clients: make(map[int64]*routeros.Client),
	}
}

// SetDialFunc overrides the dialer (tests).
func (m *Manager) SetDialFunc(dial DialFunc) {
	m.dial = dial
}

func defaultDial(ctx context.Context, dev *domain.NetDevice) (*routeros.Client, error) {
	port := dev.ApiPort
	if port == 0 {
		if dev.ApiTLS {
			port = 8729
		} else {
			port = 8728
		}
	}
	addr := net.JoinHostPort(dev.Ipaddr, strconv.Itoa(port))
	if dev.ApiTLS {
		return routeros.DialTLS(ctx, addr, dev.Username, dev.Password, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // G402: routers commonly run self-signed API certs
	}
	return routeros.Dial(ctx, addr, dev.Username, dev.Password)
}

// Device loads one device row.
func (m *Manager) Device(ctx context.Context, id int64) (*domain.NetDevice, error) {
	return m.repo.GetByID(ctx, id)
}

// ActiveDevice returns the currently selected device.
func (m *Manager) ActiveDevice(ctx context.Context) (*domain.NetDevice, error) {
	return m.repo.GetActive(ctx)
}

// Get returns a live client for the device, connecting lazily on first use
// and after failures. Retries use exponential backoff up to the configured
// cap; after MaxAttempts the failure is surfaced instead of retried
// forever.
func (m *Manager) Get(ctx context.Context, deviceID int64) (*routeros.Client, error) {
	if c := m.cached(deviceID); c != nil {
		return c, nil
	}

	v, err, _ := m.sf.Do(strconv.FormatInt(deviceID, 10), func() (interface{}, error) {
		if c := m.cached(deviceID); c != nil {
			return c, nil
		}
		return m.connect(ctx, deviceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*routeros.Client), nil
}

func (m *Manager) cached(deviceID int64) *routeros.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.clients[deviceID]
	if c != nil && c.Closed() {
		delete(m.clients, deviceID)
		return nil
	}
	return c
}

func (m *Manager) connect(ctx context.Context, deviceID int64) (*routeros.Client, error) {
	dev, err := m.Device(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.ApiState != "enabled" {
		return nil, fmt.Errorf("devices: api disabled on device %d", deviceID)
	}

	var lastErr error
	delay := m.opts.BackoffBase
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		client, err := m.dial(cctx, dev)
		cancel()
		if err == nil {
			m.mu.Lock()
			m.clients[deviceID] = client
			m.mu.Unlock()
			if m.bus != nil {
				m.bus.Publish(EventDeviceUp, deviceID)
			}
			zap.L().Info("device connected",
				zap.Int64("device_id", deviceID),
				zap.String("ipaddr", dev.Ipaddr),
				zap.Int("attempt", attempt),
			)
			return client, nil
		}

		lastErr = err
		var authErr *routeros.AuthError
		if errors.As(err, &authErr) {
			// Bad credentials will not fix themselves; do not hammer the
			// device.
			return nil, err
		}
		zap.L().Warn("device connect failed",
			zap.Int64("device_id", deviceID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == m.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.opts.BackoffMax {
			delay = m.opts.BackoffMax
		}
	}
	return nil, fmt.Errorf("%w: device %d: %v", ErrMaxRetries, deviceID, lastErr)
}

// Invalidate drops the cached client so the next Get reconnects.
func (m *Manager) Invalidate(deviceID int64) {
	m.mu.Lock()
	c := m.clients[deviceID]
	delete(m.clients, deviceID)
	m.mu.Unlock()
	if c != nil {
		c.Close()
		if m.bus != nil {
			m.bus.Publish(EventDeviceDown, deviceID)
		}
	}
}

// Execute borrows a client, runs fn, and invalidates the cache entry when
// the client came out of fn dead, so the next call reconnects without any
// caller-side logic.
func (m *Manager) Execute(ctx context.Context, deviceID int64, fn func(*routeros.Client) error) error {
	client, err := m.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	err = fn(client)
	if client.Closed() {
		m.Invalidate(deviceID)
	}
	return err
}

// Close tears down every cached client.
func (m *Manager) Close() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[int64]*routeros.Client)
	m.mu.Unlock()
	for id, c := range clients {
		c.Close()
		zap.L().Debug("device client closed", zap.Int64("device_id", id))
	}
}
