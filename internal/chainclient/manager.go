package chainclient

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/goatnetwork/note-wallet/internal/clientlock"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	initKey         = "client"
	maxInitAttempts = 3
)

var ErrOptionsContention = errors.New("chain client options keep changing, giving up")

// Factory builds a client, opts may be nil
type Factory func(ctx context.Context, opts *Options) (Client, error)

// Manager owns the single chain client instance.
// GetClient must not be called while holding the serializer, it may need it to dispose a stale client.
type Manager struct {
	factory Factory
	lock    *clientlock.Serializer
	group   singleflight.Group

	mu     sync.Mutex
	client Client
	opts   *Options

	logger *log.Entry
}

func NewManager(factory Factory, lock *clientlock.Serializer) *Manager {
	return &Manager{
		factory: factory,
		lock:    lock,
		logger: log.WithFields(log.Fields{
			"module": "chainclient",
		}),
	}
}

// GetClient returns the cached client, building it on first use or when opts differ materially.
// Concurrent callers share one in-flight build and all receive its error on failure.
func (m *Manager) GetClient(ctx context.Context, opts *Options) (Client, error) {
	for attempt := 0; attempt < maxInitAttempts; attempt++ {
		if c := m.cached(opts); c != nil {
			return c, nil
		}

		ch := m.group.DoChan(initKey, func() (interface{}, error) {
			return m.build(context.WithoutCancel(ctx), opts)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			// a build started by a caller with other options may have won the flight
			if c := m.cached(opts); c != nil {
				return c, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, ErrOptionsContention
}

// WithClient runs fn with the client while holding the serializer
func (m *Manager) WithClient(ctx context.Context, opts *Options, fn func(ctx context.Context, c Client) error) error {
	c, err := m.GetClient(ctx, opts)
	if err != nil {
		return err
	}
	if pending := m.lock.Pending(); pending > 0 {
		m.logger.Debugf("Chain client busy, %d callers queued ahead", pending)
	}
	return m.lock.Do(ctx, func(ctx context.Context) error {
		return fn(ctx, c)
	})
}

// Call is WithClient returning a value
func Call[T any](ctx context.Context, m *Manager, fn func(ctx context.Context, c Client) (T, error)) (T, error) {
	var out T
	err := m.WithClient(ctx, nil, func(ctx context.Context, c Client) error {
		v, err := fn(ctx, c)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Dispose closes the current client, the next GetClient builds a new one
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	old := m.client
	m.client, m.opts = nil, nil
	m.mu.Unlock()

	if old == nil {
		return nil
	}
	return m.lock.Do(ctx, func(ctx context.Context) error {
		return old.Close()
	})
}

func (m *Manager) cached(opts *Options) Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || optionsChanged(m.opts, opts) {
		return nil
	}
	return m.client
}

func (m *Manager) build(ctx context.Context, opts *Options) (Client, error) {
	m.mu.Lock()
	old, oldOpts := m.client, m.opts
	m.mu.Unlock()

	if old != nil && !optionsChanged(oldOpts, opts) {
		return old, nil
	}

	if old != nil {
		m.logger.Info("Chain client options changed, recreating client")
		m.mu.Lock()
		m.client, m.opts = nil, nil
		m.mu.Unlock()
		err := m.lock.Do(ctx, func(ctx context.Context) error {
			return old.Close()
		})
		if err != nil {
			m.logger.Warnf("Close stale chain client error: %v", err)
		}
	}

	c, err := m.factory(ctx, opts)
	if err != nil {
		m.logger.Errorf("Build chain client error: %v", err)
		return nil, err
	}

	m.mu.Lock()
	m.client, m.opts = c, cloneOptions(opts)
	m.mu.Unlock()
	m.logger.Debug("Chain client ready")
	return c, nil
}

// optionsChanged reports whether next requires a new client compared to the client built with prev.
// nil next means any client will do.
func optionsChanged(prev, next *Options) bool {
	if next == nil {
		return false
	}
	if prev == nil {
		prev = &Options{}
	}
	if !bytes.Equal(prev.Seed, next.Seed) {
		return true
	}
	return (prev.OnConnectivityIssue == nil) != (next.OnConnectivityIssue == nil)
}

func cloneOptions(opts *Options) *Options {
	if opts == nil {
		return &Options{}
	}
	return &Options{
		Seed:                bytes.Clone(opts.Seed),
		OnConnectivityIssue: opts.OnConnectivityIssue,
	}
}
