package chainclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goatnetwork/note-wallet/internal/clientlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	Client
	id     int
	closed atomic.Bool
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeClient
	seeds [][]byte
	gate  chan struct{}
	failN int
	calls atomic.Int32
}

func (f *fakeFactory) build(ctx context.Context, opts *Options) (Client, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return nil, errors.New("wasm init failed")
	}
	c := &fakeClient{id: len(f.built) + 1}
	f.built = append(f.built, c)
	var seed []byte
	if opts != nil {
		seed = opts.Seed
	}
	f.seeds = append(f.seeds, seed)
	return c, nil
}

func TestManagerLazyAndCached(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, clientlock.NewSerializer())
	assert.Equal(t, int32(0), f.calls.Load())

	ctx := context.Background()
	c1, err := m.GetClient(ctx, &Options{Seed: []byte{1}})
	require.NoError(t, err)

	c2, err := m.GetClient(ctx, nil)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c3, err := m.GetClient(ctx, &Options{Seed: []byte{1}})
	require.NoError(t, err)
	assert.Same(t, c1, c3)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestManagerRecreatesOnOptionChange(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, clientlock.NewSerializer())
	ctx := context.Background()

	c1, err := m.GetClient(ctx, &Options{Seed: []byte{1}})
	require.NoError(t, err)

	c2, err := m.GetClient(ctx, &Options{Seed: []byte{2}})
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.True(t, c1.(*fakeClient).closed.Load())

	c3, err := m.GetClient(ctx, &Options{Seed: []byte{2}, OnConnectivityIssue: func() {}})
	require.NoError(t, err)
	assert.NotSame(t, c2, c3)
	assert.True(t, c2.(*fakeClient).closed.Load())
	assert.False(t, c3.(*fakeClient).closed.Load())

	// a different callback instance is not a material change
	c4, err := m.GetClient(ctx, &Options{Seed: []byte{2}, OnConnectivityIssue: func() {}})
	require.NoError(t, err)
	assert.Same(t, c3, c4)

	assert.Equal(t, [][]byte{{1}, {2}, {2}}, f.seeds)
}

func TestManagerSharedInit(t *testing.T) {
	f := &fakeFactory{gate: make(chan struct{})}
	m := NewManager(f.build, clientlock.NewSerializer())

	const n = 8
	results := make([]Client, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.GetClient(context.Background(), &Options{Seed: []byte{9}})
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestManagerFailureResets(t *testing.T) {
	f := &fakeFactory{failN: 1}
	m := NewManager(f.build, clientlock.NewSerializer())
	ctx := context.Background()

	_, err := m.GetClient(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wasm init failed")

	c, err := m.GetClient(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestManagerWithClientAndDispose(t *testing.T) {
	f := &fakeFactory{}
	m := NewManager(f.build, clientlock.NewSerializer())
	ctx := context.Background()

	id, err := Call(ctx, m, func(ctx context.Context, c Client) (int, error) {
		return c.(*fakeClient).id, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.NoError(t, m.Dispose(ctx))
	assert.True(t, f.built[0].closed.Load())

	id, err = Call(ctx, m, func(ctx context.Context, c Client) (int, error) {
		return c.(*fakeClient).id, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, id)
}
