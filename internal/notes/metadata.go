package notes

import (
	"context"
	"sync"
	"time"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/goatnetwork/note-wallet/internal/state"
	"github.com/lightningnetwork/lnd/clock"
	log "github.com/sirupsen/logrus"
)

// MetadataFetcher loads asset metadata of unknown faucets in the background.
// An id is fetched at most once at a time, and an id that failed is not retried
// until the retry interval has passed or ResetFailed is called.
type MetadataFetcher struct {
	state      *state.State
	clients    *chainclient.Manager
	clock      clock.Clock
	retryAfter time.Duration

	mu       sync.Mutex
	pending  []string
	inFlight map[string]struct{}
	// failed holds the time of the last failed fetch per id
	failed map[string]time.Time
	wakeCh chan struct{}

	logger *log.Entry
}

func NewMetadataFetcher(st *state.State, clients *chainclient.Manager, clk clock.Clock) *MetadataFetcher {
	return &MetadataFetcher{
		state:      st,
		clients:    clients,
		clock:      clk,
		retryAfter: config.AppConfig.MetadataRetry,
		inFlight:   make(map[string]struct{}),
		failed:     make(map[string]time.Time),
		wakeCh:     make(chan struct{}, 1),
		logger: log.WithFields(log.Fields{
			"module": "metadata",
		}),
	}
}

// Enqueue schedules faucetIds for fetching, returns how many were newly scheduled
func (f *MetadataFetcher) Enqueue(faucetIds ...string) int {
	f.mu.Lock()
	now := f.clock.Now()
	added := 0
	for _, id := range faucetIds {
		if _, ok := f.inFlight[id]; ok {
			continue
		}
		if failedAt, ok := f.failed[id]; ok {
			if now.Sub(failedAt) < f.retryAfter {
				continue
			}
			delete(f.failed, id)
		}
		f.inFlight[id] = struct{}{}
		f.pending = append(f.pending, id)
		added++
	}
	f.mu.Unlock()

	if added > 0 {
		select {
		case f.wakeCh <- struct{}{}:
		default:
		}
	}
	return added
}

// ResetFailed allows failed ids to be fetched again
func (f *MetadataFetcher) ResetFailed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = make(map[string]time.Time)
}

func (f *MetadataFetcher) Start(ctx context.Context) {
	f.logger.Info("MetadataFetcher started.")
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("MetadataFetcher stopped.")
			return
		case <-f.wakeCh:
			f.FetchPending(ctx)
		}
	}
}

// FetchPending fetches every scheduled id and returns the number stored
func (f *MetadataFetcher) FetchPending(ctx context.Context) int {
	f.mu.Lock()
	batch := f.pending
	f.pending = nil
	f.mu.Unlock()

	stored := 0
	for _, id := range batch {
		ok := f.fetch(ctx, id)
		f.mu.Lock()
		delete(f.inFlight, id)
		if !ok {
			f.failed[id] = f.clock.Now()
		}
		f.mu.Unlock()
		if ok {
			stored++
		}
	}
	return stored
}

func (f *MetadataFetcher) fetch(ctx context.Context, faucetId string) bool {
	info, err := chainclient.Call(ctx, f.clients, func(ctx context.Context, c chainclient.Client) (*chainclient.FaucetInfo, error) {
		return c.GetFaucetMetadata(ctx, faucetId)
	})
	if err != nil {
		f.logger.Warnf("Fetch metadata of faucet %s error: %v", faucetId, err)
		return false
	}
	if info == nil {
		f.logger.Warnf("Faucet %s has no metadata", faucetId)
		return false
	}

	metadata := &db.FaucetMetadata{
		FaucetId:  faucetId,
		Symbol:    info.Symbol,
		Decimals:  info.Decimals,
		Name:      info.Name,
		UpdatedAt: f.clock.Now(),
	}
	if err := f.state.SaveFaucetMetadata(metadata); err != nil {
		f.logger.Errorf("Save metadata of faucet %s error: %v", faucetId, err)
		return false
	}
	f.state.EventBus.Publish(state.AssetMetadataFetched, metadata)
	return true
}
