package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKeys map[string][]byte

func (k staticKeys) ViewKeys(ctx context.Context) (map[string][]byte, error) {
	return k, nil
}

func TestSyncRound(t *testing.T) {
	fake := &chainFake{
		ids:     []uint64{1, 3, 5},
		limit:   10,
		owners:  map[uint64]string{5: "a"},
		summary: chainclient.SyncSummary{BlockNum: 42, CurrentRecordId: 5},
	}
	o, st := newTestOrchestrator(t, fake)
	svc := NewSyncService(st, o.clients, o, staticKeys{"a": {0xa}})

	ch := make(chan interface{}, 1)
	st.EventBus.Subscribe(state.SyncCompleted, ch)

	ran, err := svc.SyncRound(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	select {
	case e := <-ch:
		summary := e.(state.Event).Data.(SyncSummary)
		assert.Equal(t, uint64(42), summary.BlockNum)
		assert.Equal(t, 1.0, summary.Percentages["a"])
	case <-time.After(time.Second):
		t.Fatal("no sync completed event")
	}

	assert.Equal(t, [][2]uint64{{0, 6}}, recordedSpans(t, st, "a"))
	last, err := st.GetLastPublicSyncBlock("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), last)
	assert.Equal(t, uint64(42), st.GetSyncState().LastBlock)
}

func TestSyncRoundSkipsWhileRunning(t *testing.T) {
	fake := &chainFake{limit: 10}
	o, st := newTestOrchestrator(t, fake)
	svc := NewSyncService(st, o.clients, o, staticKeys{"a": {0xa}})

	svc.inProgress.Store(true)
	ran, err := svc.SyncRound(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	svc.inProgress.Store(false)
	ran, err = svc.SyncRound(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, svc.inProgress.Load())
}

func TestSyncRoundLockedVault(t *testing.T) {
	fake := &chainFake{limit: 10}
	o, st := newTestOrchestrator(t, fake)
	svc := NewSyncService(st, o.clients, o, staticKeys{})

	ran, err := svc.SyncRound(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, fake.scanCalls)
}
