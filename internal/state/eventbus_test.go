package state

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	testLen := 100
	wg := sync.WaitGroup{}
	count := atomic.Uint64{}
	for i := 0; i < testLen; i++ {
		ch := make(chan interface{}, 1)
		bus.Subscribe(TransactionUpdated, ch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := (<-ch).(Event)
			if result.Type == TransactionUpdated && result.Data == "OK" {
				count.Add(1)
			}
		}()
	}
	bus.Publish(TransactionUpdated, "OK")
	wg.Wait()
	assert.Equal(t, uint64(testLen), count.Load())
}

func TestEventBusFullSubscriberKeepsSubscription(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan interface{}, 1)
	bus.Subscribe(SyncCompleted, ch)

	bus.Publish(SyncCompleted, 1)
	bus.Publish(SyncCompleted, 2) // dropped, channel is full

	assert.Equal(t, 1, (<-ch).(Event).Data)
	bus.Publish(SyncCompleted, 3)
	assert.Equal(t, 3, (<-ch).(Event).Data)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch1 := make(chan interface{}, 1)
	ch2 := make(chan interface{}, 1)
	bus.Subscribe(VaultStateChanged, ch1)
	bus.Subscribe(VaultStateChanged, ch2)

	bus.Unsubscribe(VaultStateChanged, ch1)
	bus.Publish(VaultStateChanged, "locked")

	assert.Len(t, ch1, 0)
	assert.Len(t, ch2, 1)

	bus.Unsubscribe(VaultStateChanged, ch2)
	_, ok := bus.subscribers[VaultStateChanged]
	assert.False(t, ok)
}
