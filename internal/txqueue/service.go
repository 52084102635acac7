package txqueue

import (
	"context"
	"sync"
	"time"

	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/state"
)

// QueueService drains the queue every drain interval and whenever a transaction is queued
type QueueService struct {
	queue *Queue
	state *state.State
	once  sync.Once

	interval time.Duration
	queuedCh chan interface{}
}

func NewQueueService(st *state.State, queue *Queue) *QueueService {
	return &QueueService{
		queue:    queue,
		state:    st,
		interval: config.AppConfig.DrainInterval,
		queuedCh: make(chan interface{}, state.EVENT_CHAN_LENGTH),
	}
}

func (s *QueueService) Start(ctx context.Context) {
	s.state.EventBus.Subscribe(state.TransactionQueued, s.queuedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.queue.logger.Info("QueueService started.")

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			s.queue.logger.Info("QueueService stopped.")
			return
		case <-s.queuedCh:
			s.drain(ctx)
		case <-ticker.C:
			if _, err := s.queue.VerifyStuckTransactionsFromNode(ctx); err != nil {
				s.queue.logger.Warnf("Verify stuck transactions error: %v", err)
			}
			s.drain(ctx)
		}
	}
}

func (s *QueueService) Stop() {
	s.state.EventBus.Unsubscribe(state.TransactionQueued, s.queuedCh)
	s.once.Do(func() {
		close(s.queuedCh)
	})
}

// drain keeps processing while transactions complete, a failure waits for the next tick
func (s *QueueService) drain(ctx context.Context) {
	for ctx.Err() == nil && s.queue.SafeDrainLoop(ctx) {
	}
}
