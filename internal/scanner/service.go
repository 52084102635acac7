package scanner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/state"
	log "github.com/sirupsen/logrus"
)

// KeySource returns the view key of every watched address, empty while the vault is locked
type KeySource interface {
	ViewKeys(ctx context.Context) (map[string][]byte, error)
}

// SyncSummary is published as SyncCompleted after every successful round
type SyncSummary struct {
	BlockNum        uint64             `json:"block_num"`
	CurrentRecordId uint64             `json:"current_record_id"`
	Percentages     map[string]float64 `json:"percentages"`
}

type SyncService struct {
	state        *state.State
	clients      *chainclient.Manager
	orchestrator *Orchestrator
	keys         KeySource

	interval      time.Duration
	stepsPerRound int
	batchSize     uint64

	inProgress atomic.Bool
	logger     *log.Entry
}

func NewSyncService(st *state.State, clients *chainclient.Manager, orchestrator *Orchestrator, keys KeySource) *SyncService {
	return &SyncService{
		state:         st,
		clients:       clients,
		orchestrator:  orchestrator,
		keys:          keys,
		interval:      config.AppConfig.SyncInterval,
		stepsPerRound: config.AppConfig.SyncStepsPerRound,
		batchSize:     config.AppConfig.SyncBatchSize,
		logger: log.WithFields(log.Fields{
			"module": "sync",
		}),
	}
}

func (s *SyncService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("SyncService started.")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SyncService stopped.")
			return
		case <-ticker.C:
			if _, err := s.SyncRound(ctx); err != nil {
				s.logger.Errorf("Sync round error: %v", err)
			}
		}
	}
}

// SyncRound runs one round unless another is still running, ran reports whether it did
func (s *SyncService) SyncRound(ctx context.Context) (ran bool, err error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		s.logger.Debug("Sync round still running, skip")
		return false, nil
	}
	defer s.inProgress.Store(false)

	keys, err := s.keys.ViewKeys(ctx)
	if err != nil {
		return true, err
	}
	if len(keys) == 0 {
		return true, nil
	}

	summary, err := chainclient.Call(ctx, s.clients, func(ctx context.Context, c chainclient.Client) (*chainclient.SyncSummary, error) {
		return c.SyncState(ctx)
	})
	if err != nil {
		return true, err
	}

	if err := s.orchestrator.SyncOwnedRecords(ctx, keys, summary.CurrentRecordId, s.stepsPerRound, s.batchSize); err != nil {
		return true, err
	}

	addresses := sortedAddresses(keys)
	for _, address := range addresses {
		last, err := s.state.GetLastPublicSyncBlock(address)
		if err != nil {
			return true, err
		}
		if summary.BlockNum > last {
			if err := s.state.AddPublicSync(address, last, summary.BlockNum); err != nil {
				return true, err
			}
		}
	}

	percentages, err := s.orchestrator.SyncPercentages(addresses)
	if err != nil {
		s.logger.Warnf("Estimate sync percentages error: %v", err)
	}
	s.state.EventBus.Publish(state.SyncCompleted, SyncSummary{
		BlockNum:        summary.BlockNum,
		CurrentRecordId: summary.CurrentRecordId,
		Percentages:     percentages,
	})
	return true, nil
}
