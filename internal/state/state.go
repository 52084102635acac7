package state

import (
	"errors"
	"sync"

	"github.com/goatnetwork/note-wallet/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrTransactionFinalized = errors.New("transaction already in a finalized state")
	ErrTransactionNotFound  = errors.New("no transaction found to update")
)

type State struct {
	EventBus *EventBus

	dbm *db.DatabaseManager

	// Separate mutexes for different sub-modules
	syncMu   sync.RWMutex
	txMu     sync.RWMutex
	faucetMu sync.RWMutex
	vaultMu  sync.RWMutex

	queueState QueueState
	syncState  SyncState
}

// InitializeState initializes the state by reading from the DB
func InitializeState(dbm *db.DatabaseManager) *State {
	var (
		queued     int64
		inProgress []*db.Transaction
		addresses  []string
		syncCount  int64
		lastSync   db.PublicSync
	)

	syncDb := dbm.GetSyncDB()
	walletDb := dbm.GetWalletDB()

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		if err := walletDb.Model(&db.Transaction{}).Where("status = ?", db.TX_STATUS_QUEUED).Count(&queued).Error; err != nil {
			log.Warnf("Failed to count queued transactions: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		if err := walletDb.Where("status = ?", db.TX_STATUS_GENERATING).Find(&inProgress).Error; err != nil {
			log.Warnf("Failed to load transactions in progress: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		if err := syncDb.Model(&db.RecordIdSync{}).Distinct().Pluck("address", &addresses).Error; err != nil {
			log.Warnf("Failed to load synced addresses: %v", err)
		}
		if err := syncDb.Model(&db.RecordIdSync{}).Count(&syncCount).Error; err != nil {
			log.Warnf("Failed to count record syncs: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		if err := syncDb.Order("end_block desc").First(&lastSync).Error; err != nil && err != gorm.ErrRecordNotFound {
			log.Warnf("Failed to load latest public sync: %v", err)
		}
	}()

	wg.Wait()

	st := &State{
		EventBus: NewEventBus(),
		dbm:      dbm,
		queueState: QueueState{
			Queued: queued,
		},
		syncState: SyncState{
			Addresses:       addresses,
			RecordSyncCount: syncCount,
			LastBlock:       lastSync.EndBlock,
		},
	}
	if len(inProgress) > 0 {
		// more than one means an older build crashed mid drain, the stuck sweep fails them later
		st.queueState.InProgress = inProgress[0]
	}

	log.Infof("State init on startup, queued tx: %d, in progress tx: %d, synced addresses: %d, record syncs: %d, last block: %d",
		queued, len(inProgress), len(addresses), syncCount, lastSync.EndBlock)

	return st
}

func (s *State) GetQueueState() QueueState {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	return s.queueState
}

func (s *State) GetSyncState() SyncState {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.syncState
}
