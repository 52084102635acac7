package state

import (
	"time"

	"github.com/goatnetwork/note-wallet/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var uncompletedStatuses = []string{db.TX_STATUS_QUEUED, db.TX_STATUS_GENERATING}

// CreateTransaction saves a new queued transaction
func (s *State) CreateTransaction(tx *db.Transaction) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.dbm.GetWalletDB().Create(tx).Error; err != nil {
		return err
	}
	s.refreshQueueState(s.dbm.GetWalletDB())
	s.EventBus.Publish(TransactionQueued, tx.ID)
	return nil
}

// CreateConsumeTransaction saves tx unless an uncompleted consume of the same note
// by the same account exists, in which case the existing id is returned
func (s *State) CreateConsumeTransaction(tx *db.Transaction, noteId string) (id string, created bool, err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	err = s.dbm.GetWalletDB().Transaction(func(dbTx *gorm.DB) error {
		existing, err := s.findUncompletedConsume(dbTx, tx.AccountId, noteId)
		if err != nil {
			return err
		}
		if existing != nil {
			id = existing.ID
			return nil
		}
		if err := dbTx.Create(tx).Error; err != nil {
			return err
		}
		id, created = tx.ID, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if created {
		s.refreshQueueState(s.dbm.GetWalletDB())
		s.EventBus.Publish(TransactionQueued, id)
	}
	return id, created, nil
}

// UpdateTransactionStatus moves a transaction to status and applies update inside the same db transaction.
// It fails with ErrTransactionFinalized when the transaction is already completed or failed.
func (s *State) UpdateTransactionStatus(id, status string, update func(tx *db.Transaction)) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	var updated db.Transaction
	err := s.dbm.GetWalletDB().Transaction(func(dbTx *gorm.DB) error {
		tx, err := s.getTransaction(dbTx, id)
		if err != nil {
			return err
		}
		if db.IsFinalStatus(tx.Status) {
			return ErrTransactionFinalized
		}
		tx.Status = status
		if update != nil {
			update(tx)
		}
		if err := dbTx.Save(tx).Error; err != nil {
			return err
		}
		updated = *tx
		return nil
	})
	if err != nil {
		return err
	}

	s.refreshQueueState(s.dbm.GetWalletDB())
	s.EventBus.Publish(TransactionUpdated, &updated)
	return nil
}

// StartNextTransaction moves the oldest queued transaction to generating.
// busy is true when a transaction is already generating, no transaction is started then.
func (s *State) StartNextTransaction(now time.Time) (started *db.Transaction, busy bool, err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	err = s.dbm.GetWalletDB().Transaction(func(dbTx *gorm.DB) error {
		var inProgress int64
		if err := dbTx.Model(&db.Transaction{}).Where("status = ?", db.TX_STATUS_GENERATING).Count(&inProgress).Error; err != nil {
			return err
		}
		if inProgress > 0 {
			busy = true
			return nil
		}

		var next db.Transaction
		err := dbTx.Where("status = ?", db.TX_STATUS_QUEUED).Order("initiated_at asc").First(&next).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		next.Status = db.TX_STATUS_GENERATING
		next.ProcessingStartedAt = &now
		if err := dbTx.Save(&next).Error; err != nil {
			return err
		}
		started = &next
		return nil
	})
	if err != nil || started == nil {
		return nil, busy, err
	}

	s.refreshQueueState(s.dbm.GetWalletDB())
	s.EventBus.Publish(TransactionUpdated, started)
	return started, false, nil
}

func (s *State) GetTransactionById(id string) (*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	return s.getTransaction(s.dbm.GetWalletDB(), id)
}

// GetTransactionsInProgress returns transactions in generating status
func (s *State) GetTransactionsInProgress() ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var txs []*db.Transaction
	err := s.dbm.GetWalletDB().Where("status = ?", db.TX_STATUS_GENERATING).Order("initiated_at asc, id asc").Find(&txs).Error
	return txs, err
}

// GetUncompletedTransactions returns queued and generating transactions of accountId, oldest first
func (s *State) GetUncompletedTransactions(accountId string) ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var txs []*db.Transaction
	err := s.dbm.GetWalletDB().Where("account_id = ? AND status IN ?", accountId, uncompletedStatuses).
		Order("initiated_at asc, id asc").Find(&txs).Error
	return txs, err
}

func (s *State) GetAllUncompletedTransactions() ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var txs []*db.Transaction
	err := s.dbm.GetWalletDB().Where("status IN ?", uncompletedStatuses).Order("initiated_at asc, id asc").Find(&txs).Error
	return txs, err
}

func (s *State) GetFailedTransactions() ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var txs []*db.Transaction
	err := s.dbm.GetWalletDB().Where("status = ?", db.TX_STATUS_FAILED).Order("completed_at desc").Find(&txs).Error
	return txs, err
}

// CompletedQuery filters GetCompletedTransactions
type CompletedQuery struct {
	AccountId     string
	Offset        int
	Limit         int
	IncludeFailed bool
	FaucetId      string
}

// GetCompletedTransactions returns finished transactions of an account, newest first
func (s *State) GetCompletedTransactions(q CompletedQuery) ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	statuses := []string{db.TX_STATUS_COMPLETED}
	if q.IncludeFailed {
		statuses = append(statuses, db.TX_STATUS_FAILED)
	}
	query := s.dbm.GetWalletDB().Where("account_id = ? AND status IN ?", q.AccountId, statuses)
	if q.FaucetId != "" {
		query = query.Where("faucet_id = ?", q.FaucetId)
	}
	query = query.Order("completed_at desc").Offset(q.Offset)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var txs []*db.Transaction
	err := query.Find(&txs).Error
	return txs, err
}

func (s *State) HasQueuedTransactions() (bool, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var count int64
	err := s.dbm.GetWalletDB().Model(&db.Transaction{}).Where("status = ?", db.TX_STATUS_QUEUED).Count(&count).Error
	return count > 0, err
}

// ListTransactions returns every transaction ordered by initiation
func (s *State) ListTransactions() ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var txs []*db.Transaction
	err := s.dbm.GetWalletDB().Order("initiated_at asc, id asc").Find(&txs).Error
	return txs, err
}

// ReplaceTransactions deletes every transaction and stores txs in one db transaction
func (s *State) ReplaceTransactions(txs []*db.Transaction) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	err := s.dbm.GetWalletDB().Transaction(func(dbTx *gorm.DB) error {
		if err := dbTx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&db.Transaction{}).Error; err != nil {
			return err
		}
		if len(txs) == 0 {
			return nil
		}
		return dbTx.Create(txs).Error
	})
	if err != nil {
		return err
	}
	s.refreshQueueState(s.dbm.GetWalletDB())
	return nil
}

// DeleteAccountTransactions removes every transaction of accountId
func (s *State) DeleteAccountTransactions(accountId string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.dbm.GetWalletDB().Where("account_id = ?", accountId).Delete(&db.Transaction{}).Error; err != nil {
		return err
	}
	s.refreshQueueState(s.dbm.GetWalletDB())
	return nil
}

func (s *State) getTransaction(tx *gorm.DB, id string) (*db.Transaction, error) {
	var found db.Transaction
	err := tx.Where("id = ?", id).First(&found).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (s *State) findUncompletedConsume(tx *gorm.DB, accountId, noteId string) (*db.Transaction, error) {
	var txs []*db.Transaction
	err := tx.Where("type = ? AND account_id = ? AND status IN ?", db.TX_TYPE_CONSUME, accountId, uncompletedStatuses).
		Order("initiated_at asc, id asc").Find(&txs).Error
	if err != nil {
		return nil, err
	}
	for _, t := range txs {
		if t.InputNoteIds.Contains(noteId) {
			return t, nil
		}
	}
	return nil, nil
}

// refreshQueueState must be called with txMu held
func (s *State) refreshQueueState(tx *gorm.DB) {
	var queued int64
	if err := tx.Model(&db.Transaction{}).Where("status = ?", db.TX_STATUS_QUEUED).Count(&queued).Error; err != nil {
		log.Warnf("Failed to count queued transactions: %v", err)
		return
	}
	var inProgress db.Transaction
	err := tx.Where("status = ?", db.TX_STATUS_GENERATING).First(&inProgress).Error
	s.queueState.Queued = queued
	if err != nil {
		s.queueState.InProgress = nil
	} else {
		s.queueState.InProgress = &inProgress
	}
}
