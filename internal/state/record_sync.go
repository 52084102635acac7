package state

import (
	"time"

	"github.com/goatnetwork/note-wallet/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetRecordIdSyncs returns the recorded ranges of address ordered by start
func (s *State) GetRecordIdSyncs(address string) ([]db.RecordIdSync, error) {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()

	var syncs []db.RecordIdSync
	err := s.dbm.GetSyncDB().Where("address = ?", address).Order("start_id asc").Find(&syncs).Error
	return syncs, err
}

// AddRecordIdSync records a completed range for address
func (s *State) AddRecordIdSync(address string, startId, endId uint64) error {
	return s.SaveScanBatch(nil, []*db.RecordIdSync{{Address: address, StartId: startId, EndId: endId}})
}

// SaveScanBatch upserts owned records and adds the completed ranges in one db transaction,
// so a crash never leaves a range recorded without its records or the other way round
func (s *State) SaveScanBatch(records []*db.OwnedRecord, syncs []*db.RecordIdSync) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	now := time.Now()
	for _, r := range records {
		r.UpdatedAt = now
	}

	err := s.dbm.GetSyncDB().Transaction(func(tx *gorm.DB) error {
		if len(records) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(records).Error; err != nil {
				return err
			}
		}
		if len(syncs) > 0 {
			if err := tx.Create(syncs).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.refreshSyncState(s.dbm.GetSyncDB())
	return nil
}

// ReplaceRecordIdSyncs swaps all ranges of address for ranges atomically
func (s *State) ReplaceRecordIdSyncs(address string, ranges []db.RecordIdSync) error {
	_, err := s.rewriteRecordIdSyncs(address, func(string, []db.RecordIdSync) []db.RecordIdSync {
		return ranges
	}, true)
	return err
}

// CompactRecordIdSyncs rewrites the ranges of address with compact(recorded) in one db transaction.
// Nothing is written when compact returns the same number of ranges, the new count is returned.
func (s *State) CompactRecordIdSyncs(address string, compact func(address string, recorded []db.RecordIdSync) []db.RecordIdSync) (int, error) {
	return s.rewriteRecordIdSyncs(address, compact, false)
}

func (s *State) rewriteRecordIdSyncs(address string, rewrite func(string, []db.RecordIdSync) []db.RecordIdSync, force bool) (int, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	var count int
	err := s.dbm.GetSyncDB().Transaction(func(tx *gorm.DB) error {
		var recorded []db.RecordIdSync
		if err := tx.Where("address = ?", address).Order("start_id asc").Find(&recorded).Error; err != nil {
			return err
		}
		ranges := rewrite(address, recorded)
		count = len(ranges)
		if !force && count == len(recorded) {
			return nil
		}
		if err := tx.Where("address = ?", address).Delete(&db.RecordIdSync{}).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		rows := make([]db.RecordIdSync, count)
		for i, r := range ranges {
			rows[i] = db.RecordIdSync{Address: address, StartId: r.StartId, EndId: r.EndId}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return 0, err
	}
	s.refreshSyncState(s.dbm.GetSyncDB())
	return count, nil
}

// GetOwnedRecords returns the owned records of address ordered by id
func (s *State) GetOwnedRecords(address string) ([]*db.OwnedRecord, error) {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()

	var records []*db.OwnedRecord
	err := s.dbm.GetSyncDB().Where("address = ?", address).Order("id asc").Find(&records).Error
	return records, err
}

// AddPublicSync records the block range covered by a finished sync round
func (s *State) AddPublicSync(address string, startBlock, endBlock uint64) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	err := s.dbm.GetSyncDB().Create(&db.PublicSync{
		Address:    address,
		StartBlock: startBlock,
		EndBlock:   endBlock,
		UpdatedAt:  time.Now(),
	}).Error
	if err != nil {
		return err
	}
	if endBlock > s.syncState.LastBlock {
		s.syncState.LastBlock = endBlock
	}
	return nil
}

// GetLastPublicSyncBlock returns the highest synced block of address, 0 if never synced
func (s *State) GetLastPublicSyncBlock(address string) (uint64, error) {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()

	var last db.PublicSync
	err := s.dbm.GetSyncDB().Where("address = ?", address).Order("end_block desc").First(&last).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.EndBlock, nil
}

// ResyncAccount deletes the scanned data of address so the next plan starts from its creation bound
func (s *State) ResyncAccount(address string) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	err := s.dbm.GetSyncDB().Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&db.OwnedRecord{}, &db.RecordIdSync{}, &db.PublicSync{}} {
			if err := tx.Where("address = ?", address).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("State resync account %s, scanned data deleted", address)
	s.refreshSyncState(s.dbm.GetSyncDB())
	return nil
}

// DeleteAccountData deletes every sync row of address including its creation bound
func (s *State) DeleteAccountData(address string) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	err := s.dbm.GetSyncDB().Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&db.OwnedRecord{}, &db.RecordIdSync{}, &db.PublicSync{}, &db.AccountCreation{}} {
			if err := tx.Where("address = ?", address).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.refreshSyncState(s.dbm.GetSyncDB())
	return nil
}

// GetAccountCreationRecordId returns the lowest record id to scan for address, 0 if unknown
func (s *State) GetAccountCreationRecordId(address string) (uint64, error) {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()

	var creation db.AccountCreation
	err := s.dbm.GetSyncDB().Where("address = ?", address).First(&creation).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return creation.AssociatedRecordId, nil
}

// SaveAccountCreation stores the creation bound of address, an existing bound is kept
func (s *State) SaveAccountCreation(address string, blockHeight, recordId uint64) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	return s.dbm.GetSyncDB().Clauses(clause.OnConflict{DoNothing: true}).Create(&db.AccountCreation{
		Address:            address,
		BlockHeight:        blockHeight,
		AssociatedRecordId: recordId,
		UpdatedAt:          time.Now(),
	}).Error
}

// refreshSyncState must be called with syncMu held
func (s *State) refreshSyncState(tx *gorm.DB) {
	var (
		addresses []string
		count     int64
	)
	if err := tx.Model(&db.RecordIdSync{}).Distinct().Pluck("address", &addresses).Error; err != nil {
		log.Warnf("Failed to load synced addresses: %v", err)
		return
	}
	if err := tx.Model(&db.RecordIdSync{}).Count(&count).Error; err != nil {
		log.Warnf("Failed to count record syncs: %v", err)
		return
	}
	s.syncState.Addresses = addresses
	s.syncState.RecordSyncCount = count
}
