package state

import (
	"time"

	"github.com/goatnetwork/note-wallet/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetFaucetMetadata returns cached metadata of faucetId, nil if not cached
func (s *State) GetFaucetMetadata(faucetId string) (*db.FaucetMetadata, error) {
	s.faucetMu.RLock()
	defer s.faucetMu.RUnlock()

	var m db.FaucetMetadata
	err := s.dbm.GetWalletDB().Where("faucet_id = ?", faucetId).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetFaucetMetadataMap returns the cached subset of faucetIds keyed by faucet id
func (s *State) GetFaucetMetadataMap(faucetIds []string) (map[string]*db.FaucetMetadata, error) {
	s.faucetMu.RLock()
	defer s.faucetMu.RUnlock()

	out := make(map[string]*db.FaucetMetadata, len(faucetIds))
	if len(faucetIds) == 0 {
		return out, nil
	}
	var list []*db.FaucetMetadata
	if err := s.dbm.GetWalletDB().Where("faucet_id IN ?", faucetIds).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, m := range list {
		out[m.FaucetId] = m
	}
	return out, nil
}

func (s *State) SaveFaucetMetadata(m *db.FaucetMetadata) error {
	s.faucetMu.Lock()
	defer s.faucetMu.Unlock()

	m.UpdatedAt = time.Now()
	return s.dbm.GetWalletDB().Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error
}

func (s *State) ListFaucetMetadata() ([]*db.FaucetMetadata, error) {
	s.faucetMu.RLock()
	defer s.faucetMu.RUnlock()

	var list []*db.FaucetMetadata
	err := s.dbm.GetWalletDB().Order("faucet_id asc").Find(&list).Error
	return list, err
}

// ImportFaucetMetadata upserts list by faucet id
func (s *State) ImportFaucetMetadata(list []*db.FaucetMetadata) error {
	if len(list) == 0 {
		return nil
	}
	s.faucetMu.Lock()
	defer s.faucetMu.Unlock()

	return s.dbm.GetWalletDB().Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(list).Error
	})
}
