package state

import (
	"time"

	"github.com/goatnetwork/note-wallet/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetVaultItem returns the stored value of key, ok is false when missing
func (s *State) GetVaultItem(key string) (value []byte, ok bool, err error) {
	s.vaultMu.RLock()
	defer s.vaultMu.RUnlock()

	var item db.VaultItem
	err = s.dbm.GetVaultDB().Where("item_key = ?", key).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

// PutVaultItems writes items and deletes removeKeys in one db transaction
func (s *State) PutVaultItems(items map[string][]byte, removeKeys ...string) error {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()

	now := time.Now()
	return s.dbm.GetVaultDB().Transaction(func(tx *gorm.DB) error {
		for key, value := range items {
			item := &db.VaultItem{Key: key, Value: value, UpdatedAt: now}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(item).Error; err != nil {
				return err
			}
		}
		if len(removeKeys) > 0 {
			if err := tx.Where("item_key IN ?", removeKeys).Delete(&db.VaultItem{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearVault deletes every vault item
func (s *State) ClearVault() error {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()

	return s.dbm.GetVaultDB().Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&db.VaultItem{}).Error
}
