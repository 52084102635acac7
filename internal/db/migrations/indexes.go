package migrations

import (
	"gorm.io/gorm"
)

// AddRecordSyncAddressStartIndex adds the (address, start_id) index used by the sync planner
func AddRecordSyncAddressStartIndex(tx *gorm.DB) error {
	if err := tx.Exec("CREATE INDEX IF NOT EXISTS record_id_syncs_address_start_index ON record_id_syncs (address, start_id)").Error; err != nil {
		return err
	}

	// Drop empty or inverted ranges left by older builds
	if err := tx.Exec("DELETE FROM record_id_syncs WHERE start_id >= end_id").Error; err != nil {
		return err
	}

	return nil
}

// AddTransactionAccountStatusIndex backs the per-account uncompleted and completed listings
func AddTransactionAccountStatusIndex(tx *gorm.DB) error {
	return tx.Exec("CREATE INDEX IF NOT EXISTS transactions_account_status_index ON transactions (account_id, status)").Error
}
