package migrations

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migration is the applied-migration record, one table per database file
type Migration struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	AppliedAt time.Time `gorm:"not null"`
}

// Step is a named schema change, names sort by date so they apply in order
type Step struct {
	Name  string
	Apply func(*gorm.DB) error
}

// SyncSteps change sync.db
var SyncSteps = []Step{
	{Name: "20250312_record_sync_address_start_index", Apply: AddRecordSyncAddressStartIndex},
}

// WalletSteps change wallet.db
var WalletSteps = []Step{
	{Name: "20250402_transaction_account_status_index", Apply: AddTransactionAccountStatusIndex},
}

type MigrationManager struct {
	db *gorm.DB
}

func NewMigrationManager(db *gorm.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

func (m *MigrationManager) EnsureMigrationTable() error {
	if m.db.Migrator().HasTable(&Migration{}) {
		return nil
	}
	log.Debugf("Creating migrations table")
	return m.db.AutoMigrate(&Migration{})
}

func (m *MigrationManager) HasMigration(name string) bool {
	var count int64
	err := m.db.Model(&Migration{}).Where("name = ?", name).Count(&count).Error
	return err == nil && count > 0
}

// RunAll applies steps in order, each in its own transaction together with its record
func (m *MigrationManager) RunAll(steps []Step) error {
	if err := m.EnsureMigrationTable(); err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}
	for _, step := range steps {
		if err := m.RunMigration(step.Name, step.Apply); err != nil {
			return err
		}
	}
	return nil
}

// RunMigration applies fn once, a recorded name is skipped
func (m *MigrationManager) RunMigration(name string, fn func(*gorm.DB) error) error {
	applied := false
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Migration{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("check migration status: %w", err)
		}
		if count > 0 {
			return nil
		}
		if err := fn(tx); err != nil {
			return err
		}
		applied = true
		return tx.Create(&Migration{Name: name, AppliedAt: time.Now()}).Error
	})
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", name, err)
	}
	if applied {
		log.Infof("Applied migration %s", name)
	} else {
		log.Debugf("Migration %s has already been applied, skipping", name)
	}
	return nil
}
