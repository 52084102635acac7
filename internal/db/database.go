package db

import (
	"os"
	"path/filepath"

	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/db/migrations"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	syncDb   *gorm.DB
	walletDb *gorm.DB
	vaultDb  *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB()
	return dm
}

func (dm *DatabaseManager) initDB() {
	dbDir := config.AppConfig.DbDir
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	dm.syncDb = openDB(filepath.Join(dbDir, "sync.db"))
	dm.walletDb = openDB(filepath.Join(dbDir, "wallet.db"))
	dm.vaultDb = openDB(filepath.Join(dbDir, "vault.db"))

	dm.autoMigrate()
	dm.runMigrations()
	log.Debugf("Database migration completed successfully")
}

func openDB(path string) *gorm.DB {
	// sqlite allows one writer, busy_timeout makes concurrent writers wait instead of failing
	gdb, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database %s: %v", path, err)
	}
	log.Debugf("Database connected successfully, path: %s", path)
	return gdb
}

func (dm *DatabaseManager) runMigrations() {
	if err := migrations.NewMigrationManager(dm.syncDb).RunAll(migrations.SyncSteps); err != nil {
		log.Fatalf("Failed to run sync migrations: %v", err)
	}
	if err := migrations.NewMigrationManager(dm.walletDb).RunAll(migrations.WalletSteps); err != nil {
		log.Fatalf("Failed to run wallet migrations: %v", err)
	}
}

func (dm *DatabaseManager) GetSyncDB() *gorm.DB {
	return dm.syncDb
}

func (dm *DatabaseManager) GetWalletDB() *gorm.DB {
	return dm.walletDb
}

func (dm *DatabaseManager) GetVaultDB() *gorm.DB {
	return dm.vaultDb
}

// Close closes the underlying connections
func (dm *DatabaseManager) Close() {
	for _, gdb := range []*gorm.DB{dm.syncDb, dm.walletDb, dm.vaultDb} {
		if gdb == nil {
			continue
		}
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
