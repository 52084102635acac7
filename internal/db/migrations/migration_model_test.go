package migrations

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordIdSync struct {
	ID      uint `gorm:"primaryKey"`
	Address string
	StartId uint64
	EndId   uint64
}

func (recordIdSync) TableName() string { return "record_id_syncs" }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "sync.db")), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func TestRunAllAppliesOnce(t *testing.T) {
	gdb := openTestDB(t)
	require.NoError(t, gdb.AutoMigrate(&recordIdSync{}))
	require.NoError(t, gdb.Create(&[]recordIdSync{
		{Address: "0xa", StartId: 0, EndId: 10},
		{Address: "0xa", StartId: 10, EndId: 10},
		{Address: "0xa", StartId: 20, EndId: 15},
	}).Error)

	mm := NewMigrationManager(gdb)
	require.NoError(t, mm.RunAll(SyncSteps))
	assert.True(t, mm.HasMigration(SyncSteps[0].Name))

	var rows []recordIdSync
	require.NoError(t, gdb.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(10), rows[0].EndId)

	calls := 0
	step := Step{Name: "20990101_counted", Apply: func(*gorm.DB) error {
		calls++
		return nil
	}}
	require.NoError(t, mm.RunAll([]Step{step}))
	require.NoError(t, mm.RunAll([]Step{step}))
	assert.Equal(t, 1, calls)
}

func TestRunMigrationRollsBackOnError(t *testing.T) {
	gdb := openTestDB(t)
	mm := NewMigrationManager(gdb)
	require.NoError(t, mm.EnsureMigrationTable())

	err := mm.RunMigration("20990101_broken", func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE TABLE scratch (id INTEGER)").Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, mm.HasMigration("20990101_broken"))
	assert.False(t, gdb.Migrator().HasTable("scratch"))
}
