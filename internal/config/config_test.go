package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigDefaults(t *testing.T) {
	t.Setenv("DB_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "warn")
	InitConfig()

	assert.Equal(t, "8080", AppConfig.HTTPPort)
	assert.Equal(t, logrus.WarnLevel, AppConfig.LogLevel)
	assert.Equal(t, []string{"testnet"}, AppConfig.Networks)
	assert.Equal(t, "testnet", AppConfig.DefaultNetwork)
	assert.Equal(t, AppConfig.ChainRPC, AppConfig.NetworkRPCs["testnet"])
	assert.Equal(t, uint64(10000), AppConfig.SyncBatchSize)
	assert.Equal(t, 30*time.Minute, AppConfig.StuckTxTimeout)
	assert.Equal(t, 30*time.Minute, AppConfig.SessionTTL)
}

func TestInitConfigNetworks(t *testing.T) {
	t.Setenv("DB_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("NETWORKS", " devnet, mainnet ,")
	t.Setenv("DEFAULT_NETWORK", "testnet")
	t.Setenv("CHAIN_RPC", "http://node:57291")
	t.Setenv("CHAIN_RPC_MAINNET", "https://mainnet.example:443")
	InitConfig()

	assert.Equal(t, []string{"testnet", "devnet", "mainnet"}, AppConfig.Networks)
	assert.Equal(t, "http://node:57291", AppConfig.NetworkRPCs["devnet"])
	assert.Equal(t, "https://mainnet.example:443", AppConfig.NetworkRPCs["mainnet"])
}

func TestLogOutputRotates(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "wallet.log")
	t.Setenv("DB_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("LOG_FILE", logFile)
	InitConfig()
	t.Cleanup(func() {
		logrus.SetOutput(os.Stdout)
		if logRotator != nil {
			logRotator.Close()
			logRotator = nil
		}
	})

	require.NotNil(t, logRotator)
	info, err := os.Stat(filepath.Dir(logFile))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
