package config

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

var logRotator *rotator.Rotator

func InitConfig() {
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("RPC_PORT", "50051")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FILE", "")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("CHAIN_RPC", "http://localhost:57291")
	viper.SetDefault("PROVER_ENDPOINT", "")
	viper.SetDefault("DELEGATE_PROVING", false)
	viper.SetDefault("NETWORKS", "testnet")
	viper.SetDefault("DEFAULT_NETWORK", "testnet")
	viper.SetDefault("SYNC_INTERVAL", "10s")
	viper.SetDefault("SYNC_BATCH_SIZE", 10000)
	viper.SetDefault("SYNC_STEPS_PER_ROUND", 3)
	viper.SetDefault("USE_GPU_SCANNER", false)
	viper.SetDefault("INCLUDE_TAGGED_RECORDS", false)
	viper.SetDefault("SCAN_PERF_MIN_RECORDS", 1000)
	viper.SetDefault("DRAIN_INTERVAL", "5s")
	viper.SetDefault("STUCK_TX_TIMEOUT", "30m")
	viper.SetDefault("STUCK_NOTE_GRACE", "1m")
	viper.SetDefault("TX_WAIT_TIMEOUT", "5m")
	viper.SetDefault("TX_POLL_INTERVAL", "5s")
	viper.SetDefault("HARDWARE_KEY_FILE", "")
	viper.SetDefault("SESSION_TTL", "30m")
	viper.SetDefault("METADATA_RETRY_INTERVAL", "1m")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	batchSize := viper.GetUint64("SYNC_BATCH_SIZE")
	if batchSize == 0 {
		logrus.Fatalf("SYNC_BATCH_SIZE must be positive")
	}

	AppConfig = Config{
		HTTPPort:             viper.GetString("HTTP_PORT"),
		RPCPort:              viper.GetString("RPC_PORT"),
		LogLevel:             logLevel,
		LogFile:              viper.GetString("LOG_FILE"),
		DbDir:                viper.GetString("DB_DIR"),
		ChainRPC:             viper.GetString("CHAIN_RPC"),
		ProverEndpoint:       viper.GetString("PROVER_ENDPOINT"),
		DelegateProving:      viper.GetBool("DELEGATE_PROVING"),
		Networks:             splitList(viper.GetString("NETWORKS")),
		DefaultNetwork:       viper.GetString("DEFAULT_NETWORK"),
		SyncInterval:         viper.GetDuration("SYNC_INTERVAL"),
		SyncBatchSize:        batchSize,
		SyncStepsPerRound:    viper.GetInt("SYNC_STEPS_PER_ROUND"),
		UseGPUScanner:        viper.GetBool("USE_GPU_SCANNER"),
		IncludeTaggedRecords: viper.GetBool("INCLUDE_TAGGED_RECORDS"),
		ScanPerfMinRecords:   viper.GetInt("SCAN_PERF_MIN_RECORDS"),
		DrainInterval:        viper.GetDuration("DRAIN_INTERVAL"),
		StuckTxTimeout:       viper.GetDuration("STUCK_TX_TIMEOUT"),
		StuckNoteGrace:       viper.GetDuration("STUCK_NOTE_GRACE"),
		TxWaitTimeout:        viper.GetDuration("TX_WAIT_TIMEOUT"),
		TxPollInterval:       viper.GetDuration("TX_POLL_INTERVAL"),
		HardwareKeyFile:      viper.GetString("HARDWARE_KEY_FILE"),
		SessionTTL:           viper.GetDuration("SESSION_TTL"),
		MetadataRetry:        viper.GetDuration("METADATA_RETRY_INTERVAL"),
	}

	if !slices.Contains(AppConfig.Networks, AppConfig.DefaultNetwork) {
		AppConfig.Networks = append([]string{AppConfig.DefaultNetwork}, AppConfig.Networks...)
	}
	AppConfig.NetworkRPCs = make(map[string]string, len(AppConfig.Networks))
	for _, network := range AppConfig.Networks {
		AppConfig.NetworkRPCs[network] = AppConfig.ChainRPC
		if endpoint := viper.GetString("CHAIN_RPC_" + strings.ToUpper(network)); endpoint != "" {
			AppConfig.NetworkRPCs[network] = endpoint
		}
	}

	logrus.Infof("Init config, ChainRPC %s, Networks %v, SyncInterval %v, DrainInterval %v, StuckTxTimeout %v",
		AppConfig.ChainRPC, AppConfig.Networks, AppConfig.SyncInterval, AppConfig.DrainInterval, AppConfig.StuckTxTimeout)

	// logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(logOutput(AppConfig.LogFile))
	logrus.SetLevel(AppConfig.LogLevel)
}

// logOutput tees stdout into a size-rotated file when LOG_FILE is set.
func logOutput(logFile string) io.Writer {
	if logFile == "" {
		return os.Stdout
	}
	if logRotator != nil {
		logRotator.Close()
		logRotator = nil
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		logrus.Warnf("Failed to create log directory: %v", err)
		return os.Stdout
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		logrus.Warnf("Failed to create log rotator: %v", err)
		return os.Stdout
	}
	logRotator = r
	return io.MultiWriter(os.Stdout, r)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

type Config struct {
	HTTPPort             string
	RPCPort              string
	LogLevel             logrus.Level
	LogFile              string
	DbDir                string
	ChainRPC             string
	NetworkRPCs          map[string]string
	ProverEndpoint       string
	DelegateProving      bool
	Networks             []string
	DefaultNetwork       string
	SyncInterval         time.Duration
	SyncBatchSize        uint64
	SyncStepsPerRound    int
	UseGPUScanner        bool
	IncludeTaggedRecords bool
	ScanPerfMinRecords   int
	DrainInterval        time.Duration
	StuckTxTimeout       time.Duration
	StuckNoteGrace       time.Duration
	TxWaitTimeout        time.Duration
	TxPollInterval       time.Duration
	HardwareKeyFile      string
	SessionTTL           time.Duration
	MetadataRetry        time.Duration
}
