package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/clientlock"
	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/goatnetwork/note-wallet/internal/export"
	"github.com/goatnetwork/note-wallet/internal/http"
	"github.com/goatnetwork/note-wallet/internal/notes"
	"github.com/goatnetwork/note-wallet/internal/rpc"
	"github.com/goatnetwork/note-wallet/internal/scanner"
	"github.com/goatnetwork/note-wallet/internal/state"
	"github.com/goatnetwork/note-wallet/internal/txqueue"
	"github.com/goatnetwork/note-wallet/internal/vault"
	"github.com/joho/godotenv"
	"github.com/lightningnetwork/lnd/clock"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	State           *state.State
	Vault           *vault.Vault
	SyncService     *scanner.SyncService
	QueueService    *txqueue.QueueService
	MetadataFetcher *notes.MetadataFetcher
	HTTPServer      *http.HTTPServer
	HealthServer    *rpc.HealthServer
}

func NewApplication() *Application {
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded environment from .env")
	}
	config.InitConfig()

	dbm := db.NewDatabaseManager()
	state := state.InitializeState(dbm)
	clk := clock.NewDefaultClock()

	// every network client is reached through the same serializer
	serializer := clientlock.NewSerializer()
	networks := make(map[string]*chainclient.Manager, len(config.AppConfig.Networks))
	for _, network := range config.AppConfig.Networks {
		networks[network] = chainclient.NewManager(chainclient.NewRemoteFactory(config.AppConfig.NetworkRPCs[network]), serializer)
	}
	clients := networks[config.AppConfig.DefaultNetwork]

	walletVault := vault.NewVault(state, networks, config.AppConfig.DefaultNetwork, vault.NewFileHardwareKey(config.AppConfig.HardwareKeyFile))
	orchestrator := scanner.NewOrchestrator(state, clients, clk)
	syncService := scanner.NewSyncService(state, clients, orchestrator, walletVault)
	queue := txqueue.NewQueue(state, clients, clk)
	queueService := txqueue.NewQueueService(state, queue)
	fetcher := notes.NewMetadataFetcher(state, clients, clk)

	sessions, err := http.NewSessions(config.AppConfig.SessionTTL, clk)
	if err != nil {
		log.Fatalf("Failed to init sessions: %v", err)
	}
	httpServer := http.NewHTTPServer(&http.Services{
		State:        state,
		Vault:        walletVault,
		Queue:        queue,
		Notes:        notes.NewClaimableNotes(state, clients, fetcher),
		Orchestrator: orchestrator,
		Exporter:     export.NewExporter(state),
	}, sessions)
	healthServer := rpc.NewHealthServer(state, walletVault)

	return &Application{
		DatabaseManager: dbm,
		State:           state,
		Vault:           walletVault,
		SyncService:     syncService,
		QueueService:    queueService,
		MetadataFetcher: fetcher,
		HTTPServer:      httpServer,
		HealthServer:    healthServer,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.SyncService.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.QueueService.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.MetadataFetcher.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HTTPServer.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HealthServer.Start(ctx)
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	app.Vault.Lock()
	app.DatabaseManager.Close()
	log.Info("Server stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
