package rpc

import (
	"context"
	"net"

	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/state"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// WALLET_SERVICE is the health service name that follows the vault status
const WALLET_SERVICE = "notewallet.Wallet"

// ReadinessSource reports whether the wallet is unlocked
type ReadinessSource interface {
	IsReady() bool
}

// HealthServer answers grpc health checks, the process itself is always SERVING and
// WALLET_SERVICE is SERVING only while the vault is unlocked
type HealthServer struct {
	state  *state.State
	vault  ReadinessSource
	health *health.Server
	logger *log.Entry
}

func NewHealthServer(st *state.State, vault ReadinessSource) *HealthServer {
	s := &HealthServer{
		state:  st,
		vault:  vault,
		health: health.NewServer(),
		logger: log.WithFields(log.Fields{
			"module": "rpc",
		}),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.refresh()
	return s
}

func (s *HealthServer) Start(ctx context.Context) {
	addr := ":" + config.AppConfig.RPCPort
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Fatalf("failed to listen: %v", err)
	}
	s.logger.Infof("gRPC server is running on port %s", config.AppConfig.RPCPort)
	if err := s.Serve(ctx, lis); err != nil {
		s.logger.Fatalf("failed to serve: %v", err)
	}
}

// Serve blocks on lis until ctx is done
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, s.health)
	reflection.Register(server)

	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		server.GracefulStop()
	}()
	return server.Serve(lis)
}

func (s *HealthServer) watch(ctx context.Context) {
	eventCh := make(chan interface{}, state.EVENT_CHAN_LENGTH)
	s.state.EventBus.Subscribe(state.VaultStateChanged, eventCh)
	defer s.state.EventBus.Unsubscribe(state.VaultStateChanged, eventCh)

	// the vault may have changed before the subscription
	s.refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-eventCh:
			s.refresh()
		}
	}
}

func (s *HealthServer) refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.vault.IsReady() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.logger.Debugf("Wallet health %s", status)
	s.health.SetServingStatus(WALLET_SERVICE, status)
}
