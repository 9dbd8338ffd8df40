package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/lorebound/lorebound/internal/platform/requestctx"
	"github.com/lorebound/lorebound/internal/platform/timeouts"
	"github.com/lorebound/lorebound/internal/services/game/domain/lock"
	"github.com/lorebound/lorebound/internal/services/game/storage"
	storagesqlite "github.com/lorebound/lorebound/internal/services/game/storage/sqlite"
)

// RuntimeConfig controls game core startup.
type RuntimeConfig struct {
	Port          int
	DBPath        string
	SweepInterval time.Duration
	// Rolls plugs in the external roll resolution signal; nil means no
	// rolls ever block.
	Rolls RollSignal
}

const (
	defaultGamePort = 8086
	defaultGameDB   = "data/game.db"
)

// Components bundles the running game core services.
type Components struct {
	Store      storage.Store
	Bus        *Bus
	Locks      *LockManager
	Phases     *PhaseCoordinator
	Visibility *VisibilityLedger
	Lifecycle  *Lifecycle
}

// NewComponents wires the game core services over one store.
func NewComponents(store storage.Store, rolls RollSignal) Components {
	bus := NewBus()
	roles := NewStoreRoles(store)
	return Components{
		Store:      store,
		Bus:        bus,
		Locks:      NewLockManager(store, roles, bus),
		Phases:     NewPhaseCoordinator(store, roles, rolls, bus),
		Visibility: NewVisibilityLedger(store, roles, bus),
		Lifecycle:  NewLifecycle(store, roles),
	}
}

// StoreRoles answers moderator checks from campaign records.
type StoreRoles struct {
	store storage.CampaignStore
}

// NewStoreRoles creates a store-backed role resolver.
func NewStoreRoles(store storage.CampaignStore) *StoreRoles {
	return &StoreRoles{store: store}
}

// IsModerator reports whether the participant moderates the campaign.
func (r *StoreRoles) IsModerator(ctx context.Context, campaignID, participantID string) (bool, error) {
	record, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	participantID = strings.TrimSpace(participantID)
	return participantID != "" && record.ModeratorParticipantID == participantID, nil
}

// Run starts the game core: SQLite storage, the component set, the expired
// lock sweeper, and a health endpoint.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultGamePort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultGameDB
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = lock.SweepInterval
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create game storage dir: %w", err)
		}
	}

	store, err := storagesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open game sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close game sqlite store: %v", closeErr)
		}
	}()

	components := NewComponents(store, cfg.Rolls)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on game port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(participantUnaryInterceptor),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("game.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return grpcServer.Serve(listener)
	})
	group.Go(func() error {
		defer func() {
			healthServer.Shutdown()
			stopServer(grpcServer)
		}()
		runSweeper(groupCtx, components.Locks, cfg.SweepInterval)
		return groupCtx.Err()
	})

	log.Printf("game server listening at %v", listener.Addr())
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// participantIDHeader is the gRPC metadata key carrying caller identity.
const participantIDHeader = "x-lorebound-participant-id"

// participantUnaryInterceptor copies the caller's participant id from incoming
// metadata into request context for downstream authz and audit logs.
func participantUnaryInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(participantIDHeader); len(values) > 0 {
			ctx = requestctx.WithParticipantID(ctx, values[0])
		}
	}
	return handler(ctx, req)
}

// stopServer drains in-flight RPCs, falling back to a hard stop when graceful
// shutdown outlasts timeouts.Shutdown.
func stopServer(grpcServer *grpc.Server) {
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeouts.Shutdown):
		grpcServer.Stop()
	}
}

// runSweeper reclaims expired locks on a fixed cadence until the context
// ends. The sweep is cleanup only; every read path already treats expired
// locks as gone.
func runSweeper(ctx context.Context, locks *LockManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, timeouts.SweepQuery)
			reclaimed, err := locks.Sweep(sweepCtx)
			cancel()
			if err != nil {
				log.Printf("sweep expired locks: %v", err)
				continue
			}
			if len(reclaimed) > 0 {
				log.Printf("reclaimed %d expired lock(s)", len(reclaimed))
			}
		}
	}
}
