package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/telecare/signaling-service/internal/postgres"
	"github.com/telecare/signaling-service/internal/service"
	grpcx "github.com/telecare/signaling-service/internal/transport/grpc"
	httpx "github.com/telecare/signaling-service/internal/transport/http"
	"github.com/telecare/signaling-service/internal/transport/ws"
	"github.com/telecare/signaling-service/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay (HTTP/websocket and census gRPC)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	// --- config ---
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting signaling-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	verifier, err := newJWT(cfg.Security.JWT)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}

	// --- postgres / audit ---
	var (
		pool  *pgxpool.Pool
		store service.AuditStore
	)
	if cfg.Postgres.Enabled() {
		pool, err = postgres.NewPool(ctx, postgres.Config{
			DSN:               cfg.Postgres.DSN,
			MaxConns:          cfg.Postgres.MaxConns,
			MinConns:          cfg.Postgres.MinConns,
			MaxConnLifetime:   cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Postgres.MaxConnIdleTime,
			HealthCheckPeriod: cfg.Postgres.HealthCheckPeriod,
			ApplicationName:   cfg.Postgres.ApplicationName,
			SlowQuery:         cfg.Postgres.SlowQuery,
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		store = postgres.NewAuditRepository(pool)
	} else {
		slog.Warn("postgres.dsn is empty, audit trail disabled")
	}
	audit := service.NewAuditService(store, service.AuditOptions{
		QueueSize: cfg.Audit.QueueSize,
		Workers:   cfg.Audit.Workers,
	})

	// --- registry & websocket ---
	registry := ws.NewRegistry()
	wsServer := ws.NewServer(registry, verifier, audit, ws.Options{
		PingInterval:      cfg.Signaling.PingInterval,
		WriteTimeout:      cfg.Signaling.WriteTimeout,
		MaxMessageBytes:   cfg.Signaling.MaxMessageBytes,
		SendQueue:         cfg.Signaling.SendQueue,
		MessagesPerSecond: cfg.Signaling.MessagesPerSecond,
		Burst:             cfg.Signaling.Burst,
		AllowedOrigins:    cfg.Signaling.AllowedOrigins,
	})

	// --- HTTP ---
	router := httpx.NewRouter(httpx.Deps{
		Handler:           httpx.NewHandler(registry, audit, cfg.ICE.WebRTC()),
		WS:                wsServer,
		Verifier:          verifier,
		AllowedOrigins:    cfg.Signaling.AllowedOrigins,
		CensusRequireAuth: cfg.Census.RequireAuth,
	})
	httpSrv := httpx.NewServer(httpx.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, router)

	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	go func() {
		errCh <- httpSrv.Run(runCtx, httpLis)
	}()

	// --- gRPC census ---
	var stopGRPC func()
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer := grpcx.NewGRPCServer(grpcx.NewServer(registry), verifier, cfg.Census.RequireAuth)
		stopGRPC = grpcServer.GracefulStop

		go func() {
			slog.Info("grpc listening", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	// --- graceful shutdown ---
	runErr := awaitStop(ctx, errCh)
	cancel()

	if stopGRPC != nil {
		stopGRPC()
	}
	// hijacked websocket conns are invisible to http.Server.Shutdown
	registry.CloseAll()

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	// let session handlers run their leave path before the audit queue closes
	waitEmpty(shCtx, registry)
	if err := audit.Close(shCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("audit drain incomplete", "err", err)
	}

	slog.Info("stopped")
	return runErr
}

// awaitStop blocks until a shutdown signal or a listener failure and
// returns the failure, if any.
func awaitStop(ctx context.Context, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "err", err)
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func waitEmpty(ctx context.Context, registry *ws.Registry) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for len(registry.Rooms()) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
