package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	bootstrap "github.com/tbeaudouin05/study-entitlements/api/bootstrap"
	config "github.com/tbeaudouin05/study-entitlements/api/config"
	"github.com/tbeaudouin05/study-entitlements/api/router"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the gRPC health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := bootstrap.Ensure(); err != nil {
			return err
		}
		cfg := config.AppConfig
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcServer := grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		httpServer := &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           router.NewRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 2)
		go func() {
			slog.Info("grpc health listening", "port", cfg.GRPCPort)
			errCh <- grpcServer.Serve(grpcLis)
		}()
		go func() {
			slog.Info("http listening", "port", cfg.HTTPPort)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()

		select {
		case <-ctx.Done():
			slog.Info("shutting down")
		case err = <-errCh:
			if err != nil {
				slog.Error("server stopped", "err", err)
			}
		}

		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
			slog.Error("http shutdown failed", "err", serr)
		}
		grpcServer.GracefulStop()
		return err
	},
}
