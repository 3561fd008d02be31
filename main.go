package main

import (
	"bitwise74/asset-api/app"
	"bitwise74/asset-api/config"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	err := config.Setup()
	if err != nil {
		panic(err)
	}

	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	app.MakeLogger(cfg.App.LogLevel)
	defer zap.L().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := app.NewServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer s.Close()

	errs := make(chan error, 1)

	if cfg.App.Mode == "worker" || cfg.App.Mode == "all" {
		wsrv, err := startWorker(s)
		if err != nil {
			zap.L().Fatal("Failed to start worker", zap.Error(err))
		}

		if wsrv != nil {
			defer wsrv.Shutdown()
		}
	}

	var srv *http.Server

	if cfg.App.Mode == "api" || cfg.App.Mode == "all" {
		if err := s.StartBackground(); err != nil {
			zap.L().Fatal("Failed to start background jobs", zap.Error(err))
		}

		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Host.Port),
			Handler:           app.NewRouter(s.Deps),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			zap.L().Info("Server starting", zap.String("addr", srv.Addr), zap.String("mode", cfg.App.Mode))

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		zap.L().Info("Shutting down")
	case err := <-errs:
		zap.L().Error("Server stopped", zap.Error(err))
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("Failed to shut down server", zap.Error(err))
		}
	}
}

// startWorker runs the asynq server in the background. Without redis,
// "all" mode processes jobs in-process instead and nil is returned.
func startWorker(s *app.Services) (*asynq.Server, error) {
	wsrv, mux, err := s.Worker()
	if err != nil {
		if s.Deps.Config.App.Mode == "all" {
			return nil, nil
		}

		return nil, err
	}

	if err := wsrv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start asynq server, %w", err)
	}

	zap.L().Info("Worker started", zap.String("queue", s.Deps.Config.Jobs.Queue))
	return wsrv, nil
}
