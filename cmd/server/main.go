package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rracer/server/internal/config"
	"github.com/rracer/server/internal/httpapi"
	"github.com/rracer/server/internal/logging"
	"github.com/rracer/server/internal/passage"
	"github.com/rracer/server/internal/registry"
	"github.com/rracer/server/internal/room"
)

func main() {
	os.Exit(run())
}

// run's int return is the exit code spec.md §6 documents: 0 normal,
// 1 fatal startup error -- generalized from the teacher's
// log.Fatal-on-ListenAndServe into a graceful-shutdown-aware main,
// grounded on the signal.NotifyContext/srv.Shutdown pattern common
// across the retrieval pack's other cmd/server entrypoints.
func run() int {
	log, err := logging.New(os.Getenv("ENV") != "production")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		return 1
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Errorw("failed to load config", "error", err)
		return 1
	}

	provider, err := buildPassageProvider(cfg, log)
	if err != nil {
		log.Errorw("failed to initialize passage provider", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	roomCfg := room.Config{
		HumanCap:          cfg.RoomHumanCap,
		BotFill:           cfg.RoomBotFill,
		CountdownDuration: cfg.CountdownDuration,
		PassageTimeout:    cfg.PassageTimeout,
		BroadcastBuffer:   cfg.BroadcastBuffer,
		RateLimitWindow:   100 * time.Millisecond,
		RateLimitMax:      20,
		TickInterval:      50 * time.Millisecond,
	}
	reg := registry.New(ctx, roomCfg, provider, cfg.RoomReapInterval, log)
	defer reg.Close()

	handler := httpapi.SetupRoutes(reg, cfg.StaticDir, log)
	addr := fmt.Sprintf("%s:%s", cfg.BindAddr, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Errorw("server error", "error", err)
			return 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
		return 1
	}
	log.Info("server exited gracefully")
	return 0
}

func buildPassageProvider(cfg config.Config, log *zap.SugaredLogger) (passage.Provider, error) {
	static := passage.NewStaticProvider(time.Now().UnixNano())
	if cfg.DatabaseURL == "" {
		return static, nil
	}
	store, err := passage.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return passage.NewComposite(store, static, log), nil
}
